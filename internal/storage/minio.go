package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/facturaIA/invoice-scanner/internal/models"
)

// Archive keeps the original document images in an S3-compatible bucket
type Archive struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// New connects to the object store and verifies the bucket exists
func New(ctx context.Context, config models.StorageConfig, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	// Verify bucket exists
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", config.Bucket)
	}

	logger.Info("Image archive ready",
		zap.String("endpoint", config.Endpoint),
		zap.String("bucket", config.Bucket))
	return &Archive{client: client, bucket: config.Bucket, logger: logger}, nil
}

// ObjectName builds the archive path: YYYY/MM/{scanID}{ext}
func ObjectName(now time.Time, scanID, contentType string) string {
	return fmt.Sprintf("%d/%02d/%s%s", now.Year(), now.Month(), scanID, GetFileExtension(contentType))
}

// UploadImage stores a scanned image and returns its bucket-qualified path
func (a *Archive) UploadImage(ctx context.Context, scanID string, image models.ImageInput) (string, error) {
	objectName := ObjectName(time.Now(), scanID, image.MIMEType)

	_, err := a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(image.Data), int64(len(image.Data)), minio.PutObjectOptions{
		ContentType:  image.MIMEType,
		UserMetadata: map[string]string{"original-filename": filepath.Base(image.Filename)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	a.logger.Debug("Image archived",
		zap.String("scan_id", scanID),
		zap.String("object", objectName),
		zap.Int("bytes", len(image.Data)))
	return a.bucket + "/" + objectName, nil
}

// GetPresignedURL generates a presigned URL for viewing an image
func (a *Archive) GetPresignedURL(ctx context.Context, objectPath string) (string, error) {
	url, err := a.client.PresignedGetObject(ctx, a.bucket, a.objectName(objectPath), 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// DeleteImage removes an image from storage
func (a *Archive) DeleteImage(ctx context.Context, objectPath string) error {
	return a.client.RemoveObject(ctx, a.bucket, a.objectName(objectPath), minio.RemoveObjectOptions{})
}

func (a *Archive) objectName(objectPath string) string {
	return strings.TrimPrefix(objectPath, a.bucket+"/")
}

// GetFileExtension extracts file extension from content type
func GetFileExtension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}

// DetectMIMEType infers a document's content type from its file extension,
// falling back to content sniffing.
func DetectMIMEType(filename string, data []byte) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".pdf":
		return "application/pdf"
	}
	return http.DetectContentType(data)
}

// Supported reports whether the analysis API accepts the content type.
func Supported(contentType string) bool {
	return GetFileExtension(contentType) != ".bin"
}

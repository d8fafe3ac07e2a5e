package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObjectName(t *testing.T) {
	now := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024/03/abc.jpg", ObjectName(now, "abc", "image/jpeg"))
	assert.Equal(t, "2024/03/abc.bin", ObjectName(now, "abc", "text/plain"))
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		filename string
		data     []byte
		want     string
	}{
		{"receipt.JPG", nil, "image/jpeg"},
		{"scan.jpeg", nil, "image/jpeg"},
		{"scan.png", nil, "image/png"},
		{"doc.pdf", nil, "application/pdf"},
		{"noext", []byte("\x89PNG\r\n\x1a\n0000"), "image/png"},
		{"noext", []byte("%PDF-1.4"), "application/pdf"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectMIMEType(tt.filename, tt.data), tt.filename)
	}
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("image/webp"))
	assert.False(t, Supported("text/plain; charset=utf-8"))
}

func TestArchiveObjectName(t *testing.T) {
	a := &Archive{bucket: "invoices"}
	assert.Equal(t, "2024/03/abc.jpg", a.objectName("invoices/2024/03/abc.jpg"))
	assert.Equal(t, "2024/03/abc.jpg", a.objectName("2024/03/abc.jpg"))
}

// Package logging builds the service's zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/facturaIA/invoice-scanner/internal/models"
)

// New returns a production JSON logger, or a console logger when
// config.Development is set. An empty level means info.
func New(config models.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if config.Development {
		zc = zap.NewDevelopmentConfig()
	}

	if config.Level != "" {
		level, err := zap.ParseAtomicLevel(config.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
		}
		zc.Level = level
	}

	return zc.Build()
}

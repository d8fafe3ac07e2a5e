package app

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/facturaIA/invoice-scanner/internal/config"
	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/usage"
)

func TestBuildWithoutOptionalServices(t *testing.T) {
	cfg := config.Defaults()
	cfg.AI.Gemini.APIKey = "test-key"

	a, err := Build(context.Background(), cfg, prometheus.NewRegistry(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "gemini", a.ProviderName())
	assert.Nil(t, a.Store)
	assert.Nil(t, a.Archive)
	assert.IsType(t, &usage.Memory{}, a.Usage)
	assert.False(t, a.Dispatcher.Enabled())
	assert.NotEmpty(t, a.Registry.PriorityNames())
}

func TestBuildRequiresAPIKey(t *testing.T) {
	cfg := config.Defaults()
	cfg.AI.DefaultProvider = "openai"

	_, err := Build(context.Background(), cfg, nil, zap.NewNop())
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfig))
}

func TestBuildRejectsMissingRegistryFile(t *testing.T) {
	cfg := config.Defaults()
	cfg.AI.Gemini.APIKey = "test-key"
	cfg.SupplierRegistry = t.TempDir() + "/missing.yaml"

	_, err := Build(context.Background(), cfg, nil, zap.NewNop())
	assert.Error(t, err)
}

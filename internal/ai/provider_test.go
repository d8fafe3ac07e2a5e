package ai

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/models"
	"github.com/facturaIA/invoice-scanner/internal/suppliers"
)

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	p, err := NewProvider(ctx, models.AIConfig{
		DefaultProvider: "gemini",
		Gemini:          models.GeminiConfig{APIKey: "k", Model: "gemini-2.0-flash-lite"},
	}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &GeminiREST{}, p)

	p, err = NewProvider(ctx, models.AIConfig{
		DefaultProvider: "openai",
		OpenAI:          models.OpenAIConfig{APIKey: "k", Model: "gpt-4o-mini"},
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = NewProvider(ctx, models.AIConfig{DefaultProvider: "gemini"}, zap.NewNop())
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfig))

	_, err = NewProvider(ctx, models.AIConfig{DefaultProvider: "llama"}, zap.NewNop())
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}

func TestBuildPromptListsRegistry(t *testing.T) {
	reg, err := suppliers.Default()
	require.NoError(t, err)

	prompt := BuildPrompt(reg)
	for _, name := range reg.PriorityNames() {
		assert.Contains(t, prompt, name)
	}
	for _, c := range reg.Categories {
		assert.Contains(t, prompt, string(c.Key))
		assert.Contains(t, prompt, c.DisplayName)
	}
	assert.Contains(t, prompt, "priority|fuel_station|supermarket|nursery|other")
	assert.NotContains(t, prompt, "%!")
}

func TestLoadPrompt(t *testing.T) {
	reg, err := suppliers.Default()
	require.NoError(t, err)

	builtin, err := LoadPrompt("", reg)
	require.NoError(t, err)
	assert.Equal(t, BuildPrompt(reg), builtin)

	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("  custom prompt\n"), 0o644))
	custom, err := LoadPrompt(path, reg)
	require.NoError(t, err)
	assert.Equal(t, "custom prompt", custom)

	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat(" ", 3)), 0o644))
	_, err = LoadPrompt(path, reg)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfig))

	_, err = LoadPrompt(filepath.Join(t.TempDir(), "missing.txt"), reg)
	assert.Error(t, err)
}

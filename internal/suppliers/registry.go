package suppliers

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/models"
)

//go:embed registry.yaml
var defaultRegistry []byte

// PrioritySupplier is an allow-listed supplier with optional alternate spellings
type PrioritySupplier struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// Category groups known chains and identifying keywords
type Category struct {
	Key         models.SupplierCategory `yaml:"key"`
	DisplayName string                  `yaml:"display_name"`
	Suppliers   []string                `yaml:"suppliers"`
	Keywords    []string                `yaml:"keywords"`
}

// Registry is the static supplier knowledge base. It is not modified after loading.
type Registry struct {
	PriorityDisplayName string             `yaml:"priority_display_name"`
	OtherDisplayName    string             `yaml:"other_display_name"`
	Priority            []PrioritySupplier `yaml:"priority"`
	Categories          []Category         `yaml:"categories"`
}

// Default returns the built-in registry
func Default() (*Registry, error) {
	return Parse(defaultRegistry)
}

// Load reads a registry file, or the built-in one when path is empty
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read supplier registry: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrRegistry.Code, apperrors.KindConfig, "failed to parse supplier registry")
	}
	if err := reg.validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *Registry) validate() error {
	invalid := func(format string, args ...any) error {
		return apperrors.New(apperrors.ErrRegistry.Code, apperrors.KindConfig, fmt.Sprintf(format, args...))
	}

	for i, p := range r.Priority {
		if Normalize(p.Name) == "" {
			return invalid("priority supplier %d has an empty name", i)
		}
		for _, alias := range p.Aliases {
			if Normalize(alias) == "" {
				return invalid("priority supplier %q has an empty alias", p.Name)
			}
		}
	}

	seen := make(map[models.SupplierCategory]bool)
	for _, c := range r.Categories {
		switch c.Key {
		case models.CategoryFuelStation, models.CategorySupermarket, models.CategoryNursery:
		default:
			return invalid("unsupported category key %q", c.Key)
		}
		if seen[c.Key] {
			return invalid("category %q declared twice", c.Key)
		}
		seen[c.Key] = true
	}
	return nil
}

// DisplayName returns the human-readable label of a category
func (r *Registry) DisplayName(category models.SupplierCategory) string {
	switch category {
	case models.CategoryPriority:
		return r.PriorityDisplayName
	case models.CategoryOther, "":
		return r.OtherDisplayName
	}
	for _, c := range r.Categories {
		if c.Key == category {
			return c.DisplayName
		}
	}
	return r.OtherDisplayName
}

// PriorityNames lists canonical priority supplier names in declaration order
func (r *Registry) PriorityNames() []string {
	names := make([]string, 0, len(r.Priority))
	for _, p := range r.Priority {
		names = append(names, p.Name)
	}
	return names
}

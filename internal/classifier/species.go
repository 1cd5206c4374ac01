package classifier

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed species.yaml
var defaultCatalog []byte

// Species is one class the model can predict
type Species struct {
	Label          string `yaml:"label"`
	ScientificName string `yaml:"scientific_name"`
}

// Catalog is the closed, ordered set of species labels. Index i matches
// output i of the model.
type Catalog struct {
	Species []Species `yaml:"species"`
}

// DefaultCatalog returns the catalog shipped with the binary
func DefaultCatalog() (*Catalog, error) {
	return parseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog from a YAML file, or the built-in one when path is empty
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read species file: %w", err)
	}
	return parseCatalog(data)
}

func parseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse species catalog: %w", err)
	}
	if len(c.Species) == 0 {
		return nil, fmt.Errorf("species catalog is empty")
	}
	seen := make(map[string]bool, len(c.Species))
	for i, s := range c.Species {
		if strings.TrimSpace(s.Label) == "" {
			return nil, fmt.Errorf("species entry %d has no label", i)
		}
		if seen[s.Label] {
			return nil, fmt.Errorf("duplicate species label %q", s.Label)
		}
		seen[s.Label] = true
	}
	return &c, nil
}

// Len returns the number of classes
func (c *Catalog) Len() int {
	return len(c.Species)
}

// Contains reports whether label is one of the known species
func (c *Catalog) Contains(label string) bool {
	for _, s := range c.Species {
		if s.Label == label {
			return true
		}
	}
	return false
}

// ScientificName returns the botanical name for label, or label itself when
// the catalog has none
func (c *Catalog) ScientificName(label string) string {
	for _, s := range c.Species {
		if s.Label == label && s.ScientificName != "" {
			return s.ScientificName
		}
	}
	return label
}

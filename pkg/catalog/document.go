package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// Document is the on-disk catalog format: products plus locale terms.
type Document struct {
	Terms    Terms     `yaml:"terms"`
	Products []Product `yaml:"products"`
}

// Default returns the built-in nine product catalog.
func Default() Document {
	doc, err := Parse(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded default is invalid: %v", err))
	}
	return doc
}

func LoadFile(path string) (Document, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Document{}, fmt.Errorf("catalog: path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return Document{}, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes and validates a YAML catalog document. A document without a
// terms section gets the default tables.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode yaml: %w", err)
	}
	seen := make(map[int]struct{}, len(doc.Products))
	for i := range doc.Products {
		p := &doc.Products[i]
		p.Name = strings.TrimSpace(p.Name)
		p.Category = strings.ToLower(strings.TrimSpace(p.Category))
		p.Color = strings.ToLower(strings.TrimSpace(p.Color))
		p.ImageURL = strings.TrimSpace(p.ImageURL)
		if p.Name == "" {
			return Document{}, fmt.Errorf("products[%d].name is required", i)
		}
		if p.Price < 0 {
			return Document{}, fmt.Errorf("products[%d].price must be >= 0", i)
		}
		if _, dup := seen[p.ID]; dup {
			return Document{}, fmt.Errorf("products[%d].id %d is duplicated", i, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	if doc.Terms.Categories == nil && doc.Terms.Colors == nil {
		doc.Terms = DefaultTerms()
	} else {
		doc.Terms = NewTerms(doc.Terms.Categories, doc.Terms.Colors)
	}
	return doc, nil
}

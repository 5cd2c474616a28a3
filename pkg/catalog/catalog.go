package catalog

import (
	"context"
	"fmt"
	"strings"
)

// DefaultPlaceholderImage is shown when a search has no matches.
const DefaultPlaceholderImage = "/images/default-product.jpg"

type Product struct {
	ID       int     `json:"id" yaml:"id"`
	Name     string  `json:"name" yaml:"name"`
	Category string  `json:"category" yaml:"category"`
	Color    string  `json:"color" yaml:"color"`
	Price    float64 `json:"price" yaml:"price"`
	ImageURL string  `json:"image_url" yaml:"image_url"`
}

// Criteria is a resolved filter. Empty strings and a nil MaxPrice mean "no
// constraint".
type Criteria struct {
	Category string   `json:"category,omitempty"`
	Color    string   `json:"color,omitempty"`
	MaxPrice *float64 `json:"max_price,omitempty"`
}

func (c Criteria) Clone() Criteria {
	out := c
	if c.MaxPrice != nil {
		v := *c.MaxPrice
		out.MaxPrice = &v
	}
	return out
}

func (c Criteria) String() string {
	parts := make([]string, 0, 3)
	if c.Category != "" {
		parts = append(parts, "category="+c.Category)
	}
	if c.Color != "" {
		parts = append(parts, "color="+c.Color)
	}
	if c.MaxPrice != nil {
		parts = append(parts, fmt.Sprintf("max_price=%.2f", *c.MaxPrice))
	}
	if len(parts) == 0 {
		return "(none)"
	}
	return strings.Join(parts, " ")
}

// Provider answers catalog queries. Implementations own their locale term
// tables.
type Provider interface {
	FilterCatalog(ctx context.Context, c Criteria) ([]Product, error)
	Terms() Terms
}

// FirstImage returns the image of the first product, or placeholder.
func FirstImage(products []Product, placeholder string) string {
	if len(products) > 0 && strings.TrimSpace(products[0].ImageURL) != "" {
		return products[0].ImageURL
	}
	if strings.TrimSpace(placeholder) == "" {
		return DefaultPlaceholderImage
	}
	return placeholder
}

func cloneProducts(in []Product) []Product {
	if in == nil {
		return nil
	}
	out := make([]Product, len(in))
	copy(out, in)
	return out
}

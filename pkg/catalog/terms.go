package catalog

import (
	"encoding/json"
	"math"
	"strings"
)

// Terms maps locale-specific category and color words onto catalog terms.
type Terms struct {
	Categories map[string]string `json:"categories" yaml:"categories"`
	Colors     map[string]string `json:"colors" yaml:"colors"`
}

// DefaultTerms is the Spanish to English table the shipped catalog uses.
func DefaultTerms() Terms {
	return NewTerms(
		map[string]string{
			"zapatillas":        "sneakers",
			"zapatilla":         "sneakers",
			"tenis":             "sneakers",
			"calzado deportivo": "sneakers",
			"camisas":           "shirts",
			"camisa":            "shirts",
			"playera":           "shirts",
			"polera":            "shirts",
			"remera":            "shirts",
			"chaquetas":         "jackets",
			"chaqueta":          "jackets",
			"abrigo":            "jackets",
			"chamarra":          "jackets",
		},
		map[string]string{
			"rojas":   "red",
			"rojo":    "red",
			"azules":  "blue",
			"azul":    "blue",
			"blancas": "white",
			"blanco":  "white",
			"negras":  "black",
			"negro":   "black",
			"rosadas": "pink",
			"rosa":    "pink",
			"rosado":  "pink",
		},
	)
}

// NewTerms copies the tables with lowercased keys.
func NewTerms(categories, colors map[string]string) Terms {
	return Terms{Categories: lowerKeys(categories), Colors: lowerKeys(colors)}
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = strings.ToLower(v)
	}
	return out
}

// Category maps a spoken category onto a catalog category. Unknown words
// pass through lowercased.
func (t Terms) Category(in string) string { return lookup(t.Categories, in) }

// Color maps a spoken color onto a catalog color. Unknown words pass
// through lowercased.
func (t Terms) Color(in string) string { return lookup(t.Colors, in) }

func lookup(table map[string]string, in string) string {
	lower := strings.ToLower(in)
	if v, ok := table[lower]; ok {
		return v
	}
	for k, v := range table {
		if strings.EqualFold(k, in) {
			return strings.ToLower(v)
		}
	}
	return lower
}

// CriteriaFromArguments builds a filter from normalized tool-call
// arguments. Missing or mistyped fields impose no constraint; a negative
// max_price is ignored, zero is a valid bound.
func CriteriaFromArguments(args map[string]any, terms Terms) Criteria {
	var c Criteria
	if s, ok := args["category"].(string); ok && s != "" {
		c.Category = terms.Category(s)
	}
	if s, ok := args["color"].(string); ok && s != "" {
		c.Color = terms.Color(s)
	}
	if v, ok := number(args["max_price"]); ok && v >= 0 {
		c.MaxPrice = &v
	}
	return c
}

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

package protocol

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

const ToolFilterProducts = "filter_products"

// Tool is one function the model may call, in the realtime session.update
// shape.
type Tool struct {
	Type        string             `json:"type"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

// FilterProductsTool describes the catalog filter capability.
func FilterProductsTool() Tool {
	return Tool{
		Type:        "function",
		Name:        ToolFilterProducts,
		Description: "Filters products in an online store.",
		Parameters: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"category": {Type: "string", Description: "Product category, e.g. shoes, shirts"},
				"color":    {Type: "string", Description: "Color of the product"},
				"max_price": {
					Type:        "number",
					Description: "Maximum price in USD",
				},
			},
			Required: []string{"category"},
		},
	}
}

// ArgumentValidator checks normalized arguments against a tool's parameter
// schema.
type ArgumentValidator struct {
	resolved *jsonschema.Resolved
}

func NewArgumentValidator(tool Tool) (*ArgumentValidator, error) {
	if tool.Parameters == nil {
		return &ArgumentValidator{}, nil
	}
	resolved, err := tool.Parameters.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve %s schema: %w", tool.Name, err)
	}
	return &ArgumentValidator{resolved: resolved}, nil
}

func (v *ArgumentValidator) Validate(args map[string]any) error {
	if v == nil || v.resolved == nil {
		return nil
	}
	return v.resolved.Validate(args)
}

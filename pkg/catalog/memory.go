package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultPredicate selects products matching every present criterion.
// Price bounds are inclusive.
const DefaultPredicate = `(WantCategory == "" || Category == WantCategory) && ` +
	`(WantColor == "" || Color == WantColor) && ` +
	`(!HasMaxPrice || Price <= MaxPrice)`

// predicateEnv is the variable set visible to catalog predicates.
type predicateEnv struct {
	ID       int
	Name     string
	Category string
	Color    string
	Price    float64

	WantCategory string
	WantColor    string
	MaxPrice     float64
	HasMaxPrice  bool
}

func newPredicateEnv(p Product, c Criteria) predicateEnv {
	env := predicateEnv{
		ID:           p.ID,
		Name:         p.Name,
		Category:     strings.ToLower(p.Category),
		Color:        strings.ToLower(p.Color),
		Price:        p.Price,
		WantCategory: strings.ToLower(c.Category),
		WantColor:    strings.ToLower(c.Color),
	}
	if c.MaxPrice != nil {
		env.MaxPrice = *c.MaxPrice
		env.HasMaxPrice = true
	}
	return env
}

// CompilePredicate type-checks a boolean expression over product and
// criteria fields.
func CompilePredicate(source string) (*vm.Program, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("catalog: empty predicate")
	}
	program, err := expr.Compile(source, expr.Env(predicateEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("catalog: predicate compile error: %w", err)
	}
	return program, nil
}

// Memory is an in-process catalog that can be swapped atomically on reload.
type Memory struct {
	mu       sync.RWMutex
	products []Product
	terms    Terms
	program  *vm.Program
}

type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	predicate string
}

// WithPredicate replaces DefaultPredicate.
func WithPredicate(source string) MemoryOption {
	return func(o *memoryOptions) { o.predicate = source }
}

func NewMemory(doc Document, opts ...MemoryOption) (*Memory, error) {
	o := memoryOptions{predicate: DefaultPredicate}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	program, err := CompilePredicate(o.predicate)
	if err != nil {
		return nil, err
	}
	m := &Memory{program: program}
	m.Replace(doc)
	return m, nil
}

// Replace swaps products and terms in one step.
func (m *Memory) Replace(doc Document) {
	terms := doc.Terms
	if terms.Categories == nil && terms.Colors == nil {
		terms = DefaultTerms()
	}
	m.mu.Lock()
	m.products = cloneProducts(doc.Products)
	m.terms = terms
	m.mu.Unlock()
}

func (m *Memory) Terms() Terms {
	if m == nil {
		return DefaultTerms()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.terms
}

func (m *Memory) Products() []Product {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneProducts(m.products)
}

func (m *Memory) FilterCatalog(ctx context.Context, c Criteria) ([]Product, error) {
	if m == nil {
		return nil, fmt.Errorf("catalog: nil provider")
	}
	m.mu.RLock()
	products := m.products
	program := m.program
	m.mu.RUnlock()

	out := make([]Product, 0, len(products))
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := expr.Run(program, newPredicateEnv(p, c))
		if err != nil {
			return nil, fmt.Errorf("catalog: evaluate predicate for product %d: %w", p.ID, err)
		}
		if ok, _ := res.(bool); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

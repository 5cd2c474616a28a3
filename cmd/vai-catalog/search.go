package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-catalog/pkg/catalog"
)

type searchOptions struct {
	category string
	color    string
	maxPrice string
}

func newSearchCmd(logger func() *slog.Logger, deps cliDeps) *cobra.Command {
	var opts searchOptions
	cmd := &cobra.Command{
		Use:     "search",
		Short:   "Query the catalog the way the voice tool does",
		Example: `  vai-catalog search --category zapatillas --color rojas --max-price 100`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), logger(), cmd.OutOrStdout(), deps, opts)
		},
	}
	cmd.Flags().StringVar(&opts.category, "category", "", "Category in Spanish or English")
	cmd.Flags().StringVar(&opts.color, "color", "", "Color in Spanish or English")
	cmd.Flags().StringVar(&opts.maxPrice, "max-price", "", "Inclusive price ceiling")
	return cmd
}

func runSearch(ctx context.Context, logger *slog.Logger, out io.Writer, deps cliDeps, opts searchOptions) error {
	if deps.loadConfig == nil || deps.buildServices == nil {
		return errors.New("missing dependencies")
	}

	var maxPrice *float64
	if raw := strings.TrimSpace(opts.maxPrice); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("--max-price must be a number: %w", err)
		}
		maxPrice = &v
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.CatalogWatch = false

	svc, err := deps.buildServices(ctx, cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer func() { _ = svc.Close(context.Background()) }()

	products, criteria, err := svc.app.Search(ctx, opts.category, opts.color, maxPrice)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if products == nil {
		products = []catalog.Product{}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Criteria catalog.Criteria  `json:"criteria"`
		Products []catalog.Product `json:"products"`
		Count    int               `json:"count"`
	}{Criteria: criteria, Products: products, Count: len(products)})
}

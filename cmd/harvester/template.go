// cmd/harvester/template.go
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/valpere/SiteHarvester/internal/config"
	"github.com/valpere/SiteHarvester/internal/site"
)

func newTemplateCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Print a starter config or sites file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch kind {
			case "config":
				return config.SaveToWriter(config.Default(), out)
			case "site":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(siteTemplate()); err != nil {
					return err
				}
				return enc.Close()
			}
			return fmt.Errorf("unknown template type %q (want config or site)", kind)
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", "site", "template type: config, site")
	return cmd
}

func siteTemplate() site.File {
	def := site.Definition{
		ID:        "example-shop",
		Name:      "Example Shop",
		BaseURL:   "https://shop.example.com",
		Currency:  "EUR",
		RateLimit: 2,
		Pagination: site.PaginationConfig{
			Strategy:      site.StrategyLoadMore,
			LoadMore:      "button.load-more",
			SettleTimeout: 10 * time.Second,
		},
		List: site.ListConfig{
			Ready: ".product-grid",
			Item:  ".product-card",
			Link:  site.Field{Selector: "a.product-link", Attr: "href"},
			Fields: map[string]site.Field{
				"name":  {Selector: ".product-name"},
				"price": {Selector: ".price"},
				"image": {Selector: "img", Attr: "src"},
			},
		},
		Detail: site.DetailConfig{
			Ready: ".product-detail",
			Fields: map[string]site.Field{
				"sku":         {Selector: "[data-sku]", Attr: "data-sku"},
				"name":        {Selector: "h1"},
				"price":       {Selector: ".price"},
				"description": {Selector: ".description"},
				"images":      {Selector: ".gallery img", Attr: "src", Multiple: true},
			},
			RequiredFields: []string{"sku", "name", "price"},
		},
		URLPatterns: site.URLPatterns{
			Detail: []string{`/p/[^/]+$`},
			Search: []string{`/search`},
		},
		Search: site.SearchConfig{URL: "https://shop.example.com/search?q={query}"},
	}
	return site.File{Sites: []site.Definition{def}}
}

// internal/extract/merge.go
package extract

import (
	"strings"

	"github.com/valpere/SiteHarvester/internal/site"
	"github.com/valpere/SiteHarvester/pkg/types"
)

// Merge combines a list-stage candidate with its detail-stage record. Detail
// values win on conflict; list values survive where the detail is empty.
// Neither input is modified.
func Merge(list, detail *types.Record) *types.Record {
	if list == nil {
		return detail.Clone()
	}
	if detail == nil {
		return list.Clone()
	}

	out := detail.Clone()
	out.ExternalKey = pick(detail.ExternalKey, list.ExternalKey)
	out.URL = pick(detail.URL, list.URL)
	out.Site = pick(detail.Site, list.Site)
	out.Name = pick(detail.Name, list.Name)
	out.Brand = pick(detail.Brand, list.Brand)
	out.Price = pick(detail.Price, list.Price)
	out.Currency = pick(detail.Currency, list.Currency)
	out.Thumbnail = pick(detail.Thumbnail, list.Thumbnail)
	out.Category = pick(detail.Category, list.Category)
	out.Gender = pick(detail.Gender, list.Gender)
	out.Position = pick(detail.Position, list.Position)
	out.Description = pick(detail.Description, list.Description)
	out.Composition = pick(detail.Composition, list.Composition)
	out.SKU = pick(detail.SKU, list.SKU)

	out.Sizes = pickSlice(out.Sizes, list.Sizes)
	out.Tags = pickSlice(out.Tags, list.Tags)
	out.Breadcrumbs = pickSlice(out.Breadcrumbs, list.Breadcrumbs)
	out.Images = pickSlice(out.Images, list.Images)

	if len(list.Attributes) > 0 {
		if out.Attributes == nil {
			out.Attributes = make(map[string]string, len(list.Attributes))
		}
		for k, v := range list.Attributes {
			if _, ok := out.Attributes[k]; !ok {
				out.Attributes[k] = v
			}
		}
	}
	for _, w := range list.Warnings {
		out.AddWarning(w)
	}

	if out.ExtractedAt.IsZero() {
		out.ExtractedAt = list.ExtractedAt
	}
	out.Stage = types.StageDetail
	return out
}

func pick(preferred, fallback string) string {
	if strings.TrimSpace(preferred) != "" {
		return preferred
	}
	return fallback
}

func pickSlice(preferred, fallback []string) []string {
	if len(preferred) > 0 {
		return preferred
	}
	if len(fallback) == 0 {
		return nil
	}
	return append([]string(nil), fallback...)
}

// CleanBreadcrumbs trims crumbs, drops a leading "Home" style crumb, drops
// crumbs naming the brand and removes duplicates, keeping the first.
func CleanBreadcrumbs(crumbs []string, brand string) []string {
	brandKey := site.Fold(brand)
	seen := make(map[string]bool, len(crumbs))

	var out []string
	for _, c := range crumbs {
		c = strings.Trim(site.CleanText(c), " /›>»|")
		if c == "" {
			continue
		}
		key := site.Fold(c)
		// leading means before any kept crumb, whatever blanks came first
		if len(out) == 0 && isHomeCrumb(key) {
			continue
		}
		if brandKey != "" && key == brandKey {
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// isHomeCrumb matches "Home", "Homepage" and "<Category> Home"
func isHomeCrumb(key string) bool {
	tokens := site.Tokens(key)
	if len(tokens) == 0 {
		return false
	}
	last := tokens[len(tokens)-1]
	return last == "home" || last == "homepage"
}

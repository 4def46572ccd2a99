// pkg/types/record.go
package types

import (
	"strings"
	"time"
)

// RecordStage tells how far a record has been extracted
type RecordStage string

const (
	StageList   RecordStage = "list"
	StageDetail RecordStage = "detail"
)

// Record is a business record discovered on a site. A list-stage record is a
// candidate; once its detail page is processed it becomes a detail record.
type Record struct {
	ExternalKey string            `json:"externalKey"`
	URL         string            `json:"url"`
	Site        string            `json:"site"`
	Stage       RecordStage       `json:"stage"`
	Name        string            `json:"name,omitempty"`
	Brand       string            `json:"brand,omitempty"`
	Price       string            `json:"price,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	Thumbnail   string            `json:"thumbnail,omitempty"`
	Sizes       []string          `json:"sizes,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Category    string            `json:"category,omitempty"`
	Gender      string            `json:"gender,omitempty"`
	Position    string            `json:"position,omitempty"`
	Description string            `json:"description,omitempty"`
	Composition string            `json:"composition,omitempty"`
	Breadcrumbs []string          `json:"breadcrumbs,omitempty"`
	SKU         string            `json:"sku,omitempty"`
	Images      []string          `json:"images,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
	ExtractedAt time.Time         `json:"extractedAt"`
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Sizes = cloneStrings(r.Sizes)
	c.Tags = cloneStrings(r.Tags)
	c.Breadcrumbs = cloneStrings(r.Breadcrumbs)
	c.Images = cloneStrings(r.Images)
	c.Warnings = cloneStrings(r.Warnings)
	if r.Attributes != nil {
		c.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// AddWarning appends a warning once
func (r *Record) AddWarning(msg string) {
	for _, w := range r.Warnings {
		if w == msg {
			return
		}
	}
	r.Warnings = append(r.Warnings, msg)
}

// Row flattens the record into a column map for tabular export
func (r *Record) Row() map[string]interface{} {
	row := map[string]interface{}{
		"external_key": r.ExternalKey,
		"url":          r.URL,
		"site":         r.Site,
		"stage":        string(r.Stage),
		"name":         r.Name,
		"brand":        r.Brand,
		"price":        r.Price,
		"currency":     r.Currency,
		"thumbnail":    r.Thumbnail,
		"sizes":        strings.Join(r.Sizes, "|"),
		"tags":         strings.Join(r.Tags, "|"),
		"category":     r.Category,
		"gender":       r.Gender,
		"position":     r.Position,
		"description":  r.Description,
		"composition":  r.Composition,
		"breadcrumbs":  strings.Join(r.Breadcrumbs, " > "),
		"sku":          r.SKU,
		"images":       strings.Join(r.Images, "|"),
		"warnings":     strings.Join(r.Warnings, "; "),
		"extracted_at": r.ExtractedAt.Format(time.RFC3339),
	}
	for k, v := range r.Attributes {
		row["attr_"+k] = v
	}
	return row
}

// RowColumns is the stable column order used by tabular writers
func RowColumns() []string {
	return []string{
		"external_key", "url", "site", "stage", "name", "brand", "price", "currency",
		"thumbnail", "sizes", "tags", "category", "gender", "position", "description",
		"composition", "breadcrumbs", "sku", "images", "warnings", "extracted_at",
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

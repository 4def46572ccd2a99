// internal/extract/pipeline.go
package extract

import (
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/SiteHarvester/internal/errors"
	"github.com/valpere/SiteHarvester/internal/monitoring"
	"github.com/valpere/SiteHarvester/internal/site"
	"github.com/valpere/SiteHarvester/internal/utils"
	"github.com/valpere/SiteHarvester/pkg/types"
)

// Pipeline turns page snapshots into records for one run. It owns the
// run-local seen set, so a Pipeline must never be shared between runs.
type Pipeline struct {
	adapter site.Adapter
	seen    *SeenSet
	logger  utils.Logger
	metrics *monitoring.Metrics

	mu         sync.Mutex
	batch      map[string]types.BatchAttributes
	discovered int
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger
func WithLogger(l utils.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *monitoring.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a pipeline over adapter
func New(adapter site.Adapter, opts ...Option) *Pipeline {
	p := &Pipeline{
		adapter: adapter,
		seen:    NewSeenSet(),
		logger:  utils.NewNopLogger(),
		batch:   make(map[string]types.BatchAttributes),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Discovered returns the number of distinct listing cards accepted so far
func (p *Pipeline) Discovered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discovered
}

// BatchAttributes returns the attributes inferred from seedURL, computed once
// per seed
func (p *Pipeline) BatchAttributes(seedURL string) types.BatchAttributes {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.batch[seedURL]; ok {
		return b
	}
	b := p.adapter.InferBatchAttributes(seedURL)
	p.batch[seedURL] = b
	return b
}

// ExtractList returns the cards of a listing page not seen before in this
// run. A card is a duplicate when either its external key or its explicit
// position within the seed was already accepted. Batch attributes of the seed
// fill gender and category where the card has none.
func (p *Pipeline) ExtractList(doc *goquery.Document, pageURL, seedURL string) []*types.Record {
	if seedURL == "" {
		seedURL = pageURL
	}
	batch := p.BatchAttributes(seedURL)
	siteID := p.adapter.Definition().ID

	var out []*types.Record
	dupes := 0
	for _, rec := range p.adapter.ExtractList(doc, pageURL) {
		keys := []string{"key:" + rec.ExternalKey}
		if rec.Position != "" {
			keys = append(keys, "pos:"+seedURL+"#"+rec.Position)
		}
		if !p.seen.Add(keys...) {
			dupes++
			continue
		}
		applyBatch(rec, batch)
		out = append(out, rec)
	}

	if dupes > 0 {
		p.logger.Debugf("Skipped %d duplicate cards on %s", dupes, pageURL)
	}
	p.mu.Lock()
	p.discovered += len(out)
	p.mu.Unlock()
	p.metrics.RecordsExtracted(siteID, string(types.StageList), len(out))
	return out
}

// ExtractDetail reads a product page and merges it with the candidate found
// on the listing. Missing required fields become warnings on the record.
func (p *Pipeline) ExtractDetail(doc *goquery.Document, pageURL string, candidate *types.Record) *types.Record {
	def := p.adapter.Definition()
	detail := p.adapter.ExtractDetail(doc, pageURL)

	brand := detail.Brand
	if brand == "" && candidate != nil {
		brand = candidate.Brand
	}
	detail.Breadcrumbs = CleanBreadcrumbs(detail.Breadcrumbs, brand)

	rec := Merge(candidate, detail)
	if candidate != nil && candidate.ExternalKey != "" {
		rec.ExternalKey = candidate.ExternalKey
	}

	for _, field := range def.Detail.RequiredFields {
		if fieldValue(rec, field) != "" {
			continue
		}
		ferr := errors.NewFieldMissing(field, pageURL)
		rec.AddWarning(ferr.Message)
		p.logger.WithFields(map[string]interface{}{
			"field": field,
			"url":   pageURL,
			"code":  ferr.Code,
		}).Warn("Expected field missing on detail page")
		p.metrics.FieldMissing(def.ID, field)
	}

	p.metrics.RecordsExtracted(def.ID, string(types.StageDetail), 1)
	return rec
}

func applyBatch(rec *types.Record, batch types.BatchAttributes) {
	if rec.Gender == "" {
		rec.Gender = batch.Gender
	}
	if rec.Category == "" {
		rec.Category = batch.Category
	}
}

func fieldValue(rec *types.Record, field string) string {
	switch field {
	case "sku":
		return rec.SKU
	case "name":
		return rec.Name
	case "price":
		return rec.Price
	case "brand":
		return rec.Brand
	case "currency":
		return rec.Currency
	case "description":
		return rec.Description
	case "composition":
		return rec.Composition
	case "category":
		return rec.Category
	case "gender":
		return rec.Gender
	case "thumbnail":
		return rec.Thumbnail
	case "images":
		return first(rec.Images)
	case "sizes":
		return first(rec.Sizes)
	default:
		return rec.Attributes[field]
	}
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

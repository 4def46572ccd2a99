// internal/engine/handlers.go
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/SiteHarvester/internal/browser"
	"github.com/valpere/SiteHarvester/internal/errors"
	"github.com/valpere/SiteHarvester/internal/session"
	"github.com/valpere/SiteHarvester/internal/utils"
	"github.com/valpere/SiteHarvester/pkg/types"
)

const maxImageBytes = 20 << 20

// handle routes a request to the handler of its label
func (r *run) handle(ctx context.Context, req *types.LabeledRequest) (HandlerResult, error) {
	switch req.Label {
	case types.LabelLogin:
		return r.handleLogin(ctx, req)
	case types.LabelSearch, types.LabelList:
		return r.handleList(ctx, req)
	case types.LabelDetail:
		return r.handleDetail(ctx, req)
	case types.LabelImageDownload:
		return r.handleImage(ctx, req)
	default:
		return HandlerResult{}, fmt.Errorf("unknown label %q", req.Label)
	}
}

func (r *run) handleLogin(ctx context.Context, req *types.LabeledRequest) (HandlerResult, error) {
	page, err := r.pool.Acquire(ctx)
	if err != nil {
		return HandlerResult{}, err
	}
	defer page.Close()

	if _, err := r.e.sessions.Login(ctx, page, r.def, r.exec.Credentials()); err != nil {
		if errors.IsFatal(err) {
			return HandlerResult{}, err
		}
		return HandlerResult{}, errors.NewAuthError("login failed", err)
	}
	if req.UserData.Relogin {
		r.logger.Info("Logged in again, resuming parked requests")
		return HandlerResult{}, nil
	}
	r.logger.Info("Logged in, seeding start requests")
	return HandlerResult{Children: r.reserveDetailSeeds(r.seeds)}, nil
}

// open navigates page to target under the site rate limit and checks the
// result for blocks and for a lost session. It returns the final URL after
// redirects.
func (r *run) open(ctx context.Context, page browser.Page, target string) (string, error) {
	if err := r.e.limiters.Wait(ctx, r.def.ID); err != nil {
		return "", err
	}
	if err := r.e.simulator.Prepare(ctx); err != nil {
		return "", err
	}
	if err := page.Navigate(ctx, target); err != nil {
		return "", err
	}
	if err := r.guard(ctx, page, target); err != nil {
		return "", err
	}

	final, err := page.URL(ctx)
	if err != nil || final == "" {
		final = target
	}
	if r.authenticated() {
		if reason := session.LoginWall(ctx, page, r.def, final); reason != "" {
			return "", errors.NewSessionExpired(target, reason)
		}
	}

	if err := r.e.simulator.Interact(ctx, page); err != nil && ctx.Err() == nil {
		r.logger.Debugf("Interaction on %s failed: %v", target, err)
	}
	return final, nil
}

// guard checks the current document for a block
func (r *run) guard(ctx context.Context, page browser.Page, target string) error {
	if err := r.e.simulator.Guard(ctx, page); err != nil {
		r.blocked(ctx, page, target, err)
		return err
	}
	return nil
}

// blocked records a block and keeps a screenshot of the page
func (r *run) blocked(ctx context.Context, page browser.Page, target string, err error) {
	var serr *errors.StructuredError
	if !stderrors.As(err, &serr) || serr.Code != errors.CodeBlocked {
		return
	}
	kind, _ := serr.Context["kind"].(string)
	r.e.metrics.PageBlocked(r.def.ID, kind)

	png, shotErr := page.Screenshot(ctx)
	if shotErr != nil || len(png) == 0 {
		return
	}
	name := fmt.Sprintf("blocked_%s_%d", utils.HashKey(target), time.Now().UnixNano())
	if path, err := r.store.SaveScreenshot(name, png); err == nil {
		r.logger.WithField("path", path).Warnf("Blocked on %s", target)
	}
}

func (r *run) document(ctx context.Context, page browser.Page) (*goquery.Document, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return doc, nil
}

func (r *run) waitReady(ctx context.Context, page browser.Page, selector, pageURL string) error {
	if selector == "" {
		return nil
	}
	if err := page.WaitVisible(ctx, selector, r.e.cfg.ActionTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.NewNavigationTimeout(pageURL, err)
	}
	return nil
}

// submitSearch fills the site search form when no search URL template exists
func (r *run) submitSearch(ctx context.Context, page browser.Page, query string) error {
	search := r.def.Search
	if search.Input == "" {
		return nil
	}
	if err := page.Type(ctx, search.Input, query); err != nil {
		return fmt.Errorf("failed to type search query: %w", err)
	}
	if search.Submit != "" {
		if err := page.Click(ctx, search.Submit); err != nil {
			return fmt.Errorf("failed to submit search: %w", err)
		}
	}
	return nil
}

// handleList extracts product candidates from a listing and pages through
// it while the budget allows. In-place strategies loop on the same tab;
// navigating strategies hand the next page back as a child request.
func (r *run) handleList(ctx context.Context, req *types.LabeledRequest) (HandlerResult, error) {
	var res HandlerResult

	page, err := r.pool.Acquire(ctx)
	if err != nil {
		return res, err
	}
	defer page.Close()

	pageURL, err := r.open(ctx, page, req.URL)
	if err != nil {
		return res, err
	}
	if req.Label == types.LabelSearch && r.def.Search.URL == "" {
		if err := r.submitSearch(ctx, page, req.UserData.Query); err != nil {
			return res, err
		}
		if u, err := page.URL(ctx); err == nil && u != "" {
			pageURL = u
		}
	}
	if err := r.waitReady(ctx, page, r.def.List.Ready, pageURL); err != nil {
		return res, err
	}

	seed := req.UserData.SeedKey
	pageNum := req.UserData.Page
	if pageNum < 1 {
		pageNum = 1
	}
	inPlace := false

	for {
		doc, err := r.document(ctx, page)
		if err != nil {
			if len(res.Children) > 0 || len(res.Records) > 0 {
				res.Warnings = append(res.Warnings, err.Error())
				return res, nil
			}
			return res, err
		}

		candidates := r.pipeline.ExtractList(doc, pageURL, req.UserData.SeedURL)
		if inPlace || pageNum > 1 {
			r.budget.RecordAttempt(seed, len(candidates))
		}
		r.accept(ctx, req, candidates, &res)

		more, reason := r.budget.ShouldContinue(seed, 0, r.strategy.HasNext(doc))
		if !more {
			r.logger.WithFields(map[string]interface{}{
				"seed":   seed,
				"page":   pageNum,
				"reason": string(reason),
			}).Debug("Pagination stopped")
			return res, nil
		}

		// in-place strategies click on the live tab, which is a request to
		// the site like any navigation
		if err := r.e.limiters.Wait(ctx, r.def.ID); err != nil {
			return res, err
		}
		next, err := r.strategy.Advance(ctx, page, pageURL, doc, pageNum)
		if err != nil {
			if len(res.Children) > 0 || len(res.Records) > 0 {
				res.Warnings = append(res.Warnings, "pagination stopped: "+err.Error())
				return res, nil
			}
			return res, err
		}
		if next != "" {
			child := types.NewRequest(r.exec.ExecutionID(), req.Label, next)
			child.UserData.SeedKey = seed
			child.UserData.SeedURL = req.UserData.SeedURL
			child.UserData.Batch = req.UserData.Batch
			child.UserData.Query = req.UserData.Query
			child.UserData.Page = pageNum + 1
			res.Children = append(res.Children, child)
			return res, nil
		}
		if err := r.guard(ctx, page, pageURL); err != nil {
			if len(res.Children) > 0 || len(res.Records) > 0 {
				res.Warnings = append(res.Warnings, "pagination stopped: "+err.Error())
				return res, nil
			}
			return res, err
		}
		inPlace = true
		pageNum++
	}
}

// accept filters candidates against the dedup service and the budget, then
// turns the survivors into detail requests or records
func (r *run) accept(ctx context.Context, req *types.LabeledRequest, candidates []*types.Record, res *HandlerResult) {
	// nothing could be reserved, so the existence check would be wasted
	if len(candidates) == 0 || r.budget.Exhausted() {
		return
	}
	urls := make([]string, len(candidates))
	for i, c := range candidates {
		urls[i] = c.URL
	}
	fresh := make(map[string]struct{}, len(urls))
	for _, u := range r.gateway.Filter(ctx, r.def.ID, urls) {
		fresh[u] = struct{}{}
	}

	kept := make([]*types.Record, 0, len(fresh))
	for _, c := range candidates {
		if _, ok := fresh[c.URL]; ok {
			kept = append(kept, c)
		}
	}

	seed := req.UserData.SeedKey
	granted := r.budget.Reserve(seed, len(kept))
	for _, c := range kept[:granted] {
		if !r.opts.IncludeDetails {
			r.budget.MarkProcessed(seed)
			res.Records = append(res.Records, c)
			continue
		}
		child := types.NewRequest(r.exec.ExecutionID(), types.LabelDetail, c.URL)
		child.UserData.SeedKey = seed
		child.UserData.SeedURL = req.UserData.SeedURL
		child.UserData.Batch = req.UserData.Batch
		child.UserData.Candidate = c
		res.Children = append(res.Children, child)
	}
}

func (r *run) handleDetail(ctx context.Context, req *types.LabeledRequest) (HandlerResult, error) {
	var res HandlerResult

	page, err := r.pool.Acquire(ctx)
	if err != nil {
		return res, err
	}
	defer page.Close()

	pageURL, err := r.open(ctx, page, req.URL)
	if err != nil {
		return res, err
	}
	if err := r.waitReady(ctx, page, r.def.Detail.Ready, pageURL); err != nil {
		return res, err
	}
	if w := r.revealSizes(ctx, page); w != "" {
		res.Warnings = append(res.Warnings, w)
	}

	doc, err := r.document(ctx, page)
	if err != nil {
		return res, err
	}
	rec := r.pipeline.ExtractDetail(doc, pageURL, req.UserData.Candidate)
	r.budget.MarkProcessed(req.UserData.SeedKey)
	res.Records = append(res.Records, rec)

	if r.opts.DownloadImages {
		images := rec.Images
		if len(images) > r.e.cfg.MaxImagesPerRecord {
			images = images[:r.e.cfg.MaxImagesPerRecord]
		}
		for i, img := range images {
			child := types.NewRequest(r.exec.ExecutionID(), types.LabelImageDownload, img)
			child.UserData.SeedKey = req.UserData.SeedKey
			child.UserData.RecordKey = rec.ExternalKey
			child.UserData.ImageIndex = i
			res.Children = append(res.Children, child)
		}
	}
	return res, nil
}

// revealSizes opens the size picker and waits for its options. Failures
// degrade to a warning.
func (r *run) revealSizes(ctx context.Context, page browser.Page) string {
	trigger, option := r.def.Detail.SizeTrigger, r.def.Detail.SizeOption
	if trigger == "" || option == "" {
		return ""
	}
	if n, err := page.Count(ctx, trigger); err != nil || n == 0 {
		return ""
	}
	if err := page.Click(ctx, trigger); err != nil {
		return "size selector click failed: " + err.Error()
	}
	err := utils.PollUntil(ctx, r.e.cfg.PollInterval, r.e.cfg.ActionTimeout, func(ctx context.Context) (bool, error) {
		n, err := page.Count(ctx, option)
		return n > 0, err
	})
	if err != nil {
		return "size options did not appear: " + err.Error()
	}
	return ""
}

func (r *run) handleImage(ctx context.Context, req *types.LabeledRequest) (HandlerResult, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return HandlerResult{}, fmt.Errorf("invalid image url: %w", err)
	}
	if r.e.userAgent != "" {
		hreq.Header.Set("User-Agent", r.e.userAgent)
	}
	hreq.Header.Set("Accept", "image/avif,image/webp,image/*,*/*;q=0.8")

	resp, err := r.e.http.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return HandlerResult{}, ctx.Err()
		}
		return HandlerResult{}, errors.NewNetworkError("image download failed: "+req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return HandlerResult{}, errors.NewHTTPStatusError(req.URL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return HandlerResult{}, errors.NewNetworkError("image read failed: "+req.URL, err)
	}

	ext := utils.ImageExtension(resp.Header.Get("Content-Type"), req.URL)
	name := fmt.Sprintf("%s_%d", utils.CleanFileName(req.UserData.RecordKey), req.UserData.ImageIndex) + ext
	if _, err := r.store.SaveImage(name, data); err != nil {
		return HandlerResult{}, fmt.Errorf("failed to save image: %w", err)
	}
	return HandlerResult{}, nil
}

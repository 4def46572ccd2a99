// internal/engine/run.go
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/valpere/SiteHarvester/internal/browser"
	"github.com/valpere/SiteHarvester/internal/dedup"
	"github.com/valpere/SiteHarvester/internal/errors"
	"github.com/valpere/SiteHarvester/internal/extract"
	"github.com/valpere/SiteHarvester/internal/pagination"
	"github.com/valpere/SiteHarvester/internal/progress"
	"github.com/valpere/SiteHarvester/internal/site"
	"github.com/valpere/SiteHarvester/internal/storage"
	"github.com/valpere/SiteHarvester/internal/utils"
	"github.com/valpere/SiteHarvester/pkg/types"
)

// run is the execution-scoped state of one job. The dispatcher goroutine
// owns the queue and every counter; handlers only read the shared
// collaborators, which synchronize themselves.
type run struct {
	e        *Engine
	exec     *types.ExecutionContext
	adapter  site.Adapter
	def      *site.Definition
	opts     types.Options
	workers  int
	logger   utils.Logger
	budget   *pagination.Budget
	pipeline *extract.Pipeline
	gateway  *dedup.Gateway
	strategy pagination.Strategy
	reporter *progress.Reporter
	store    *storage.Run
	pool     *browser.Pool

	seeds []*types.LabeledRequest

	cancelOnce sync.Once
	cancelCh   chan struct{}

	// dispatcher owned
	queue    queue
	emitted  map[string]struct{}
	summary  types.RunSummary
	stopped  types.StopReason
	fatalErr error

	// sessionGen counts completed logins. relogging is set while the one
	// LOGIN repairing an expired session is queued or in flight; requests
	// that hit the login wall meanwhile wait in parked.
	sessionGen int
	relogging  bool
	relogins   int
	parked     []*types.LabeledRequest
}

// maxRelogins bounds how often one run may log in again after its session
// expired
const maxRelogins = 3

// dispatched is a request handed to a worker with the session generation
// it was sent under
type dispatched struct {
	req *types.LabeledRequest
	gen int
}

func newRun(e *Engine, exec *types.ExecutionContext, adapter site.Adapter) *run {
	opts := exec.Options()
	def := adapter.Definition()

	workers := opts.MaxConcurrency
	if def.Sequential {
		workers = 1
	}

	logger := e.logger.WithFields(map[string]interface{}{
		"execution_id": exec.ExecutionID(),
		"site":         exec.SiteID(),
	})

	return &run{
		e:        e,
		exec:     exec,
		adapter:  adapter,
		def:      def,
		opts:     opts,
		workers:  workers,
		logger:   logger,
		pipeline: extract.New(adapter, extract.WithLogger(logger), extract.WithMetrics(e.metrics)),
		gateway:  dedup.NewGateway(e.dedup, logger, e.metrics),
		reporter: progress.NewReporter(exec.ExecutionID(), workers, e.hub),
		cancelCh: make(chan struct{}),
		emitted:  make(map[string]struct{}),
		summary: types.RunSummary{
			ExecutionID: exec.ExecutionID(),
			SiteID:      exec.SiteID(),
			ByLabel:     make(map[types.Label]types.Counts),
		},
	}
}

func (r *run) cancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

// validateSeeds fails when the run has nothing to start from
func (r *run) validateSeeds() error {
	if len(r.exec.StartURLs()) == 0 && r.opts.SearchQuery == "" {
		return errors.NewQueueInitError("no valid start urls and no search query")
	}
	return nil
}

// buildSeeds classifies the start URLs into seed requests
func (r *run) buildSeeds() ([]*types.LabeledRequest, error) {
	id := r.exec.ExecutionID()
	var seeds []*types.LabeledRequest

	if q := r.opts.SearchQuery; q != "" {
		target := r.def.BaseURL
		if r.def.Search.URL != "" {
			u, err := r.def.SearchURL(q)
			if err != nil {
				return nil, errors.NewQueueInitError("invalid search url: " + err.Error())
			}
			target = u
		}
		req := types.NewRequest(id, types.LabelSearch, target)
		req.UserData.Query = q
		seeds = append(seeds, req)
	}

	for _, u := range r.exec.StartURLs() {
		label := r.adapter.ClassifyPage(u)
		if label == types.LabelSearch {
			label = types.LabelList
		}
		seeds = append(seeds, types.NewRequest(id, label, u))
	}

	for _, req := range seeds {
		req.UserData.SeedKey = req.URL
		req.UserData.SeedURL = req.URL
		req.UserData.Page = 1
		if req.Label != types.LabelDetail {
			req.UserData.Batch = r.pipeline.BatchAttributes(req.URL)
		}
	}
	if len(seeds) == 0 {
		return nil, errors.NewQueueInitError("no valid start urls and no search query")
	}
	return seeds, nil
}

// execute runs the job to completion and publishes the terminal event
func (r *run) execute(ctx context.Context) *types.RunSummary {
	start := time.Now()
	r.summary.StartedAt = start
	r.e.metrics.RunStarted()
	r.logger.WithFields(map[string]interface{}{
		"start_urls":   len(r.exec.StartURLs()),
		"max_products": r.opts.MaxProducts,
		"workers":      r.workers,
	}).Info("Run started")

	ctx, cancelCtx := context.WithCancel(ctx)
	defer cancelCtx()

	if err := r.init(ctx); err != nil {
		r.fail(err)
	} else {
		r.dispatch(ctx, cancelCtx)
	}

	return r.finish(start)
}

func (r *run) init(ctx context.Context) error {
	seeds, err := r.buildSeeds()
	if err != nil {
		return err
	}
	r.seeds = seeds

	seedCount := 0
	for _, s := range seeds {
		if s.Label != types.LabelDetail {
			seedCount++
		}
	}
	r.budget = pagination.NewBudget(r.opts, seedCount, r.e.cfg.Budget)
	strategy, err := pagination.New(r.def.Pagination, r.def.List.Item, r.e.cfg.PollInterval)
	if err != nil {
		return errors.NewQueueInitError(err.Error())
	}
	r.strategy = strategy
	r.e.limiters.SetRate(r.def.ID, r.def.RateLimit)

	store, err := storage.Open(r.e.cfg.StorageRoot, r.exec.SiteID(), r.exec.ExecutionID())
	if err != nil {
		return errors.NewQueueInitError("failed to open run storage: " + err.Error())
	}
	r.store = store
	r.pool = browser.NewPool(r.e.browser, r.workers)

	initial := seeds
	if r.needsLogin(ctx) {
		login := types.NewRequest(r.exec.ExecutionID(), types.LabelLogin, r.def.Login.URL)
		initial = []*types.LabeledRequest{login}
	} else {
		// DETAIL seeds count against the target like any enqueued detail
		initial = r.reserveDetailSeeds(seeds)
	}
	r.enqueue(initial...)
	return nil
}

// authenticated reports whether the run works behind a site login
func (r *run) authenticated() bool {
	return r.exec.Credentials() != nil && r.def.HasLogin() && r.e.sessions != nil
}

// needsLogin checks the stored session when the run carries credentials
func (r *run) needsLogin(ctx context.Context) bool {
	if !r.authenticated() {
		return false
	}
	creds := r.exec.Credentials()
	page, err := r.pool.Acquire(ctx)
	if err != nil {
		r.logger.Warnf("Failed to open tab for session check: %v", err)
		return true
	}
	defer page.Close()
	valid := r.e.sessions.HasValidSession(ctx, page, r.def, creds.Identity())
	r.logger.WithField("valid", valid).Info("Session checked")
	return !valid
}

func (r *run) reserveDetailSeeds(seeds []*types.LabeledRequest) []*types.LabeledRequest {
	out := make([]*types.LabeledRequest, 0, len(seeds))
	for _, s := range seeds {
		if s.Label == types.LabelDetail && r.budget.Reserve(s.UserData.SeedKey, 1) == 0 {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (r *run) enqueue(reqs ...*types.LabeledRequest) {
	for _, req := range reqs {
		req.State = types.StatePending
		r.journal(req)
	}
	r.queue.push(reqs...)
	r.reporter.SetPending(r.queue.len())
}

func (r *run) journal(req *types.LabeledRequest) {
	if r.store == nil {
		return
	}
	if err := r.store.Journal(req); err != nil {
		r.logger.Warnf("Failed to journal %s: %v", req, err)
	}
}

// stop records the first stop reason
func (r *run) stop(reason types.StopReason) {
	if r.stopped == "" {
		r.stopped = reason
	}
}

func (r *run) fail(err error) {
	r.fatalErr = err
	r.stop(types.StopFatal)
	r.logger.Errorf("Run aborted: %v", err)
}

// dispatch feeds due requests to a fixed set of workers and applies their
// outcomes until the queue is empty or the run stops
func (r *run) dispatch(ctx context.Context, abort context.CancelFunc) {
	jobs := make(chan dispatched)
	results := make(chan outcome, r.workers)

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for job := range jobs {
				o := r.work(ctx, id, job.req)
				o.gen = job.gen
				results <- o
			}
		}(i)
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	inflight := 0
	cancelCh := r.cancelCh
	ctxDone := ctx.Done()
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if r.stopped != "" && r.queue.len() > 0 {
			for _, req := range r.queue.drain() {
				r.logger.Debugf("Discarding %s", req)
			}
			r.reporter.SetPending(0)
		}

		wait := time.Duration(-1)
		for r.stopped == "" && inflight < r.workers {
			req, w := r.queue.next(time.Now())
			if req == nil {
				wait = w
				break
			}
			if req.Label != types.LabelImageDownload {
				if err := r.budget.AllowRequest(); err != nil {
					r.logger.Infof("Stopping run: %v", err)
					r.stop(types.StopBudgetExhausted)
					r.logger.Debugf("Discarding %s", req)
					break
				}
			}
			req.State = types.StateRunning
			r.journal(req)
			r.reporter.SetPending(r.queue.len())
			inflight++
			jobs <- dispatched{req: req, gen: r.sessionGen}
		}

		if inflight == 0 && (r.queue.len() == 0 || r.stopped != "") {
			break
		}

		var timerC <-chan time.Time
		if r.stopped == "" && inflight < r.workers && wait >= 0 {
			timer.Reset(wait)
			timerC = timer.C
		}

		select {
		case o := <-results:
			inflight--
			r.apply(o)
			if r.stopped == types.StopFatal {
				abort()
			}
		case <-timerC:
		case <-cancelCh:
			cancelCh = nil
			r.logger.Info("Run cancelled, draining in-flight requests")
			r.stop(types.StopCancelled)
		case <-ctxDone:
			ctxDone = nil
			r.stop(types.StopCancelled)
		}
		if timerC != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// work runs one request on a worker
func (r *run) work(ctx context.Context, worker int, req *types.LabeledRequest) outcome {
	r.reporter.RequestStarted(worker, req)
	start := time.Now()

	hctx, cancel := context.WithTimeout(ctx, r.e.cfg.HandlerTimeout)
	defer cancel()

	result, err := r.handle(hctx, req)
	if err != nil && hctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		err = errors.NewNavigationTimeout(req.URL, err)
	}
	return outcome{worker: worker, req: req, result: result, err: err, duration: time.Since(start)}
}

// apply folds a handler outcome into the run state
func (r *run) apply(o outcome) {
	req := o.req
	siteID := r.def.ID
	label := string(req.Label)
	counts := r.summary.ByLabel[req.Label]
	r.e.metrics.ObserveAttempt(siteID, label, o.duration)

	if o.err == nil {
		req.State = types.StateDone
		req.LastError = ""
		r.journal(req)
		counts.Completed++
		r.summary.ByLabel[req.Label] = counts
		r.summary.Completed++
		r.e.metrics.RequestFinished(siteID, label, "done")
		if req.Label == types.LabelLogin {
			r.loggedIn()
		}

		for _, rec := range o.result.Records {
			r.emit(rec)
		}
		for _, w := range o.result.Warnings {
			r.logger.WithField("url", req.URL).Warn(w)
		}
		if r.stopped == "" && len(o.result.Children) > 0 {
			r.enqueue(o.result.Children...)
		}
		r.reporter.RequestCompleted(o.worker, req, o.duration)
		return
	}

	req.LastError = o.err.Error()
	code := errors.Code(o.err)
	log := r.logger.WithFields(map[string]interface{}{
		"url":         req.URL,
		"label":       label,
		"code":        string(code),
		"retry_count": req.UserData.RetryCount,
	})

	if code == errors.CodeSessionExpired && r.stopped == "" {
		r.sessionExpired(o, log)
		return
	}

	if errors.IsFatal(o.err) {
		req.State = types.StateFailed
		r.journal(req)
		r.countFailure(req, counts, o)
		r.fail(o.err)
		return
	}

	if errors.IsRetryable(o.err) && req.UserData.RetryCount < r.e.cfg.Retry.MaxRetries && r.stopped == "" {
		req.UserData.RetryCount++
		delay := r.e.cfg.Retry.Backoff(req.UserData.RetryCount)
		req.NotBefore = time.Now().Add(delay)
		log.Warnf("Request failed, retrying in %s: %v", delay, o.err)
		r.summary.Retried++
		r.e.metrics.RequestRetried(siteID, label, string(code))
		r.reporter.RequestRetried(o.worker, req)
		r.enqueue(req)
		return
	}

	req.State = types.StateFailed
	r.journal(req)
	log.Errorf("Request failed: %v", o.err)
	r.countFailure(req, counts, o)
	if req.Label == types.LabelLogin && r.stopped == "" {
		// without a session nothing else can be fetched
		r.fail(errors.NewAuthError("login failed", o.err))
	}
}

// sessionExpired parks a request that hit the login wall and queues a
// single LOGIN for all of them. A request sent before the latest login
// finished saw the old session and is simply queued again.
func (r *run) sessionExpired(o outcome, log utils.Logger) {
	req := o.req
	req.State = types.StatePending
	req.NotBefore = time.Time{}
	r.summary.Retried++
	r.e.metrics.RequestRetried(r.def.ID, string(req.Label), string(errors.CodeSessionExpired))
	r.reporter.RequestRetried(o.worker, req)

	if o.gen < r.sessionGen {
		log.Debug("Request ran under a replaced session, queueing again")
		r.enqueue(req)
		return
	}

	r.journal(req)
	r.parked = append(r.parked, req)
	if r.relogging {
		return
	}
	if r.relogins >= maxRelogins {
		r.fail(errors.NewAuthError(fmt.Sprintf("session expired again after %d logins", r.relogins), o.err))
		return
	}

	r.relogins++
	r.relogging = true
	log.Warnf("Session expired mid-run, logging in again: %v", o.err)
	r.e.sessions.Invalidate(context.Background(), r.def.ID, r.exec.Credentials().Identity())

	login := types.NewRequest(r.exec.ExecutionID(), types.LabelLogin, r.def.Login.URL)
	login.UserData.Relogin = true
	r.enqueue(login)
}

// loggedIn starts a new session generation and releases parked requests
func (r *run) loggedIn() {
	r.sessionGen++
	r.relogging = false
	if len(r.parked) == 0 {
		return
	}
	parked := r.parked
	r.parked = nil
	if r.stopped == "" {
		r.enqueue(parked...)
	}
}

func (r *run) countFailure(req *types.LabeledRequest, counts types.Counts, o outcome) {
	counts.Failed++
	r.summary.ByLabel[req.Label] = counts
	r.summary.Failed++
	r.e.metrics.RequestFinished(r.def.ID, string(req.Label), "failed")
	r.reporter.RequestFailed(o.worker, req, o.duration)
}

// emit stores a record once per external key
func (r *run) emit(rec *types.Record) {
	if rec == nil {
		return
	}
	if _, dup := r.emitted[rec.ExternalKey]; dup {
		return
	}
	r.emitted[rec.ExternalKey] = struct{}{}
	r.summary.RecordsExtracted++

	if err := r.store.AppendRecord(rec); err != nil {
		r.logger.Errorf("Failed to store record %s: %v", rec.ExternalKey, err)
	}
	if r.e.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.e.sink.Write(ctx, r.exec.ExecutionID(), rec); err != nil {
			r.logger.Errorf("Record sink rejected %s: %v", rec.ExternalKey, err)
		}
	}
}

// account adds the budget and journal figures to summary
func (r *run) account(summary *types.RunSummary) {
	summary.ProductsDiscovered = r.pipeline.Discovered()
	if r.budget != nil {
		summary.RequestsHandled = r.budget.Handled()
		summary.DetailsReserved = r.budget.Enqueued()
		for _, seed := range r.seeds {
			if seed.Label == types.LabelDetail {
				continue
			}
			summary.Seeds = append(summary.Seeds, r.budget.Seed(seed.UserData.SeedKey))
		}
	}
	if r.store != nil {
		pending, err := r.store.PendingRequests()
		if err != nil {
			r.logger.Warnf("Failed to read pending requests: %v", err)
			return
		}
		summary.Discarded = len(pending)
		for _, req := range pending {
			r.logger.WithFields(map[string]interface{}{
				"url":   req.URL,
				"label": string(req.Label),
				"state": string(req.State),
			}).Debug("Request left unprocessed")
		}
	}
}

// finish builds the summary, publishes the terminal event and releases the run
func (r *run) finish(start time.Time) *types.RunSummary {
	r.stop(types.StopCompleted)
	r.summary.Reason = r.stopped
	if r.fatalErr != nil {
		r.summary.Error = r.fatalErr.Error()
	}
	r.summary.FinishedAt = time.Now()
	r.summary.Duration = r.summary.FinishedAt.Sub(start)

	summary := r.summary
	summary.ByLabel = make(map[types.Label]types.Counts, len(r.summary.ByLabel))
	for k, v := range r.summary.ByLabel {
		summary.ByLabel[k] = v
	}

	r.account(&summary)

	if r.pool != nil {
		r.pool.Close()
	}
	if r.store != nil {
		if err := r.store.SaveSummary(summary); err != nil {
			r.logger.Warnf("Failed to save summary: %v", err)
		}
		if err := r.store.Close(); err != nil {
			r.logger.Warnf("Failed to close run storage: %v", err)
		}
	}

	r.e.forget(r)
	r.e.metrics.RunFinished(r.def.ID, string(summary.Reason), summary.Duration)
	r.reporter.Complete(summary)

	r.logger.WithFields(map[string]interface{}{
		"reason":    string(summary.Reason),
		"completed": summary.Completed,
		"failed":    summary.Failed,
		"retried":   summary.Retried,
		"records":   summary.RecordsExtracted,
		"discarded": summary.Discarded,
		"duration":  utils.FormatDuration(summary.Duration),
	}).Info("Run finished")
	return &summary
}

// Package tracker keeps an in-memory table of submitted URLs in sync with
// the crawl service: an initial REST load plus incremental updates from the
// realtime channel.
package tracker

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/orchestra-mcp/crawlwatch/src/api"
	"github.com/orchestra-mcp/crawlwatch/src/types"
	"github.com/rs/zerolog"
)

// Service is the subset of the REST client the tracker uses.
type Service interface {
	ListURLs(ctx context.Context, params api.ListParams) ([]types.URLData, *api.Pagination, error)
	CreateURL(ctx context.Context, rawURL string) (*types.URLData, error)
	DeleteURLs(ctx context.Context, ids []string) error
	StartCrawling(ctx context.Context, id string) error
	StopCrawling(ctx context.Context, id string) error
	RerunAnalysis(ctx context.Context, id string) error
}

// Stats counts tracked URLs by status.
type Stats struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Error     int `json:"error"`
}

// Tracker is safe for concurrent use.
type Tracker struct {
	svc    Service
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	urls    []types.URLData // newest first
	lastErr string

	refetch chan struct{}
}

// New creates an empty tracker backed by svc.
func New(svc Service, logger zerolog.Logger) *Tracker {
	return &Tracker{
		svc:     svc,
		logger:  logger.With().Str("component", "tracker").Logger(),
		now:     time.Now,
		refetch: make(chan struct{}, 1),
	}
}

// Load replaces the table with the service's current list.
func (t *Tracker) Load(ctx context.Context) error {
	urls, _, err := t.svc.ListURLs(ctx, api.ListParams{})
	if err != nil {
		t.setErr(err)
		return fmt.Errorf("load urls: %w", err)
	}
	t.mu.Lock()
	t.urls = urls
	t.lastErr = ""
	t.mu.Unlock()
	t.logger.Debug().Int("count", len(urls)).Msg("urls loaded")
	return nil
}

// Run reloads the table whenever Handle sees a message for an unknown URL.
// It returns when ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.refetch:
			if err := t.Load(ctx); err != nil && ctx.Err() == nil {
				t.logger.Warn().Err(err).Msg("refetch failed")
			}
		}
	}
}

// Handle applies one realtime message. It is meant to be registered with
// channel.AddMessageHandler.
func (t *Tracker) Handle(msg types.Message) {
	if msg.URL == "" {
		return
	}
	status := msg.Status
	if status == "" {
		switch msg.Type {
		case types.TypeCrawlStarted:
			status = types.StatusRunning
		case types.TypeCrawlCompleted:
			status = types.StatusCompleted
		case types.TypeError:
			status = types.StatusError
		}
	}
	if msg.Type == types.TypeError && msg.Error != "" {
		// Data is shared with other handlers; never write through it.
		var d types.URLData
		if msg.Data != nil {
			d = *msg.Data
		}
		e := msg.Error
		d.ErrorMessage = &e
		msg.Data = &d
	}

	if !t.UpdateStatus(msg.URL, status, msg.Data) {
		t.logger.Debug().Str("url", msg.URL).Str("type", string(msg.Type)).Msg("update for untracked url, refetching")
		select {
		case t.refetch <- struct{}{}:
		default:
		}
	}
}

// UpdateStatus merges status and the non-nil fields of data into every
// row for rawURL. It reports whether any row matched.
func (t *Tracker) UpdateStatus(rawURL string, status types.CrawlStatus, data *types.URLData) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	matched := false
	for i := range t.urls {
		if t.urls[i].URL != rawURL {
			continue
		}
		matched = true
		if status != "" {
			t.urls[i].Status = status
		}
		merge(&t.urls[i], data)
		t.urls[i].UpdatedAt = &now
	}
	return matched
}

// merge copies the fields set in src onto dst. Identity fields are kept.
func merge(dst *types.URLData, src *types.URLData) {
	if src == nil {
		return
	}
	if src.Status != "" {
		dst.Status = src.Status
	}
	if src.Title != nil {
		dst.Title = src.Title
	}
	if src.HTMLVersion != nil {
		dst.HTMLVersion = src.HTMLVersion
	}
	if src.HeadingTags != nil {
		dst.HeadingTags = src.HeadingTags
	}
	if src.InternalLinks != nil {
		dst.InternalLinks = src.InternalLinks
	}
	if src.ExternalLinks != nil {
		dst.ExternalLinks = src.ExternalLinks
	}
	if src.BrokenLinks != nil {
		dst.BrokenLinks = src.BrokenLinks
	}
	if src.HasLoginForm != nil {
		dst.HasLoginForm = src.HasLoginForm
	}
	if src.ErrorMessage != nil {
		dst.ErrorMessage = src.ErrorMessage
	}
	if src.AnalysisDuration != nil {
		dst.AnalysisDuration = src.AnalysisDuration
	}
}

// Add submits rawURL and prepends the created row.
func (t *Tracker) Add(ctx context.Context, rawURL string) (*types.URLData, error) {
	created, err := t.svc.CreateURL(ctx, rawURL)
	if err != nil {
		t.setErr(err)
		return nil, fmt.Errorf("add url: %w", err)
	}
	t.mu.Lock()
	t.urls = append([]types.URLData{*created}, t.urls...)
	t.mu.Unlock()
	return created, nil
}

// Delete removes ids remotely and from the table.
func (t *Tracker) Delete(ctx context.Context, ids []string) error {
	if err := t.svc.DeleteURLs(ctx, ids); err != nil {
		t.setErr(err)
		return fmt.Errorf("delete urls: %w", err)
	}
	t.mu.Lock()
	t.urls = slices.DeleteFunc(t.urls, func(u types.URLData) bool { return slices.Contains(ids, u.ID) })
	t.mu.Unlock()
	return nil
}

// Rerun re-queues analysis for id and marks the row queued.
func (t *Tracker) Rerun(ctx context.Context, id string) error {
	if err := t.svc.RerunAnalysis(ctx, id); err != nil {
		t.setErr(err)
		return fmt.Errorf("rerun analysis: %w", err)
	}
	t.mu.Lock()
	for i := range t.urls {
		if t.urls[i].ID == id {
			t.urls[i].Status = types.StatusQueued
		}
	}
	t.mu.Unlock()
	return nil
}

// Start asks the service to crawl id. Progress arrives through Handle.
func (t *Tracker) Start(ctx context.Context, id string) error {
	if err := t.svc.StartCrawling(ctx, id); err != nil {
		t.setErr(err)
		return fmt.Errorf("start crawling: %w", err)
	}
	return nil
}

// Stop asks the service to stop crawling id.
func (t *Tracker) Stop(ctx context.Context, id string) error {
	if err := t.svc.StopCrawling(ctx, id); err != nil {
		t.setErr(err)
		return fmt.Errorf("stop crawling: %w", err)
	}
	return nil
}

// URLs returns a copy of the table, newest first.
func (t *Tracker) URLs() []types.URLData {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.urls)
}

// Get returns the row with the given id.
func (t *Tracker) Get(id string) (types.URLData, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, u := range t.urls {
		if u.ID == id {
			return u, true
		}
	}
	return types.URLData{}, false
}

// Err returns the last REST error, or "".
func (t *Tracker) Err() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastErr
}

// Stats counts rows by status.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Stats{Total: len(t.urls)}
	for _, u := range t.urls {
		switch u.Status {
		case types.StatusQueued:
			s.Queued++
		case types.StatusRunning:
			s.Running++
		case types.StatusCompleted:
			s.Completed++
		case types.StatusError:
			s.Error++
		}
	}
	return s
}

func (t *Tracker) setErr(err error) {
	t.mu.Lock()
	t.lastErr = err.Error()
	t.mu.Unlock()
}

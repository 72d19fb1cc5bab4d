// Package pipeline orchestrates a scrape run: navigation across target URLs,
// the interceptor/DOM-extraction fallback chain, normalization, and the
// deduplicating sink.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/govwatchmy/procurement-pipeline/internal/config"
	"github.com/govwatchmy/procurement-pipeline/internal/diagnostics"
	"github.com/govwatchmy/procurement-pipeline/internal/events"
	"github.com/govwatchmy/procurement-pipeline/internal/extract"
	"github.com/govwatchmy/procurement-pipeline/internal/normalize"
	"github.com/govwatchmy/procurement-pipeline/internal/storage"
	"github.com/govwatchmy/procurement-pipeline/pkg/logger"
)

// Result is the structured outcome returned to the triggering caller. The
// caller always receives one of these, never a propagated exception path:
// "completed, N records", "completed, 0 records, check diagnostics", or
// "launch failed" all arrive the same way.
type Result struct {
	Success bool   `json:"success"`
	Count   int    `json:"count"`
	Message string `json:"message"`
}

// Session is the browser capability the pipeline drives. It is an interface
// so extraction logic can be exercised against a fake without spawning a
// Chrome process.
type Session interface {
	Navigate(ctx context.Context, url string) error
	AutoScroll(ctx context.Context) error
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Records() []extract.RawRecord
	Close()
}

// SessionFactory launches a browser session for one run.
type SessionFactory func(ctx context.Context, diag *diagnostics.Run) (Session, error)

// RunState tracks progress of the current or most recent run.
type RunState struct {
	RunID            string    `json:"run_id"`
	Status           string    `json:"status"` // idle, running, completed, failed
	StartedAt        time.Time `json:"started_at"`
	URLsVisited      int       `json:"urls_visited"`
	NavErrors        int       `json:"nav_errors"`
	RecordsExtracted int       `json:"records_extracted"`
	RecordsInserted  int       `json:"records_inserted"`
	RecordsDropped   int       `json:"records_dropped"`
}

// Pipeline sequences one scrape run at a time. The browser process is
// exclusively owned by the run in flight, and running two headless instances
// against the same target multiplies detection risk, so concurrent triggers
// are rejected rather than queued.
type Pipeline struct {
	cfg        config.ScraperConfig
	store      storage.RecordStore
	norm       *normalize.Normalizer
	newSession SessionFactory
	publisher  events.Publisher    // optional
	archive    diagnostics.Archive // optional
	log        *logger.Logger

	inFlight sync.Mutex
	stateMu  sync.RWMutex
	state    RunState
}

// New creates a pipeline. publisher and archive may be nil.
func New(cfg config.ScraperConfig, store storage.RecordStore, norm *normalize.Normalizer,
	newSession SessionFactory, publisher events.Publisher, archive diagnostics.Archive,
	log *logger.Logger) *Pipeline {

	if log == nil {
		log = logger.Default()
	}
	return &Pipeline{
		cfg:        cfg,
		store:      store,
		norm:       norm,
		newSession: newSession,
		publisher:  publisher,
		archive:    archive,
		log:        log.WithComponent("pipeline"),
		state:      RunState{Status: "idle"},
	}
}

// Trigger runs the full pipeline synchronously. A second trigger while one is
// in flight returns immediately with a soft failure.
func (p *Pipeline) Trigger(ctx context.Context) Result {
	if !p.inFlight.TryLock() {
		return Result{Success: false, Count: 0, Message: "scrape already in progress"}
	}
	defer p.inFlight.Unlock()

	return p.run(ctx)
}

// Status returns a snapshot of the current run state.
func (p *Pipeline) Status() RunState {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

func (p *Pipeline) run(ctx context.Context) Result {
	runID := uuid.New().String()
	log := p.log.WithFields(map[string]any{"run_id": runID})

	p.setState(RunState{RunID: runID, Status: "running", StartedAt: time.Now().UTC()})

	diag := diagnostics.NewRun(p.cfg.LogDir, runID, p.archive, log)
	// Diagnostics must survive even total failure; flush on every exit path.
	defer func() {
		if err := diag.Flush(context.Background()); err != nil {
			log.WithError(err).Warn("diagnostics flush failed")
		}
	}()

	diag.Logf("scrape run started, %d target URLs", len(p.cfg.TargetURLs))

	sess, err := p.newSession(ctx, diag)
	if err != nil {
		diag.Logf("browser launch failed: %v", err)
		result := Result{Success: false, Count: 0, Message: fmt.Sprintf("browser launch failed: %v", err)}
		p.finish(result)
		return result
	}
	defer sess.Close()

	// Target URLs are visited serially in declared order. Concurrent
	// navigation against the same rate-limited source risks tripping
	// anti-bot defenses, and serial order keeps logs and screenshots
	// correlatable.
	type snapshot struct {
		url  string
		html string
	}
	var snapshots []snapshot
	navErrors := 0

	for _, url := range p.cfg.TargetURLs {
		select {
		case <-ctx.Done():
			diag.Logf("run cancelled: %v", ctx.Err())
			result := Result{Success: false, Count: 0, Message: "scrape cancelled"}
			p.finish(result)
			return result
		default:
		}

		if err := sess.Navigate(ctx, url); err != nil {
			// Per-URL failures are recorded and skipped; one bad target must
			// not abort the rest of the run.
			navErrors++
			p.updateState(func(s *RunState) { s.NavErrors = navErrors })
			continue
		}

		if err := sess.AutoScroll(ctx); err != nil {
			diag.Logf("auto-scroll failed for %s: %v", url, err)
		}

		if html, err := sess.HTML(ctx); err == nil {
			snapshots = append(snapshots, snapshot{url: url, html: html})
		} else {
			diag.Logf("markup capture failed for %s: %v", url, err)
		}

		if shot, err := sess.Screenshot(ctx); err == nil {
			diag.Screenshot(url, shot)
		}

		p.updateState(func(s *RunState) { s.URLsVisited++ })
		diag.Logf("visited %s", url)
	}

	// Extraction fallback chain: records mined passively from API responses
	// win; the DOM heuristics only run when no structured payload surfaced
	// across all target URLs.
	raws := sess.Records()
	strategy := "api-response"
	if len(raws) == 0 {
		strategy = "dom-heuristic"
		for _, snap := range snapshots {
			raws = append(raws, extract.FromHTML(snap.html, snap.url)...)
		}
	}
	diag.Logf("extraction strategy %q yielded %d raw records", strategy, len(raws))
	p.updateState(func(s *RunState) { s.RecordsExtracted = len(raws) })

	records, dropped := p.norm.Records(raws)
	if dropped > 0 {
		diag.Logf("normalization: %s", normalize.Summary(len(records), dropped))
	}
	p.updateState(func(s *RunState) { s.RecordsDropped = dropped })

	if len(records) == 0 {
		// Total extraction failure is the one pipeline-fatal outcome. Dump
		// the markup we saw so a human can inspect what the site served.
		for _, snap := range snapshots {
			diag.DumpHTML(snap.url, snap.html)
		}
		diag.Logf("no records extracted from any strategy across %d URLs (%d navigation errors)",
			len(p.cfg.TargetURLs), navErrors)
		result := Result{Success: false, Count: 0,
			Message: "extraction failed, 0 records; site may be blocking automated access, check diagnostics"}
		p.finish(result)
		p.publish(ctx, runID, result)
		return result
	}

	inserted, err := p.store.InsertBatch(ctx, records)
	if err != nil {
		diag.Logf("persistence failed: %v", err)
		result := Result{Success: false, Count: 0, Message: fmt.Sprintf("persistence failed: %v", err)}
		p.finish(result)
		p.publish(ctx, runID, result)
		return result
	}
	p.updateState(func(s *RunState) { s.RecordsInserted = inserted })

	skipped := len(records) - inserted
	diag.Logf("run complete: %d extracted, %d inserted, %d duplicates skipped, %d dropped",
		len(raws), inserted, skipped, dropped)

	result := Result{
		Success: true,
		Count:   inserted,
		Message: fmt.Sprintf("scrape completed: %d new records (%d extracted, %d duplicates skipped)",
			inserted, len(records), skipped),
	}
	p.finish(result)
	p.publish(ctx, runID, result)
	return result
}

func (p *Pipeline) publish(ctx context.Context, runID string, result Result) {
	if p.publisher == nil {
		return
	}
	ev := events.ScrapeEvent{
		RunID:       runID,
		Success:     result.Success,
		Count:       result.Count,
		Message:     result.Message,
		CompletedAt: time.Now().UTC(),
	}
	if err := p.publisher.ScrapeCompleted(ctx, ev); err != nil {
		p.log.WithError(err).Warn("failed to publish scrape event")
	}
}

func (p *Pipeline) setState(s RunState) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.state = s
}

func (p *Pipeline) updateState(fn func(*RunState)) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	fn(&p.state)
}

func (p *Pipeline) finish(result Result) {
	p.updateState(func(s *RunState) {
		if result.Success {
			s.Status = "completed"
		} else {
			s.Status = "failed"
		}
	})
}

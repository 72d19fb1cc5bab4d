package browser

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/govwatchmy/procurement-pipeline/internal/extract"
	"github.com/govwatchmy/procurement-pipeline/pkg/logger"
)

// Collector passively observes network responses during navigation and
// opportunistically mines procurement records from any JSON or text payload,
// without knowing the target site's API contract in advance. It never mutates
// or interrupts the responses it watches.
type Collector struct {
	mu       sync.Mutex
	inFlight sync.WaitGroup
	seen     map[string]struct{}
	records  []extract.RawRecord
	log      *logger.Logger
}

// drainTimeout bounds how long Records waits for body fetches still in
// flight. A fetch that takes longer than this is for a body the browser
// has likely already discarded.
const drainTimeout = 2 * time.Second

// NewCollector creates an empty response collector.
func NewCollector(log *logger.Logger) *Collector {
	if log == nil {
		log = logger.Default()
	}
	return &Collector{
		seen: make(map[string]struct{}),
		log:  log.WithComponent("interceptor"),
	}
}

// Attach subscribes the collector to CDP network events on the given browser
// context. Bodies are fetched asynchronously; a body that is gone by the time
// we ask for it is simply skipped.
func (c *Collector) Attach(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev any) {
		e, ok := ev.(*network.EventResponseReceived)
		if !ok {
			return
		}

		mime := strings.ToLower(e.Response.MimeType)
		if !strings.Contains(mime, "json") && !strings.Contains(mime, "text") {
			return
		}

		respURL := e.Response.URL

		// Bodies arrive asynchronously; a response landing at the tail end
		// of the last settle window must still be counted before the
		// orchestrator drains the accumulator.
		c.track(func(reqID network.RequestID) {
			exec := chromedp.FromContext(ctx)
			if exec == nil || exec.Target == nil {
				return
			}
			body, err := network.GetResponseBody(reqID).Do(cdp.WithExecutor(ctx, exec.Target))
			if err != nil || len(body) == 0 {
				return
			}

			recs := extract.RecordsFromBody(body, respURL)
			if len(recs) == 0 {
				return
			}

			added := c.Add(recs...)
			if added > 0 {
				c.log.Info("records mined from response",
					"url", respURL, "found", len(recs), "accepted", added)
			}
		}, e.RequestID)
	})
}

// track runs a body fetch on its own goroutine while keeping it visible
// to Records' drain wait.
func (c *Collector) track(fn func(network.RequestID), reqID network.RequestID) {
	c.inFlight.Add(1)
	go func() {
		defer c.inFlight.Done()
		fn(reqID)
	}()
}

// Add appends records to the accumulator, skipping payload-identical
// duplicates (the same API response often arrives more than once across
// pagination or retries). Returns the number actually added.
func (c *Collector) Add(recs ...extract.RawRecord) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, rec := range recs {
		key := fingerprint(rec)
		if _, dup := c.seen[key]; dup {
			continue
		}
		c.seen[key] = struct{}{}
		c.records = append(c.records, rec)
		added++
	}
	return added
}

// Records returns a copy of the accumulated raw records, first waiting
// briefly for any body fetches still in flight.
func (c *Collector) Records() []extract.RawRecord {
	done := make(chan struct{})
	go func() {
		c.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		c.log.Warn("drain timed out with body fetches still in flight")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]extract.RawRecord, len(c.records))
	copy(out, c.records)
	return out
}

// fingerprint keys a raw record by its marshaled fields; encoding/json sorts
// map keys, so identical payloads produce identical keys.
func fingerprint(rec extract.RawRecord) string {
	b, err := json.Marshal(rec.Fields)
	if err != nil {
		return ""
	}
	return string(b)
}

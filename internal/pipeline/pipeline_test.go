package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govwatchmy/procurement-pipeline/internal/config"
	"github.com/govwatchmy/procurement-pipeline/internal/diagnostics"
	"github.com/govwatchmy/procurement-pipeline/internal/events"
	"github.com/govwatchmy/procurement-pipeline/internal/extract"
	"github.com/govwatchmy/procurement-pipeline/internal/normalize"
	"github.com/govwatchmy/procurement-pipeline/internal/storage"
)

// fakeSession implements Session without a browser.
type fakeSession struct {
	records    []extract.RawRecord
	htmlByURL  map[string]string
	navErr     map[string]error
	navigated  []string
	closed     bool
	currentURL string
	block      chan struct{} // if set, Navigate blocks until the channel closes
}

func (f *fakeSession) Navigate(_ context.Context, url string) error {
	if f.block != nil {
		<-f.block
	}
	if err := f.navErr[url]; err != nil {
		return err
	}
	f.navigated = append(f.navigated, url)
	f.currentURL = url
	return nil
}

func (f *fakeSession) AutoScroll(_ context.Context) error { return nil }

func (f *fakeSession) HTML(_ context.Context) (string, error) {
	return f.htmlByURL[f.currentURL], nil
}

func (f *fakeSession) Screenshot(_ context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (f *fakeSession) Records() []extract.RawRecord { return f.records }

func (f *fakeSession) Close() { f.closed = true }

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []events.ScrapeEvent
}

func (f *fakePublisher) ScrapeCompleted(_ context.Context, ev events.ScrapeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func testScraperConfig(t *testing.T, urls ...string) config.ScraperConfig {
	t.Helper()
	return config.ScraperConfig{
		TargetURLs: urls,
		LogDir:     t.TempDir(),
	}
}

func newTestPipeline(cfg config.ScraperConfig, store storage.RecordStore, sess Session, pub events.Publisher) *Pipeline {
	factory := func(_ context.Context, _ *diagnostics.Run) (Session, error) {
		return sess, nil
	}
	norm := normalize.NewWithClock(func() time.Time {
		return time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)
	})
	return New(cfg, store, norm, factory, pub, nil, nil)
}

func TestTriggerSuccessFromInterceptedRecords(t *testing.T) {
	cfg := testScraperConfig(t, "https://example.gov.my/direct")
	store := storage.NewMemoryRecordStore()
	pub := &fakePublisher{}
	sess := &fakeSession{
		records: []extract.RawRecord{{
			Fields: map[string]any{
				"kementerian":     "Kementerian Kesihatan",
				"nama_syarikat":   "Alpha Sdn Bhd",
				"nilai_perolehan": "RM 1,000,000.00",
				"tarikh_surat":    "2024-03-01",
			},
			SourceURL: "https://example.gov.my/direct",
		}},
	}

	p := newTestPipeline(cfg, store, sess, pub)
	result := p.Trigger(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Count)
	assert.Contains(t, result.Message, "1 new records")
	assert.True(t, sess.closed, "session must be closed after the run")

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "Kementerian Kesihatan", records[0].Ministry)
	assert.Equal(t, "Alpha Sdn Bhd", records[0].Vendor)
	assert.InDelta(t, 1000000.0, records[0].Amount, 0.001)
	assert.Equal(t, "2024-03-01", records[0].Date)
	assert.Equal(t, "Open Tender", records[0].Method)

	require.Len(t, pub.events, 1)
	assert.True(t, pub.events[0].Success)
	assert.Equal(t, 1, pub.events[0].Count)

	state := p.Status()
	assert.Equal(t, "completed", state.Status)
	assert.Equal(t, 1, state.RecordsInserted)
}

func TestTriggerDOMFallbackWhenNoPayloads(t *testing.T) {
	url := "https://example.gov.my/awards"
	cfg := testScraperConfig(t, url)
	store := storage.NewMemoryRecordStore()
	sess := &fakeSession{
		// No intercepted records; the rendered markup is all there is.
		htmlByURL: map[string]string{url: `<html><body>
			<div class="card">
				<p>Kementerian Kesihatan Malaysia</p>
				<p>Vendor: Alpha Engineering Sdn Bhd</p>
				<p>Nilai: RM 500,000.00</p>
			</div>
		</body></html>`},
	}

	p := newTestPipeline(cfg, store, sess, nil)
	result := p.Trigger(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Count)

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "Kementerian Kesihatan Malaysia", records[0].Ministry)
	assert.Equal(t, "Alpha Engineering Sdn Bhd", records[0].Vendor)
	assert.InDelta(t, 500000.0, records[0].Amount, 0.001)
}

func TestTriggerInterceptedRecordsSuppressDOMFallback(t *testing.T) {
	url := "https://example.gov.my/awards"
	cfg := testScraperConfig(t, url)
	store := storage.NewMemoryRecordStore()
	sess := &fakeSession{
		records: []extract.RawRecord{{
			Fields:    map[string]any{"kementerian": "Kementerian Kewangan", "nilai": "RM 100.00"},
			SourceURL: url,
		}},
		// Markup that would yield a different record if the fallback ran.
		htmlByURL: map[string]string{url: `<html><body><div>
			<p>Kementerian Pendidikan</p>
			<p>Vendor: Beta Trading Sdn Bhd</p>
			<p>RM 999,999.00</p>
		</div></body></html>`},
	}

	p := newTestPipeline(cfg, store, sess, nil)
	result := p.Trigger(context.Background())

	require.True(t, result.Success)
	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "Kementerian Kewangan", records[0].Ministry)
}

func TestTriggerTotalFailure(t *testing.T) {
	url := "https://example.gov.my/empty"
	logDir := t.TempDir()
	cfg := config.ScraperConfig{TargetURLs: []string{url}, LogDir: logDir}
	store := storage.NewMemoryRecordStore()
	pub := &fakePublisher{}
	sess := &fakeSession{
		htmlByURL: map[string]string{url: "<html><body><p>Access Denied</p></body></html>"},
	}

	p := newTestPipeline(cfg, store, sess, pub)
	result := p.Trigger(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, 0, result.Count)
	assert.Contains(t, result.Message, "0 records")
	assert.Contains(t, result.Message, "diagnostics")

	count, _ := store.Count(context.Background())
	assert.Equal(t, int64(0), count)

	// The run log and the failure markup dump must be on disk.
	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)
	var haveLog, haveDump bool
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "scrape-log-") && strings.HasSuffix(name, ".txt") {
			haveLog = true
			data, err := os.ReadFile(filepath.Join(logDir, name))
			require.NoError(t, err)
			assert.Contains(t, string(data), "no records extracted")
		}
		if strings.HasSuffix(name, ".html") {
			haveDump = true
		}
	}
	assert.True(t, haveLog, "diagnostics log file missing")
	assert.True(t, haveDump, "failure markup dump missing")

	require.Len(t, pub.events, 1)
	assert.False(t, pub.events[0].Success)

	assert.Equal(t, "failed", p.Status().Status)
}

func TestTriggerLaunchFailure(t *testing.T) {
	cfg := testScraperConfig(t, "https://example.gov.my")
	store := storage.NewMemoryRecordStore()

	factory := func(_ context.Context, _ *diagnostics.Run) (Session, error) {
		return nil, errors.New("chrome not found")
	}
	p := New(cfg, store, normalize.New(), factory, nil, nil, nil)

	result := p.Trigger(context.Background())
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "browser launch failed")
	assert.Equal(t, "failed", p.Status().Status)
}

func TestTriggerNavigationErrorsDoNotAbortRun(t *testing.T) {
	bad := "https://example.gov.my/down"
	good := "https://example.gov.my/up"
	cfg := testScraperConfig(t, bad, good)
	store := storage.NewMemoryRecordStore()
	sess := &fakeSession{
		navErr: map[string]error{bad: errors.New("timeout")},
		records: []extract.RawRecord{{
			Fields:    map[string]any{"kementerian": "Kementerian Kesihatan", "nilai": "RM 100.00"},
			SourceURL: good,
		}},
	}

	p := newTestPipeline(cfg, store, sess, nil)
	result := p.Trigger(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, []string{good}, sess.navigated)

	state := p.Status()
	assert.Equal(t, 1, state.NavErrors)
	assert.Equal(t, 1, state.URLsVisited)
}

func TestTriggerRejectsConcurrentRuns(t *testing.T) {
	cfg := testScraperConfig(t, "https://example.gov.my")
	store := storage.NewMemoryRecordStore()
	block := make(chan struct{})
	sess := &fakeSession{
		block: block,
		records: []extract.RawRecord{{
			Fields: map[string]any{"kementerian": "Kementerian Kesihatan", "nilai": "RM 100.00"},
		}},
	}

	p := newTestPipeline(cfg, store, sess, nil)

	firstDone := make(chan Result, 1)
	go func() { firstDone <- p.Trigger(context.Background()) }()

	// Wait until the first run is inside Navigate before triggering again.
	require.Eventually(t, func() bool {
		return p.Status().Status == "running"
	}, 2*time.Second, 10*time.Millisecond)

	second := p.Trigger(context.Background())
	assert.False(t, second.Success)
	assert.Equal(t, "scrape already in progress", second.Message)

	close(block)
	first := <-firstDone
	assert.True(t, first.Success)
}

func TestTriggerCancelledContext(t *testing.T) {
	cfg := testScraperConfig(t, "https://example.gov.my")
	store := storage.NewMemoryRecordStore()
	sess := &fakeSession{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(cfg, store, sess, nil)
	result := p.Trigger(ctx)

	assert.False(t, result.Success)
	assert.Equal(t, "scrape cancelled", result.Message)
}

func TestTriggerDuplicatesSkippedOnSecondRun(t *testing.T) {
	cfg := testScraperConfig(t, "https://example.gov.my")
	store := storage.NewMemoryRecordStore()
	sess := &fakeSession{
		records: []extract.RawRecord{{
			Fields: map[string]any{"kementerian": "Kementerian Kesihatan", "nilai": "RM 100.00"},
		}},
	}

	p := newTestPipeline(cfg, store, sess, nil)

	first := p.Trigger(context.Background())
	require.True(t, first.Success)
	assert.Equal(t, 1, first.Count)

	second := p.Trigger(context.Background())
	require.True(t, second.Success)
	assert.Equal(t, 0, second.Count, "re-scrape of known records inserts nothing")
	assert.Contains(t, second.Message, "1 duplicates skipped")
}

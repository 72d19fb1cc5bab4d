// Package diagnostics collects per-run artifacts: a timestamped text log,
// screenshots per target URL, and markup dumps on total failure. Failures
// against a hostile scraping target are expected to be common, so the run
// log must survive every exit path; callers defer Flush before doing
// anything else with a run.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/govwatchmy/procurement-pipeline/pkg/logger"
)

// Archive is the optional durable store for flushed artifacts.
type Archive interface {
	UploadBytes(ctx context.Context, data []byte, path, contentType string) (string, error)
}

// Run accumulates diagnostics for a single pipeline run.
type Run struct {
	ID        string
	StartedAt time.Time

	dir     string
	log     *logger.Logger
	archive Archive

	mu      sync.Mutex
	lines   []string
	files   []string
	flushed bool
}

// NewRun creates a diagnostics context writing under dir. The directory is
// created on demand; a missing or unwritable directory degrades to
// log-output-only diagnostics rather than failing the run.
func NewRun(dir, runID string, archive Archive, log *logger.Logger) *Run {
	if log == nil {
		log = logger.Default()
	}
	return &Run{
		ID:        runID,
		StartedAt: time.Now().UTC(),
		dir:       dir,
		log:       log.WithComponent("diagnostics").WithFields(map[string]any{"run_id": runID}),
		archive:   archive,
	}
}

// Logf appends a timestamped line to the run log and mirrors it to the
// structured logger.
func (r *Run) Logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), msg)

	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()

	r.log.Info(msg)
}

// Screenshot writes a PNG artifact for a target URL. The name is slugged into
// the filename; navigation-timeout captures pass a "-timeout" suffixed name.
func (r *Run) Screenshot(name string, png []byte) {
	if len(png) == 0 {
		return
	}
	path := r.writeFile(fmt.Sprintf("screenshot-%s-%s.png", slug(name), r.ID), png)
	if path != "" {
		r.Logf("screenshot captured: %s", path)
	}
}

// DumpHTML writes a full-page markup dump for offline inspection. Only
// called on total extraction failure, which is when a human needs to see
// what the site actually served.
func (r *Run) DumpHTML(name, html string) {
	if html == "" {
		return
	}
	path := r.writeFile(fmt.Sprintf("dump-%s-%s.html", slug(name), r.ID), []byte(html))
	if path != "" {
		r.Logf("markup dump written: %s", path)
	}
}

// Flush writes the accumulated run log to durable storage. It is safe to call
// once on every exit path; repeat calls are no-ops.
func (r *Run) Flush(ctx context.Context) error {
	r.mu.Lock()
	if r.flushed {
		r.mu.Unlock()
		return nil
	}
	r.flushed = true
	lines := make([]string, len(r.lines))
	copy(lines, r.lines)
	files := make([]string, len(r.files))
	copy(files, r.files)
	r.mu.Unlock()

	content := strings.Join(lines, "\n") + "\n"
	name := fmt.Sprintf("scrape-log-%s-%s.txt", r.StartedAt.Format("20060102-150405"), r.ID)
	logPath := r.writeFile(name, []byte(content))
	if logPath == "" {
		return fmt.Errorf("failed to write run log %s", name)
	}
	r.log.Info("run log flushed", "path", logPath, "lines", len(lines), "artifacts", len(files))

	if r.archive != nil {
		remote := fmt.Sprintf("runs/%s/%s", r.ID, name)
		if _, err := r.archive.UploadBytes(ctx, []byte(content), remote, "text/plain"); err != nil {
			r.log.WithError(err).Warn("failed to archive run log")
		}
	}

	return nil
}

// LogDir returns the directory artifacts are written to.
func (r *Run) LogDir() string {
	return r.dir
}

func (r *Run) writeFile(name string, data []byte) string {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		r.log.WithError(err).Warn("cannot create diagnostics dir", "dir", r.dir)
		return ""
	}
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		r.log.WithError(err).Warn("cannot write diagnostic artifact", "path", path)
		return ""
	}

	r.mu.Lock()
	r.files = append(r.files, path)
	r.mu.Unlock()
	return path
}

var slugReplacer = strings.NewReplacer("https://", "", "http://", "", "/", "-", ":", "-", "?", "-", "&", "-", "=", "-", ".", "-")

func slug(s string) string {
	s = slugReplacer.Replace(strings.TrimSpace(s))
	s = strings.Trim(s, "-")
	if len(s) > 80 {
		s = s[:80]
	}
	if s == "" {
		return "page"
	}
	return strings.ToLower(s)
}

// Package browser owns the headless Chrome session used by the scraping
// pipeline: launch with anti-detection measures, bounded navigation, lazy-load
// scrolling, and screenshot capture for diagnosability.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/govwatchmy/procurement-pipeline/internal/diagnostics"
	"github.com/govwatchmy/procurement-pipeline/internal/extract"
	"github.com/govwatchmy/procurement-pipeline/pkg/logger"
)

// Config holds browser session configuration.
type Config struct {
	UserAgent        string
	Headless         bool
	ViewportWidth    int
	ViewportHeight   int
	NavTimeout       time.Duration
	SettleDelay      time.Duration
	ScrollIterations int
	ScrollDelay      time.Duration
	RateLimit        int // navigations per second
}

// DefaultConfig returns a session configuration suitable for government
// portals fronted by bot-detection CDNs.
func DefaultConfig() Config {
	return Config{
		UserAgent:        "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Headless:         true,
		ViewportWidth:    1920,
		ViewportHeight:   1080,
		NavTimeout:       45 * time.Second,
		SettleDelay:      5 * time.Second,
		ScrollIterations: 10,
		ScrollDelay:      500 * time.Millisecond,
		RateLimit:        1,
	}
}

// Static assets are dead weight for extraction; blocking them cuts load time
// and bandwidth against slow government hosts.
var blockedURLPatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.svg", "*.ico",
	"*.woff", "*.woff2", "*.ttf", "*.otf",
	"*.mp4", "*.webm", "*.mp3",
}

// Hides the automation flag that trivial bot checks read first.
const stealthScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// Session is a configured, navigable browser context. It is exclusively owned
// by one pipeline run; Close must run on every exit path since leaked Chrome
// processes exhaust system resources.
type Session struct {
	config     Config
	browserCtx context.Context
	cancels    []context.CancelFunc
	limiter    *rate.Limiter
	collector  *Collector
	diag       *diagnostics.Run
	log        *logger.Logger
}

// Launch starts a headless browser with automation masking, a realistic
// desktop user agent, a fixed viewport, and resource blocking, then attaches
// the response interceptor. A launch failure is session-fatal.
func Launch(ctx context.Context, cfg Config, diag *diagnostics.Run, log *logger.Logger) (*Session, error) {
	if log == nil {
		log = logger.Default()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-first-run", true),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		config:     cfg,
		browserCtx: browserCtx,
		cancels:    []context.CancelFunc{browserCancel, allocCancel},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		collector:  NewCollector(log),
		diag:       diag,
		log:        log.WithComponent("browser"),
	}

	// Starting the browser eagerly surfaces launch failures here instead of
	// on the first navigation.
	err := chromedp.Run(browserCtx,
		network.Enable(),
		network.SetBlockedURLs(blockedURLPatterns),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("browser launch failed: %w", err)
	}

	s.collector.Attach(browserCtx)

	s.log.Info("browser session started",
		"headless", cfg.Headless,
		"viewport", fmt.Sprintf("%dx%d", cfg.ViewportWidth, cfg.ViewportHeight))

	return s, nil
}

// Navigate loads a URL, waits for minimal DOM readiness, then sleeps a fixed
// settle delay so client-side rendering can populate content. Government
// sites may never reach network idle, so full idle is deliberately not waited
// for. On timeout a diagnostic screenshot is captured and the error returned;
// the caller continues with the next target URL.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	s.log.Info("navigating", "url", url, "timeout", s.config.NavTimeout)
	if s.diag != nil {
		s.diag.Logf("navigating to %s", url)
	}

	navCtx, cancel := context.WithTimeout(s.browserCtx, s.config.NavTimeout)
	defer cancel()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.config.SettleDelay),
	)
	if err != nil {
		// The page may still be partially usable after a timeout; capture
		// whatever rendered for the post-mortem.
		if s.diag != nil {
			if shot, shotErr := s.Screenshot(s.browserCtx); shotErr == nil {
				s.diag.Screenshot(url+"-timeout", shot)
			}
			s.diag.Logf("navigation failed for %s: %v", url, err)
		}
		return fmt.Errorf("navigation failed: %w", err)
	}

	return nil
}

// AutoScroll performs incremental scroll-and-wait cycles to trigger
// lazy-loaded content. Both the iteration ceiling and the bottom-of-page
// check bound the loop, so it terminates even on infinite-scroll pages.
func (s *Session) AutoScroll(ctx context.Context) error {
	for i := 0; i < s.config.ScrollIterations; i++ {
		var atBottom bool
		err := chromedp.Run(s.browserCtx,
			chromedp.Evaluate(`(function() {
				window.scrollBy(0, window.innerHeight);
				return window.innerHeight + window.scrollY >= document.body.scrollHeight;
			})()`, &atBottom),
			chromedp.Sleep(s.config.ScrollDelay),
		)
		if err != nil {
			return fmt.Errorf("scroll failed: %w", err)
		}
		if atBottom {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// HTML returns the current page's rendered markup.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := chromedp.Run(s.browserCtx, chromedp.OuterHTML("html", &html)); err != nil {
		return "", fmt.Errorf("failed to capture markup: %w", err)
	}
	return html, nil
}

// Screenshot captures the full current page.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var shot []byte
	if err := chromedp.Run(s.browserCtx, chromedp.FullScreenshot(&shot, 80)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return shot, nil
}

// Records drains the raw records accumulated by the response interceptor.
func (s *Session) Records() []extract.RawRecord {
	return s.collector.Records()
}

// Close tears down the browser process. Safe to call more than once.
func (s *Session) Close() {
	for _, cancel := range s.cancels {
		cancel()
	}
}

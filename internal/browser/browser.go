package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/asin-availability/internal/checker"
	"github.com/playwright-community/playwright-go"
)

// ErrNoPage is returned when navigating a session that has been closed.
var ErrNoPage = errors.New("browser session has no open page")

// Session is a Chromium instance bound to a persistent profile directory.
// It keeps one page open and reuses it for every navigation.
type Session struct {
	pw      *playwright.Playwright
	context playwright.BrowserContext
	page    playwright.Page
	logger  *slog.Logger
}

// Options configures the persistent browser context
type Options struct {
	ProfileDir     string
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	UserAgent      string
}

// DefaultOptions returns default browser options
func DefaultOptions() *Options {
	return &Options{
		ProfileDir:     "./browser-profile",
		Headless:       true,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "en-US",
		TimezoneID:     "America/New_York",
	}
}

// Open starts playwright and launches the persistent context. Everything
// started so far is torn down again when a later step fails.
func Open(opts *Options, logger *slog.Logger) (*Session, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.ProfileDir == "" {
		return nil, errors.New("browser profile directory is required")
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
		},
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
	}
	if opts.Locale != "" {
		launchOpts.Locale = playwright.String(opts.Locale)
	}
	if opts.TimezoneID != "" {
		launchOpts.TimezoneId = playwright.String(opts.TimezoneID)
	}
	if opts.UserAgent != "" {
		launchOpts.UserAgent = playwright.String(opts.UserAgent)
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(opts.ProfileDir, launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch persistent context: %w", err)
	}

	page, reused, err := firstPage(bctx)
	if err != nil {
		bctx.Close()
		pw.Stop()
		return nil, err
	}

	logger = logger.With("component", "browser")
	logger.Info("browser session opened", "profile_dir", opts.ProfileDir, "reused_page", reused)

	return &Session{
		pw:      pw,
		context: bctx,
		page:    page,
		logger:  logger,
	}, nil
}

// firstPage returns the tab the profile restored, or opens a new one.
func firstPage(bctx playwright.BrowserContext) (playwright.Page, bool, error) {
	if pages := bctx.Pages(); len(pages) > 0 {
		return pages[0], true, nil
	}

	page, err := bctx.NewPage()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create new page: %w", err)
	}
	return page, false, nil
}

// Navigate loads url on the session page and returns once the DOM content
// has loaded; subresources are not awaited.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) (checker.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, &checker.NavigationError{URL: url, Err: err}
	}
	if s.page == nil {
		return nil, &checker.NavigationError{URL: url, Err: ErrNoPage}
	}

	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, &checker.NavigationError{
			URL:     url,
			Timeout: errors.Is(err, playwright.ErrTimeout),
			Err:     err,
		}
	}

	return &pageDocument{page: s.page}, nil
}

// Close shuts the context and the driver. It is safe to call more than once.
func (s *Session) Close() error {
	var errs []error

	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
		s.context = nil
		s.page = nil
	}

	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
		s.pw = nil
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	s.logger.Info("browser session closed")
	return nil
}

// pageDocument adapts a live playwright page to checker.Document.
type pageDocument struct {
	page playwright.Page
}

func (d *pageDocument) Title() (string, error) {
	return d.page.Title()
}

func (d *pageDocument) Exists(selector string) (bool, error) {
	count, err := d.page.Locator(selector).Count()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *pageDocument) Text(selector string, timeout time.Duration) (string, error) {
	return d.page.Locator(selector).First().TextContent(playwright.LocatorTextContentOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
}

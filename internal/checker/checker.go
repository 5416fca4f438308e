package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/maltedev/asin-availability/internal/models"
)

const DefaultNavigationTimeout = 45 * time.Second

// Options configures listing URLs and timeouts
type Options struct {
	MarketplaceDomain string
	QueryParams       string
	NavigationTimeout time.Duration
	TitleTimeout      time.Duration
}

// DefaultOptions returns the options for amazon.com
func DefaultOptions() Options {
	return Options{
		MarketplaceDomain: "www.amazon.com",
		QueryParams:       "th=1&psc=1",
		NavigationTimeout: DefaultNavigationTimeout,
		TitleTimeout:      DefaultTitleTimeout,
	}
}

// Checker turns one ASIN into a CheckOutcome.
type Checker struct {
	opts       Options
	classifier *Classifier
	logger     *slog.Logger
}

// New creates a checker
func New(opts Options, logger *slog.Logger) *Checker {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = DefaultNavigationTimeout
	}
	return &Checker{
		opts:       opts,
		classifier: NewClassifier(opts.TitleTimeout),
		logger:     logger.With("component", "checker"),
	}
}

// ListingURL is deterministic in asin.
func (c *Checker) ListingURL(asin string) string {
	u := "https://" + c.opts.MarketplaceDomain + "/dp/" + url.PathEscape(strings.TrimSpace(asin))
	if c.opts.QueryParams != "" {
		u += "?" + c.opts.QueryParams
	}
	return u
}

// Check never fails: navigation, DOM and automation errors, including
// panics from the driver, all end up as a StatusTimeout outcome.
func (c *Checker) Check(ctx context.Context, nav Navigator, asin string) (outcome models.CheckOutcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("check panicked", "asin", asin, "panic", r)
			outcome = failedOutcome(asin)
		}
	}()

	target := c.ListingURL(asin)

	doc, err := nav.Navigate(ctx, target, c.opts.NavigationTimeout)
	if err != nil {
		c.logFailure(asin, err)
		return failedOutcome(asin)
	}

	cls, err := c.classifier.Classify(doc)
	if err != nil {
		c.logFailure(asin, err)
		return failedOutcome(asin)
	}

	if cls.IsBlockedPage {
		c.logger.Info("blocked page", "asin", asin, "page_title", cls.PageTitle)
		return models.CheckOutcome{
			ASIN:          asin,
			Header:        cls.TitleFragment,
			Availability:  models.AvailabilityNotFound,
			IsBlockedPage: true,
			Status:        models.StatusNotFound,
		}
	}

	return models.CheckOutcome{
		ASIN:         asin,
		Header:       cls.TitleFragment,
		Availability: models.AvailabilityInStock,
		Status:       models.StatusSuccess,
	}
}

func (c *Checker) logFailure(asin string, err error) {
	var navErr *NavigationError
	timeout := errors.As(err, &navErr) && navErr.Timeout
	c.logger.Warn("check failed", "asin", asin, "timeout", timeout, "error", err)
}

func failedOutcome(asin string) models.CheckOutcome {
	return models.CheckOutcome{
		ASIN:   asin,
		Header: models.HeaderError,
		Status: models.StatusTimeout,
	}
}

// ClassifySnapshot classifies a static HTML page with the default rules.
func ClassifySnapshot(html string) (Classification, error) {
	doc, err := NewHTMLDocumentString(html)
	if err != nil {
		return Classification{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return NewClassifier(DefaultTitleTimeout).Classify(doc)
}

package checker

import (
	"fmt"
	"strings"
	"time"

	"github.com/maltedev/asin-availability/internal/models"
)

const (
	// BlockedMarkerSelector matches the dog picture on the marketplace's
	// "page not found" substitute.
	BlockedMarkerSelector = `img[alt*="Dogs of Amazon"]`
	// NotFoundTitlePhrase appears in the title of the same page.
	NotFoundTitlePhrase = "Page Not Found"
	// ListingTitleSelector is the product title on a regular listing.
	ListingTitleSelector = "#productTitle"

	DefaultTitleTimeout = 5 * time.Second
)

// Classification is the result of inspecting one loaded page.
type Classification struct {
	IsBlockedPage bool
	TitleFragment string
	PageTitle     string
}

// Classifier inspects a loaded listing page
type Classifier struct {
	MarkerSelector string
	NotFoundPhrase string
	TitleSelector  string
	TitleTimeout   time.Duration
}

// NewClassifier creates a classifier that waits up to titleTimeout for the product title
func NewClassifier(titleTimeout time.Duration) *Classifier {
	if titleTimeout <= 0 {
		titleTimeout = DefaultTitleTimeout
	}
	return &Classifier{
		MarkerSelector: BlockedMarkerSelector,
		NotFoundPhrase: NotFoundTitlePhrase,
		TitleSelector:  ListingTitleSelector,
		TitleTimeout:   titleTimeout,
	}
}

// Classify only reads from doc. Either the marker image or the title phrase
// marks the page as blocked. A missing listing title is not an error; the
// fragment falls back to models.HeaderUnknown. Errors are returned only when
// the page itself cannot be queried.
func (c *Classifier) Classify(doc Document) (Classification, error) {
	var res Classification

	title, err := doc.Title()
	if err != nil {
		return res, fmt.Errorf("failed to read page title: %w", err)
	}
	res.PageTitle = title

	hasMarker, err := doc.Exists(c.MarkerSelector)
	if err != nil {
		return res, fmt.Errorf("failed to query blocked marker: %w", err)
	}

	res.IsBlockedPage = hasMarker || strings.Contains(title, c.NotFoundPhrase)
	res.TitleFragment = models.HeaderUnknown
	if res.IsBlockedPage {
		return res, nil
	}

	text, err := doc.Text(c.TitleSelector, c.TitleTimeout)
	if err != nil {
		return res, nil
	}
	if fragment := models.HeaderFragment(text); fragment != "" {
		res.TitleFragment = fragment
	}

	return res, nil
}

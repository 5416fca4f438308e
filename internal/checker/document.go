package checker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrElementNotFound is returned by Document.Text when nothing matches.
var ErrElementNotFound = errors.New("element not found")

// Document is the read-only view of a loaded listing page the classifier
// works against.
type Document interface {
	Title() (string, error)
	Exists(selector string) (bool, error)
	// Text waits up to timeout for selector and returns its text content.
	Text(selector string, timeout time.Duration) (string, error)
}

// Navigator loads a URL and hands back the resulting page.
type Navigator interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) (Document, error)
}

// NavigationError wraps a failed page load.
type NavigationError struct {
	URL     string
	Timeout bool
	Err     error
}

func (e *NavigationError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("navigation to %s timed out: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// HTMLDocument is a Document over a static HTML snapshot.
type HTMLDocument struct {
	doc *goquery.Document
}

// NewHTMLDocument parses a saved page
func NewHTMLDocument(r io.Reader) (*HTMLDocument, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &HTMLDocument{doc: doc}, nil
}

// NewHTMLDocumentString parses a page held in memory
func NewHTMLDocumentString(html string) (*HTMLDocument, error) {
	return NewHTMLDocument(strings.NewReader(html))
}

func (d *HTMLDocument) Title() (string, error) {
	return strings.TrimSpace(d.doc.Find("title").First().Text()), nil
}

func (d *HTMLDocument) Exists(selector string) (bool, error) {
	return d.doc.Find(selector).Length() > 0, nil
}

// Text ignores timeout; a snapshot never changes.
func (d *HTMLDocument) Text(selector string, _ time.Duration) (string, error) {
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("%s: %w", selector, ErrElementNotFound)
	}
	return sel.Text(), nil
}

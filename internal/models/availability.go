package models

import (
	"strings"
	"time"
)

// Availability is the coarse listing state written to the ingestion table.
// The zero value means the check failed before anything could be decided.
type Availability string

const (
	AvailabilityUnset    Availability = ""
	AvailabilityInStock  Availability = "In Stock"
	AvailabilityNotFound Availability = "N/A"
)

// CheckStatus is the closed set of per-ASIN results.
type CheckStatus int

const (
	StatusSuccess CheckStatus = iota
	StatusNotFound
	StatusTimeout
)

// String returns the wire representation used in progress events.
func (s CheckStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotFound:
		return "404"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

const (
	// HeaderUnknown is used when the listing title could not be located.
	HeaderUnknown = "Unknown"
	// HeaderError is used when navigation or extraction failed.
	HeaderError = "Error"

	maxHeaderWords = 4
)

// CheckOutcome is created once per ASIN per run and passed around by value.
type CheckOutcome struct {
	ASIN          string
	Header        string
	Availability  Availability
	IsBlockedPage bool
	Status        CheckStatus
}

// Available reports whether the outcome counts towards the available total.
func (o CheckOutcome) Available() bool {
	return o.Status == StatusSuccess
}

// IngestionRecord is one persisted row of the availability history.
type IngestionRecord struct {
	ID            string
	ASIN          string
	Header        string
	Availability  Availability
	IsBlockedPage bool
	CheckDate     time.Time
}

// NewIngestionRecord tags an outcome with the calendar day of now.
func NewIngestionRecord(o CheckOutcome, now time.Time) *IngestionRecord {
	y, m, d := now.Date()
	return &IngestionRecord{
		ASIN:          o.ASIN,
		Header:        o.Header,
		Availability:  o.Availability,
		IsBlockedPage: o.IsBlockedPage,
		CheckDate:     time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
	}
}

// RunSummary aggregates the outcomes of one run.
type RunSummary struct {
	Total       int `json:"total"`
	Available   int `json:"available"`
	Unavailable int `json:"unavailable"`
	Errors      int `json:"errors"`
}

// Add counts a single outcome.
func (s *RunSummary) Add(o CheckOutcome) {
	switch o.Status {
	case StatusSuccess:
		s.Available++
	case StatusNotFound:
		s.Unavailable++
	default:
		s.Errors++
	}
}

// Balanced reports whether every item of the run has been counted.
func (s RunSummary) Balanced() bool {
	return s.Available+s.Unavailable+s.Errors == s.Total
}

// HeaderFragment trims title and keeps at most its first four words joined
// by single spaces.
func HeaderFragment(title string) string {
	words := strings.Fields(title)
	if len(words) > maxHeaderWords {
		words = words[:maxHeaderWords]
	}
	return strings.Join(words, " ")
}

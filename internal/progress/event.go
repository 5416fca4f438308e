package progress

import (
	"github.com/maltedev/asin-availability/internal/models"
)

// EventType names a progress event on the wire
type EventType string

const (
	EventProgress EventType = "scraper:progress"
	EventComplete EventType = "scraper:complete"
	EventError    EventType = "scraper:error"
)

// Event is what subscribers receive. Data is a Progress, a
// models.RunSummary or an empty object, depending on Type.
type Event struct {
	Type EventType   `json:"event"`
	Data interface{} `json:"data"`
}

// Terminal reports whether no further events follow for the run.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Progress is the payload of one scraper:progress event. Available and Title
// are left out for failed checks.
type Progress struct {
	Current   int     `json:"current"`
	Total     int     `json:"total"`
	ASIN      string  `json:"asin"`
	Status    string  `json:"status"`
	Available *bool   `json:"available,omitempty"`
	Title     *string `json:"title,omitempty"`
}

// NewProgressEvent reports one checked ASIN. Timeouts carry neither availability nor title.
func NewProgressEvent(current, total int, o models.CheckOutcome) Event {
	p := Progress{
		Current: current,
		Total:   total,
		ASIN:    o.ASIN,
		Status:  o.Status.String(),
	}

	if o.Status != models.StatusTimeout {
		available := o.Available()
		title := o.Header
		p.Available = &available
		p.Title = &title
	}

	return Event{Type: EventProgress, Data: p}
}

// NewCompleteEvent closes a run with its summary
func NewCompleteEvent(summary models.RunSummary) Event {
	return Event{Type: EventComplete, Data: summary}
}

// NewErrorEvent carries no details; observers only learn that the run ended
// abnormally.
func NewErrorEvent() Event {
	return Event{Type: EventError, Data: struct{}{}}
}

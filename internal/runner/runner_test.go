package runner

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/asin-availability/internal/checker"
	"github.com/maltedev/asin-availability/internal/ingest"
	"github.com/maltedev/asin-availability/internal/models"
	"github.com/maltedev/asin-availability/internal/progress"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingHTML = `<html><head><title>Amazon.com: Headphones</title></head><body>
<span id="productTitle">  Wireless Bluetooth Headphones with Noise Cancellation </span>
</body></html>`

const dogPageHTML = `<html><head><title>Amazon.com</title></head><body>
<span id="productTitle">Some Leftover Title Text Here</span>
<img alt="Dogs of Amazon" src="dog.jpg">
</body></html>`

// fakeSession serves HTML per ASIN and fails for ASINs listed in errs.
type fakeSession struct {
	mu      sync.Mutex
	pages   map[string]string
	errs    map[string]error
	visited []string
	closed  int
	onVisit func(asin string)
}

func asinFromURL(url string) string {
	rest := url[strings.Index(url, "/dp/")+len("/dp/"):]
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func (f *fakeSession) Navigate(_ context.Context, url string, _ time.Duration) (checker.Document, error) {
	asin := asinFromURL(url)

	f.mu.Lock()
	f.visited = append(f.visited, asin)
	onVisit := f.onVisit
	f.mu.Unlock()

	if onVisit != nil {
		onVisit(asin)
	}

	if err, ok := f.errs[asin]; ok {
		return nil, err
	}
	html, ok := f.pages[asin]
	if !ok {
		html = listingHTML
	}
	return checker.NewHTMLDocumentString(html)
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type recordingSink struct {
	mu        sync.Mutex
	persisted []models.CheckOutcome
	failFor   map[string]bool
}

func (s *recordingSink) Persist(_ context.Context, o models.CheckOutcome) ingest.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisted = append(s.persisted, o)
	if s.failFor[o.ASIN] {
		return ingest.Result{Reason: "insert failed"}
	}
	return ingest.Result{Saved: true, RecordID: "id-" + o.ASIN}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []progress.Event
}

func (p *recordingPublisher) Publish(evt progress.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) progressEvents() []progress.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []progress.Progress
	for _, e := range p.events {
		if e.Type == progress.EventProgress {
			out = append(out, e.Data.(progress.Progress))
		}
	}
	return out
}

func (p *recordingPublisher) terminal() []progress.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []progress.Event
	for _, e := range p.events {
		if e.Terminal() {
			out = append(out, e)
		}
	}
	return out
}

type countingPacer struct {
	calls int
	err   error
}

func (p *countingPacer) Pause(ctx context.Context) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	return ctx.Err()
}

type harness struct {
	session   *fakeSession
	opened    int
	sink      *recordingSink
	publisher *recordingPublisher
	pacer     *countingPacer
	metrics   *Metrics
	runner    *Runner
}

func newHarness(opts Options) *harness {
	h := &harness{
		session:   &fakeSession{pages: map[string]string{}, errs: map[string]error{}},
		sink:      &recordingSink{failFor: map[string]bool{}},
		publisher: &recordingPublisher{},
		pacer:     &countingPacer{},
		metrics:   NewMetrics(),
	}

	opener := OpenerFunc(func(context.Context) (Session, error) {
		h.opened++
		return h.session, nil
	})

	h.runner = New(Deps{
		Opener:    opener,
		Checker:   checker.New(checker.DefaultOptions(), slog.Default()),
		Sink:      h.sink,
		Publisher: h.publisher,
		Pacer:     h.pacer,
		Metrics:   h.metrics,
	}, opts, slog.Default())

	return h
}

func TestRun_SummaryAndOrderedProgress(t *testing.T) {
	h := newHarness(Options{PauseAfterLast: true})
	h.session.pages["B002"] = dogPageHTML
	h.session.errs["B003"] = &checker.NavigationError{URL: "x", Timeout: true, Err: errors.New("Timeout 45000ms exceeded")}

	asins := []string{"B001", "B002", "B003", "B004"}
	summary, err := h.runner.Run(context.Background(), asins)
	require.NoError(t, err)

	assert.Equal(t, models.RunSummary{Total: 4, Available: 2, Unavailable: 1, Errors: 1}, summary)
	assert.True(t, summary.Balanced())

	events := h.publisher.progressEvents()
	require.Len(t, events, 4)
	for i, e := range events {
		assert.Equal(t, i+1, e.Current)
		assert.Equal(t, 4, e.Total)
		assert.Equal(t, asins[i], e.ASIN)
	}
	assert.Equal(t, "success", events[0].Status)
	assert.Equal(t, "Wireless Bluetooth Headphones with", *events[0].Title)
	assert.Equal(t, "404", events[1].Status)
	assert.False(t, *events[1].Available)
	assert.Equal(t, "timeout", events[2].Status)
	assert.Nil(t, events[2].Available)

	terminal := h.publisher.terminal()
	require.Len(t, terminal, 1)
	assert.Equal(t, progress.EventComplete, terminal[0].Type)
	assert.Equal(t, summary, terminal[0].Data)

	last := h.publisher.events[len(h.publisher.events)-1]
	assert.Equal(t, progress.EventComplete, last.Type)

	assert.Equal(t, asins, h.session.visited)
	assert.Equal(t, 1, h.opened)
	assert.Equal(t, 1, h.session.closed)
}

func TestRun_BlockedPageWinsOverTitle(t *testing.T) {
	h := newHarness(Options{})
	h.session.pages["B001"] = dogPageHTML

	_, err := h.runner.Run(context.Background(), []string{"B001"})
	require.NoError(t, err)

	require.Len(t, h.sink.persisted, 1)
	o := h.sink.persisted[0]
	assert.Equal(t, models.StatusNotFound, o.Status)
	assert.Equal(t, models.AvailabilityNotFound, o.Availability)
	assert.True(t, o.IsBlockedPage)
}

func TestRun_TimeoutDoesNotStopNextASIN(t *testing.T) {
	h := newHarness(Options{})
	h.session.errs["B001"] = &checker.NavigationError{URL: "x", Timeout: true, Err: errors.New("timeout")}

	summary, err := h.runner.Run(context.Background(), []string{"B001", "B002"})
	require.NoError(t, err)

	assert.Equal(t, []string{"B001", "B002"}, h.session.visited)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Available)

	require.Len(t, h.sink.persisted, 2)
	assert.Equal(t, models.HeaderError, h.sink.persisted[0].Header)
	assert.Equal(t, models.AvailabilityUnset, h.sink.persisted[0].Availability)
}

func TestRun_PersistFailureDoesNotStopRun(t *testing.T) {
	h := newHarness(Options{})
	h.sink.failFor["B001"] = true

	summary, err := h.runner.Run(context.Background(), []string{"B001", "B002"})
	require.NoError(t, err)

	assert.Len(t, h.sink.persisted, 2)
	assert.Len(t, h.publisher.progressEvents(), 2)
	assert.Equal(t, 2, summary.Available)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.PersistFailures))
}

func TestRun_EmptyList(t *testing.T) {
	h := newHarness(Options{PauseAfterLast: true})

	summary, err := h.runner.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, models.RunSummary{}, summary)
	assert.Empty(t, h.publisher.progressEvents())

	terminal := h.publisher.terminal()
	require.Len(t, terminal, 1)
	assert.Equal(t, progress.EventComplete, terminal[0].Type)
	assert.Equal(t, models.RunSummary{}, terminal[0].Data)

	assert.Zero(t, h.opened)
	assert.Zero(t, h.pacer.calls)
}

func TestRun_PauseAfterEveryItem(t *testing.T) {
	tests := []struct {
		name           string
		pauseAfterLast bool
		wantPauses     int
	}{
		{"including last", true, 3},
		{"without trailing pause", false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(Options{PauseAfterLast: tt.pauseAfterLast})
			_, err := h.runner.Run(context.Background(), []string{"B001", "B002", "B003"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantPauses, h.pacer.calls)
		})
	}
}

func TestRun_CancellationStopsAtIterationBoundary(t *testing.T) {
	h := newHarness(Options{PauseAfterLast: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.session.onVisit = func(asin string) {
		if asin == "B002" {
			cancel()
		}
	}

	summary, err := h.runner.Run(ctx, []string{"B001", "B002", "B003"})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"B001", "B002"}, h.session.visited)
	assert.Len(t, h.sink.persisted, 2, "the in-flight outcome is still stored")
	assert.Equal(t, 2, summary.Available)
	assert.Equal(t, 1, h.session.closed)

	terminal := h.publisher.terminal()
	require.Len(t, terminal, 1)
	assert.Equal(t, progress.EventError, terminal[0].Type)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues("cancelled")))
}

func TestRun_CancelDuringTrailingPauseCompletes(t *testing.T) {
	h := newHarness(Options{PauseAfterLast: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.session.onVisit = func(string) { cancel() }

	summary, err := h.runner.Run(ctx, []string{"B001"})
	require.NoError(t, err)

	assert.Equal(t, models.RunSummary{Total: 1, Available: 1}, summary)
	assert.Equal(t, 1, h.pacer.calls)
	assert.Equal(t, 1, h.session.closed)

	terminal := h.publisher.terminal()
	require.Len(t, terminal, 1)
	assert.Equal(t, progress.EventComplete, terminal[0].Type)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues("completed")))
	assert.Zero(t, testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues("cancelled")))
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	h := newHarness(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.runner.Run(ctx, []string{"B001"})
	require.ErrorIs(t, err, context.Canceled)

	assert.Zero(t, h.opened)
	assert.Empty(t, h.session.visited)
	require.Len(t, h.publisher.terminal(), 1)
	assert.Equal(t, progress.EventError, h.publisher.terminal()[0].Type)
}

func TestRun_OpenFailure(t *testing.T) {
	publisher := &recordingPublisher{}
	r := New(Deps{
		Opener: OpenerFunc(func(context.Context) (Session, error) {
			return nil, errors.New("profile locked")
		}),
		Checker:   checker.New(checker.DefaultOptions(), slog.Default()),
		Sink:      &recordingSink{},
		Publisher: publisher,
		Pacer:     &countingPacer{},
	}, Options{}, slog.Default())

	_, err := r.Run(context.Background(), []string{"B001"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile locked")

	require.Len(t, publisher.events, 1)
	assert.Equal(t, progress.EventError, publisher.events[0].Type)
}

func TestRun_PauseErrorAborts(t *testing.T) {
	h := newHarness(Options{})
	h.pacer.err = context.DeadlineExceeded

	_, err := h.runner.Run(context.Background(), []string{"B001", "B002"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, []string{"B001"}, h.session.visited)
	assert.Equal(t, 1, h.session.closed)
	assert.Equal(t, progress.EventError, h.publisher.terminal()[0].Type)
}

func TestRun_MetricsByStatus(t *testing.T) {
	h := newHarness(Options{})
	h.session.pages["B002"] = dogPageHTML
	h.session.errs["B003"] = errors.New("net::ERR_CONNECTION_RESET")

	_, err := h.runner.Run(context.Background(), []string{"B001", "B002", "B003"})
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ChecksTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ChecksTotal.WithLabelValues("404")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ChecksTotal.WithLabelValues("timeout")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues("completed")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCheck(models.StatusSuccess, time.Second)
		m.IncPersistFailure()
		m.IncDroppedEvent()
		m.IncRun("completed")
	})
}

package docsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// fakeAnalyzer lints by echoing the text back as a diagnostic message.
type fakeAnalyzer struct {
	mu      sync.Mutex
	linted  []string
	lintErr []error // consumed one per call, nil entries mean success
	fixFn   func(text string) (string, error)

	// gate, when non-nil, blocks every Lint until it is closed or ctx ends.
	gate    chan struct{}
	started chan string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	cancelled   atomic.Int32
	delay       time.Duration
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{started: make(chan string, 1024)}
}

func (a *fakeAnalyzer) Lint(ctx context.Context, _ uri.URI, text string) ([]protocol.Diagnostic, error) {
	n := a.inFlight.Add(1)
	defer a.inFlight.Add(-1)
	for {
		peak := a.maxInFlight.Load()
		if n <= peak || a.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	a.mu.Lock()
	a.linted = append(a.linted, text)
	var err error
	if len(a.lintErr) > 0 {
		err, a.lintErr = a.lintErr[0], a.lintErr[1:]
	}
	gate := a.gate
	a.mu.Unlock()

	a.started <- text

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			a.cancelled.Add(1)
			return nil, ctx.Err()
		}
	}
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if err != nil {
		return nil, err
	}
	return []protocol.Diagnostic{{Message: text, Source: "test"}}, nil
}

func (a *fakeAnalyzer) Fix(_ context.Context, _ uri.URI, text string) (string, error) {
	if a.fixFn != nil {
		return a.fixFn(text)
	}
	return text, nil
}

func (a *fakeAnalyzer) lintedTexts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.linted...)
}

func (a *fakeAnalyzer) waitStarted(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-a.started:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("lint of %q never started", want)
	}
}

type publication struct {
	id    uri.URI
	diags []protocol.Diagnostic
}

// fakeSink records everything the registry reports.
type fakeSink struct {
	mu           sync.Mutex
	publications []publication
	errors       []string
	failPublish  bool

	// holdClear, when non-nil, blocks every empty publication until it is
	// closed. clearing receives one value as each such publication starts.
	holdClear chan struct{}
	clearing  chan struct{}
}

func (s *fakeSink) PublishDiagnostics(_ context.Context, id uri.URI, diags []protocol.Diagnostic) error {
	if len(diags) == 0 && s.holdClear != nil {
		s.clearing <- struct{}{}
		<-s.holdClear
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.publications = append(s.publications, publication{id: id, diags: diags})
	if s.failPublish {
		return errors.New("client went away")
	}
	return nil
}

func (s *fakeSink) ReportError(_ context.Context, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, message)
	return nil
}

func (s *fakeSink) published(id uri.URI) []publication {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []publication
	for _, p := range s.publications {
		if p.id == id {
			out = append(out, p)
		}
	}
	return out
}

func (s *fakeSink) reported() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.errors...)
}

// lastMessage returns the message of the single diagnostic in the latest
// publication for id, or "" when nothing non-empty was published.
func (s *fakeSink) lastMessage(id uri.URI) string {
	pubs := s.published(id)
	if len(pubs) == 0 || len(pubs[len(pubs)-1].diags) == 0 {
		return ""
	}
	return pubs[len(pubs)-1].diags[0].Message
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

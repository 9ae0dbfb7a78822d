// Package docsync keeps the text of every open document and revalidates it
// in the background.
//
// Each open document owns a State and a task goroutine. Edits publish the
// newest text into the State; the task lints whatever is newest whenever it
// is ready, so bursts of edits collapse into a single lint. Closing a
// document closes its State, cancels any running lint and clears the
// document's diagnostics.
package docsync

import (
	"context"
	"sync"
	"sync/atomic"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
)

// Analyzer lints and fixes document text.
type Analyzer interface {
	Lint(ctx context.Context, id uri.URI, text string) ([]protocol.Diagnostic, error)
	Fix(ctx context.Context, id uri.URI, text string) (string, error)
}

// Sink receives everything reported back to the client.
type Sink interface {
	// PublishDiagnostics replaces the diagnostics shown for id.
	PublishDiagnostics(ctx context.Context, id uri.URI, diags []protocol.Diagnostic) error

	// ReportError surfaces a failure to the user.
	ReportError(ctx context.Context, message string) error
}

// entry is one open document.
type entry struct {
	state  *State
	cancel context.CancelFunc
}

// Registry maps open documents to their state and revalidation task.
// An entry exists exactly while its document is open.
type Registry struct {
	mu   sync.RWMutex
	docs map[uri.URI]*entry

	// clearing holds, per id, a channel closed once the empty diagnostics
	// of its latest Close have been published. A reopened document does
	// not publish before that.
	clearing map[uri.URI]chan struct{}

	analyzer Analyzer
	sink     Sink
	logger   *zap.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	running    atomic.Int64
	violations atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry(analyzer Analyzer, sink Sink, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Registry{
		docs:     make(map[uri.URI]*entry),
		clearing: make(map[uri.URI]chan struct{}),
		analyzer: analyzer,
		sink:     sink,
		logger:   logger,
		base:     base,
		stop:     stop,
	}
}

// Open starts tracking a document and schedules its first lint.
// Opening a document that is already open publishes text as an edit.
// After Shutdown, Open is ignored.
func (r *Registry) Open(id uri.URI, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.base.Err() != nil {
		r.logger.Warn("ignoring open after shutdown", zap.String("uri", string(id)))
		return
	}

	if e, ok := r.docs[id]; ok {
		r.publish(id, e, text)
		return
	}

	ctx, cancel := context.WithCancel(r.base)
	t := &task{
		id:       id,
		state:    NewState(text),
		analyzer: r.analyzer,
		sink:     r.sink,
		logger:   r.logger,
		after:    r.clearing[id],
	}

	r.wg.Add(1)
	r.running.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Add(-1)
		t.run(ctx)
	}()

	r.docs[id] = &entry{state: t.state, cancel: cancel}
	r.logger.Debug("document opened", zap.String("uri", string(id)))
}

// Edit publishes new text for an open document.
// Edits for documents that are not open are ignored.
func (r *Registry) Edit(id uri.URI, text string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.docs[id]
	if !ok {
		r.logger.Debug("ignoring edit for document that is not open", zap.String("uri", string(id)))
		return
	}
	r.publish(id, e, text)
}

// Save publishes text when the client included it with the save.
func (r *Registry) Save(id uri.URI, text string, hasText bool) {
	if !hasText {
		return
	}
	r.Edit(id, text)
}

// Close stops tracking a document and clears its diagnostics.
// A lint running for the document is cancelled and its result dropped.
func (r *Registry) Close(ctx context.Context, id uri.URI) {
	cleared := make(chan struct{})

	r.mu.Lock()
	e, ok := r.docs[id]
	delete(r.docs, id)
	r.clearing[id] = cleared
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.clearing[id] == cleared {
			delete(r.clearing, id)
		}
		r.mu.Unlock()
		close(cleared)
	}()

	if ok {
		e.state.Close()
		e.cancel()
		r.logger.Debug("document closed", zap.String("uri", string(id)))
	}

	if err := r.sink.PublishDiagnostics(ctx, id, []protocol.Diagnostic{}); err != nil {
		r.logger.Warn("failed to clear diagnostics",
			zap.String("uri", string(id)),
			zap.Error(err),
		)
	}
}

// Snapshot returns the latest text of an open document.
func (r *Registry) Snapshot(id uri.URI) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.docs[id]
	if !ok {
		return "", false
	}
	return e.state.Current(), true
}

// RevalidateAll republishes the current text of every open document so
// each one is linted again. It returns the number of documents touched.
func (r *Registry) RevalidateAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, e := range r.docs {
		r.publish(id, e, e.state.Current())
	}
	return len(r.docs)
}

// Shutdown closes every open document and waits for all tasks to exit.
// Documents opened afterwards are ignored.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.stop()
	ids := make([]uri.URI, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Close(ctx, id)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of open documents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

// Running returns the number of revalidation tasks still alive.
func (r *Registry) Running() int {
	return int(r.running.Load())
}

// Violations returns how many lifecycle violations have been logged.
func (r *Registry) Violations() int64 {
	return r.violations.Load()
}

// publish must be called with r.mu held, which keeps Close from tearing
// the state down underneath it.
func (r *Registry) publish(id uri.URI, e *entry, text string) {
	if err := e.state.Publish(text); err != nil {
		r.violations.Add(1)
		r.logger.Error("lifecycle violation",
			zap.String("uri", string(id)),
			zap.Error(err),
		)
	}
}

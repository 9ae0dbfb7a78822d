package docsync

import (
	"context"
	"errors"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
)

// task revalidates one document until its state is closed.
// Lint calls for the document run strictly one after another.
type task struct {
	id       uri.URI
	state    *State
	analyzer Analyzer
	sink     Sink
	logger   *zap.Logger

	// after, when set, is closed once a previous incarnation of the
	// document has had its diagnostics cleared.
	after <-chan struct{}
}

func (t *task) run(ctx context.Context) {
	if t.after != nil {
		select {
		case <-t.after:
		case <-ctx.Done():
			return
		}
	}
	for {
		text, err := t.state.Next(ctx)
		if err != nil {
			t.logger.Debug("revalidation stopped",
				zap.String("uri", string(t.id)),
				zap.Error(err),
			)
			return
		}
		t.revalidate(ctx, text)
	}
}

// revalidate lints text once. A failed cycle leaves the previously
// published diagnostics in place.
func (t *task) revalidate(ctx context.Context, text string) {
	diags, err := t.analyzer.Lint(ctx, t.id, text)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || t.state.Closed() {
			return
		}
		t.logger.Error("lint failed",
			zap.String("uri", string(t.id)),
			zap.Error(err),
		)
		t.state.Deliver(func() {
			if err := t.sink.ReportError(ctx, err.Error()); err != nil {
				t.logger.Warn("failed to report lint error", zap.Error(err))
			}
		})
		return
	}

	if diags == nil {
		diags = []protocol.Diagnostic{}
	}
	delivered := t.state.Deliver(func() {
		if err := t.sink.PublishDiagnostics(ctx, t.id, diags); err != nil {
			t.logger.Warn("failed to publish diagnostics",
				zap.String("uri", string(t.id)),
				zap.Error(err),
			)
		}
	})
	if !delivered {
		t.logger.Debug("discarding diagnostics for closed document", zap.String("uri", string(t.id)))
	}
}

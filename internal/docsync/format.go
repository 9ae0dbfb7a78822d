package docsync

import (
	"context"
	"strings"
	"unicode/utf16"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
)

// Format fixes the latest text of an open document and returns a single
// edit replacing the whole document. It returns no edits when the document
// is not open. Failures are reported to the sink and returned.
func (r *Registry) Format(ctx context.Context, id uri.URI) ([]protocol.TextEdit, error) {
	text, ok := r.Snapshot(id)
	if !ok {
		r.logger.Debug("ignoring format for document that is not open", zap.String("uri", string(id)))
		return nil, nil
	}

	fixed, err := r.analyzer.Fix(ctx, id, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		r.logger.Error("format failed",
			zap.String("uri", string(id)),
			zap.Error(err),
		)
		if rerr := r.sink.ReportError(ctx, err.Error()); rerr != nil {
			r.logger.Warn("failed to report format error", zap.Error(rerr))
		}
		return nil, err
	}

	return []protocol.TextEdit{{
		Range: protocol.Range{
			Start: protocol.Position{Line: 0, Character: 0},
			End:   DocumentEnd(text),
		},
		NewText: fixed,
	}}, nil
}

// DocumentEnd returns the end position used for whole-document edits: the
// line count (a trailing newline does not start a new line) and the UTF-16
// length of the last line.
func DocumentEnd(text string) protocol.Position {
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return protocol.Position{}
	}

	last := strings.TrimSuffix(lines[len(lines)-1], "\r")
	return protocol.Position{
		Line:      uint32(len(lines)),
		Character: uint32(len(utf16.Encode([]rune(last)))),
	}
}

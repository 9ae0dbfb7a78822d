package lsp

import (
	"context"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// PublishDiagnostics sends textDocument/publishDiagnostics to the client.
// It is a no-op before a client is connected.
func (s *Server) PublishDiagnostics(ctx context.Context, id uri.URI, diags []protocol.Diagnostic) error {
	client := s.currentClient()
	if client == nil {
		return nil
	}
	if diags == nil {
		diags = []protocol.Diagnostic{}
	}
	return client.PublishDiagnostics(ctx, &protocol.PublishDiagnosticsParams{
		URI:         documentURI(id),
		Diagnostics: diags,
	})
}

// ReportError shows an error message in the client.
func (s *Server) ReportError(ctx context.Context, message string) error {
	client := s.currentClient()
	if client == nil {
		return nil
	}
	return client.ShowMessage(ctx, &protocol.ShowMessageParams{
		Type:    protocol.MessageTypeError,
		Message: message,
	})
}

package lsp

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/jarredhawkins/sqlfluff-lsp/internal/docsync"
)

const (
	serverName    = "sqlfluff-lsp"
	serverVersion = "0.1.0"

	// shutdownTimeout bounds how long shutdown waits for revalidation tasks.
	shutdownTimeout = 5 * time.Second
)

// Server implements the LSP server
type Server struct {
	registry *docsync.Registry
	logger   *zap.Logger

	mu     sync.RWMutex
	client protocol.Client
	exit   context.CancelFunc
}

// NewServer creates a new LSP server that lints and formats with analyzer
func NewServer(analyzer docsync.Analyzer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{logger: logger}
	s.registry = docsync.NewRegistry(analyzer, s, logger.Named("docsync"))
	return s
}

// Registry exposes the open documents, e.g. for config-file revalidation.
func (s *Server) Registry() *docsync.Registry {
	return s.registry
}

// Serve starts the LSP server on the given reader/writer. It returns nil
// after the client sends exit.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, exit := context.WithCancel(ctx)
	defer exit()

	stream := jsonrpc2.NewStream(&readWriteCloser{in, out})
	conn := jsonrpc2.NewConn(stream)

	s.mu.Lock()
	s.client = protocol.ClientDispatcher(conn, s.logger.Named("client"))
	s.exit = exit
	s.mu.Unlock()

	defer s.stopDocuments()

	conn.Go(ctx, s.handler)

	select {
	case <-ctx.Done():
		if s.exited() {
			return nil
		}
		return ctx.Err()
	case <-conn.Done():
		return conn.Err()
	}
}

func (s *Server) handler(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	s.logger.Debug("LSP request", zap.String("method", req.Method()))

	switch req.Method() {
	case "initialize":
		return s.handleInitialize(ctx, reply, req)
	case "initialized":
		return reply(ctx, nil, nil)
	case "shutdown":
		return s.handleShutdown(ctx, reply, req)
	case "exit":
		return s.handleExit(ctx, reply, req)
	case "textDocument/didOpen":
		return s.handleDidOpen(ctx, reply, req)
	case "textDocument/didChange":
		return s.handleDidChange(ctx, reply, req)
	case "textDocument/didSave":
		return s.handleDidSave(ctx, reply, req)
	case "textDocument/didClose":
		return s.handleDidClose(ctx, reply, req)
	case "textDocument/formatting":
		return s.handleFormatting(ctx, reply, req)
	default:
		return reply(ctx, nil, &jsonrpc2.Error{
			Code:    jsonrpc2.MethodNotFound,
			Message: "method not supported: " + req.Method(),
		})
	}
}

func (s *Server) handleInitialize(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	result := protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.TextDocumentSyncKindFull,
				Save:      &protocol.SaveOptions{IncludeText: true},
			},
			DocumentFormattingProvider: true,
		},
		ServerInfo: &protocol.ServerInfo{
			Name:    serverName,
			Version: serverVersion,
		},
	}
	return reply(ctx, result, nil)
}

func (s *Server) handleShutdown(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	s.stopDocuments()
	return reply(ctx, nil, nil)
}

func (s *Server) handleExit(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	s.mu.Lock()
	exit := s.exit
	s.exit = nil
	s.mu.Unlock()

	if exit != nil {
		exit()
	}
	return reply(ctx, nil, nil)
}

func (s *Server) handleDidOpen(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidOpenTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyInvalidParams(ctx, reply, err)
	}

	s.registry.Open(documentID(params.TextDocument.URI), params.TextDocument.Text)
	return reply(ctx, nil, nil)
}

func (s *Server) handleDidChange(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidChangeTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyInvalidParams(ctx, reply, err)
	}

	if len(params.ContentChanges) > 0 {
		// Full sync mode - just take the last content
		text := params.ContentChanges[len(params.ContentChanges)-1].Text
		s.registry.Edit(documentID(params.TextDocument.URI), text)
	}
	return reply(ctx, nil, nil)
}

// didSaveParams keeps the difference between a missing and an empty text.
type didSaveParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Text         *string                         `json:"text,omitempty"`
}

func (s *Server) handleDidSave(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params didSaveParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyInvalidParams(ctx, reply, err)
	}

	id := documentID(params.TextDocument.URI)
	if params.Text == nil {
		s.registry.Save(id, "", false)
	} else {
		s.registry.Save(id, *params.Text, true)
	}
	return reply(ctx, nil, nil)
}

func (s *Server) handleDidClose(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidCloseTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyInvalidParams(ctx, reply, err)
	}

	s.registry.Close(ctx, documentID(params.TextDocument.URI))
	return reply(ctx, nil, nil)
}

// handleFormatting replies from its own goroutine so a slow sqlfluff fix
// does not hold up the notifications queued behind it.
func (s *Server) handleFormatting(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DocumentFormattingParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return replyInvalidParams(ctx, reply, err)
	}

	id := documentID(params.TextDocument.URI)
	go func() {
		edits, err := s.registry.Format(ctx, id)
		if err != nil {
			// Already shown to the user; the request itself yields no edits.
			edits = nil
		}
		if err := reply(ctx, edits, nil); err != nil {
			s.logger.Warn("failed to reply to formatting request", zap.Error(err))
		}
	}()
	return nil
}

func replyInvalidParams(ctx context.Context, reply jsonrpc2.Replier, err error) error {
	return reply(ctx, nil, &jsonrpc2.Error{
		Code:    jsonrpc2.InvalidParams,
		Message: err.Error(),
	})
}

func (s *Server) currentClient() protocol.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *Server) exited() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exit == nil
}

// stopDocuments closes every open document and waits for its task.
func (s *Server) stopDocuments() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.registry.Shutdown(ctx); err != nil {
		s.logger.Warn("revalidation tasks did not stop in time", zap.Error(err))
	}
}

// readWriteCloser wraps reader and writer into a ReadWriteCloser
type readWriteCloser struct {
	io.Reader
	io.Writer
}

func (rwc *readWriteCloser) Close() error {
	return nil
}

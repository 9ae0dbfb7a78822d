// Package sqlfluff runs the sqlfluff CLI to lint and fix SQL documents.
//
// Every call spawns its own process, feeds the document on stdin and
// interprets the exit status and stdout. Nothing is shared between calls,
// so a Client is safe for concurrent use.
package sqlfluff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/segmentio/encoding/json"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/jarredhawkins/sqlfluff-lsp/internal/config"
)

// Source tags every diagnostic produced by this server.
const Source = "sqlfluff-lsp"

// maxQuotedOutput caps how much undecodable stdout is quoted in an error.
const maxQuotedOutput = 512

// Violation is one record of `sqlfluff lint --format=github-annotation`.
// Positions are 1-based.
type Violation struct {
	StartLine   int    `json:"start_line"`
	StartColumn int    `json:"start_column"`
	EndLine     int    `json:"end_line"`
	EndColumn   int    `json:"end_column"`
	Message     string `json:"message"`
}

// Client invokes sqlfluff with a fixed configuration.
type Client struct {
	cfg    config.Config
	logger *zap.Logger
	inst   *instruments
}

// New creates a client for the given configuration. Spans and metrics go
// to the global otel providers unless options say otherwise.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	inst, err := newInstruments(o)
	if err != nil {
		logger.Warn("sqlfluff call metrics disabled", zap.Error(err))
		inst = &instruments{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}
	}
	return &Client{cfg: cfg, logger: logger, inst: inst}
}

// Lint runs `sqlfluff lint` on text and returns its findings as diagnostics.
func (c *Client) Lint(ctx context.Context, id uri.URI, text string) (diags []protocol.Diagnostic, err error) {
	filename := FilenameHint(id)
	ctx, span := c.inst.startCallSpan(ctx, "lint", filename)
	start := time.Now()
	defer func() {
		endCallSpan(span, err)
		c.inst.recordCall(ctx, "lint", outcomeOf(err), time.Since(start))
	}()

	out, err := newCommand(c.cfg, "lint").
		with(
			"--stdin-filename="+filename,
			"--disable-progress-bar",
			"--nocolor",
			"--format=github-annotation",
			"--nofail",
			"-",
		).
		run(ctx, text)
	if err != nil {
		return nil, err
	}
	if out.exitCode != 0 {
		return nil, out.failure("lint")
	}

	violations, err := decodeViolations(out.stdout)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("sqlfluff lint finished",
		zap.String("filename", filename),
		zap.Int("violations", len(violations)),
		zap.Duration("took", time.Since(start)),
	)
	return ToDiagnostics(violations), nil
}

// Fix runs `sqlfluff fix` on text and returns the rewritten document.
// Exit status 1 means unfixable violations remain; the output is still used.
func (c *Client) Fix(ctx context.Context, id uri.URI, text string) (fixed string, err error) {
	filename := FilenameHint(id)
	ctx, span := c.inst.startCallSpan(ctx, "fix", filename)
	start := time.Now()
	defer func() {
		endCallSpan(span, err)
		c.inst.recordCall(ctx, "fix", outcomeOf(err), time.Since(start))
	}()

	out, err := newCommand(c.cfg, "fix").
		with(
			"--stdin-filename="+filename,
			"--disable-progress-bar",
			"--nocolor",
			"--quiet",
			"-",
		).
		run(ctx, text)
	if err != nil {
		return "", err
	}

	switch out.exitCode {
	case 0, 1:
	default:
		return "", out.failure("fix")
	}

	c.logger.Debug("sqlfluff fix finished",
		zap.String("filename", filename),
		zap.Int("exit_code", out.exitCode),
		zap.Duration("took", time.Since(start)),
	)
	return string(out.stdout), nil
}

func decodeViolations(stdout []byte) ([]Violation, error) {
	if len(bytes.TrimSpace(stdout)) == 0 {
		return nil, nil
	}

	var violations []Violation
	if err := json.Unmarshal(stdout, &violations); err != nil {
		quoted := stdout
		if len(quoted) > maxQuotedOutput {
			quoted = quoted[:maxQuotedOutput]
		}
		return nil, &ProcessError{
			Subcommand: "lint",
			ExitCode:   0,
			Err:        ErrOutputDecode,
			Cause:      fmt.Errorf("%w: %q", err, quoted),
		}
	}
	return violations, nil
}

// ToDiagnostics converts 1-based sqlfluff positions into 0-based LSP diagnostics.
func ToDiagnostics(violations []Violation) []protocol.Diagnostic {
	diags := make([]protocol.Diagnostic, 0, len(violations))
	for _, v := range violations {
		diags = append(diags, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{
					Line:      zeroBased(v.StartLine),
					Character: zeroBased(v.StartColumn),
				},
				End: protocol.Position{
					Line:      zeroBased(v.EndLine),
					Character: zeroBased(v.EndColumn),
				},
			},
			Severity: protocol.DiagnosticSeverityWarning,
			Source:   Source,
			Message:  v.Message,
		})
	}
	return diags
}

func zeroBased(n int) uint32 {
	if n < 1 {
		return 0
	}
	return uint32(n - 1)
}

// FilenameHint returns the path passed to --stdin-filename so sqlfluff
// can find the configuration files next to the document.
func FilenameHint(id uri.URI) string {
	u, err := url.Parse(string(id))
	if err != nil || u.Scheme == "" {
		return string(id)
	}
	if u.Scheme == uri.FileScheme {
		return id.Filename()
	}
	if u.Path != "" {
		return u.Path
	}
	return u.Opaque
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, context.Canceled):
		return outcomeCancelled
	default:
		return outcomeFailed
	}
}

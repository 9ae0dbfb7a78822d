package docsync

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap/zaptest"

	"github.com/jarredhawkins/sqlfluff-lsp/internal/config"
	"github.com/jarredhawkins/sqlfluff-lsp/internal/sqlfluff"
)

func TestFormatCanonicalInputIsNoopRewrite(t *testing.T) {
	r := newTestRegistry(t, newFakeAnalyzer(), &fakeSink{})

	text := "SELECT a\nFROM b\n"
	r.Open(docA, text)

	edits, err := r.Format(context.Background(), docA)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, text, edits[0].NewText)
	assert.Equal(t, protocol.Range{
		Start: protocol.Position{Line: 0, Character: 0},
		End:   protocol.Position{Line: 2, Character: 6},
	}, edits[0].Range)
}

func TestFormatUsesLatestText(t *testing.T) {
	analyzer := newFakeAnalyzer()
	analyzer.fixFn = func(text string) (string, error) {
		return strings.ToUpper(text), nil
	}
	r := newTestRegistry(t, analyzer, &fakeSink{})

	r.Open(docA, "select 1")
	r.Edit(docA, "select 2")

	edits, err := r.Format(context.Background(), docA)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, "SELECT 2", edits[0].NewText)
	assert.Equal(t, protocol.Position{Line: 1, Character: 8}, edits[0].Range.End)
}

func TestFormatDocumentNotOpen(t *testing.T) {
	sink := &fakeSink{}
	r := newTestRegistry(t, newFakeAnalyzer(), sink)

	edits, err := r.Format(context.Background(), docA)
	assert.NoError(t, err)
	assert.Nil(t, edits)
	assert.Empty(t, sink.reported())
}

func TestFormatFailure(t *testing.T) {
	analyzer := newFakeAnalyzer()
	analyzer.fixFn = func(string) (string, error) {
		return "", &sqlfluff.ProcessError{Subcommand: "fix", ExitCode: 2, Err: sqlfluff.ErrProcessExecution}
	}
	sink := &fakeSink{}
	r := newTestRegistry(t, analyzer, sink)

	r.Open(docA, "select 1")

	edits, err := r.Format(context.Background(), docA)
	assert.ErrorIs(t, err, sqlfluff.ErrProcessExecution)
	assert.Nil(t, edits)
	require.Len(t, sink.reported(), 1)
	assert.Contains(t, sink.reported()[0], "sqlfluff fix")

	text, ok := r.Snapshot(docA)
	require.True(t, ok)
	assert.Equal(t, "select 1", text, "failed format leaves the document untouched")
}

func TestDocumentEnd(t *testing.T) {
	tests := []struct {
		name string
		text string
		want protocol.Position
	}{
		{name: "empty", text: "", want: protocol.Position{}},
		{name: "single line", text: "SELECT 1", want: protocol.Position{Line: 1, Character: 8}},
		{name: "trailing newline", text: "SELECT 1\n", want: protocol.Position{Line: 1, Character: 8}},
		{name: "crlf", text: "SELECT\r\n1\r\n", want: protocol.Position{Line: 2, Character: 1}},
		{name: "utf16 surrogate pair", text: "-- 😀", want: protocol.Position{Line: 1, Character: 5}},
		{
			name: "unformatted query with indented last line",
			text: "SELECT\n    region, COUNT(*) AS total_customers, SUM(amount) AS total_sales\nFROm customer\nINNER JOIN sales ON customer.customer_id = sales.customer_id\n GROUP BY region\nORDER BY total_sales desc\n        ",
			want: protocol.Position{Line: 7, Character: 8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DocumentEnd(tt.text))
		})
	}
}

func TestFormatWithSqlfluff(t *testing.T) {
	if _, err := exec.LookPath("sqlfluff"); err != nil {
		t.Skip("sqlfluff not installed")
	}

	client := sqlfluff.New(config.Config{Dialect: "snowflake", Timeout: time.Minute}, zaptest.NewLogger(t))
	r := newTestRegistry(t, client, &fakeSink{})

	id := uri.File(filepath.Join(t.TempDir(), "temp.sql"))
	r.Open(id, "SELECT\n    region, COUNT(*) AS total_customers, SUM(amount) AS total_sales\nFROm customer\nINNER JOIN sales ON customer.customer_id = sales.customer_id\n GROUP BY region\nORDER BY total_sales desc\n        ")

	edits, err := r.Format(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, protocol.TextEdit{
		Range: protocol.Range{
			Start: protocol.Position{Line: 0, Character: 0},
			End:   protocol.Position{Line: 7, Character: 8},
		},
		NewText: "SELECT\n    region,\n    COUNT(*) AS total_customers,\n    SUM(amount) AS total_sales\nFROM customer\nINNER JOIN sales ON customer.customer_id = sales.customer_id\nGROUP BY region\nORDER BY total_sales DESC\n",
	}, edits[0])
}

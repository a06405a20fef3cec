package parser

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestParseTextPagesAndParagraphs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cim.txt", "Q3 2024 revenue was $5.2M.\n\nEBITDA margin was 21%.\fHeadcount reached 1,200 employees.\n\n\n")
	svc := NewService(logger.Nop(), DirFetcher{Root: dir}, 1200)

	chunks, err := svc.Parse(context.Background(), &knowledge.Document{ID: uuid.New(), StorageRef: "cim.txt"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, 0, chunks[0].OrderIndex)
	assert.Equal(t, "Q3 2024 revenue was $5.2M.\nEBITDA margin was 21%.", chunks[0].Text)
	assert.Equal(t, "page 1", chunks[0].Location)
	require.NotNil(t, chunks[1].Page)
	assert.Equal(t, 2, *chunks[1].Page)
	assert.Equal(t, "page 2", chunks[1].Location)
}

func TestParseSplitsLongParagraphs(t *testing.T) {
	dir := t.TempDir()
	sentence := "Revenue grew steadily across every region in the period. "
	writeFile(t, dir, "long.txt", strings.Repeat(sentence, 10))
	svc := NewService(logger.Nop(), DirFetcher{Root: dir}, 150)

	chunks, err := svc.Parse(context.Background(), &knowledge.Document{ID: uuid.New(), StorageRef: "long.txt"})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 3)
	for i, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 150)
		assert.Equal(t, i, c.OrderIndex)
	}
}

func TestParseCSVRows(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "financials.csv", "metric,period,value\nRevenue,Q3 2024,$5.2M\n,,\nEBITDA,FY2023,$4M\n")
	svc := NewService(logger.Nop(), DirFetcher{Root: dir}, 1200)

	chunks, err := svc.Parse(context.Background(), &knowledge.Document{ID: uuid.New(), StorageRef: "financials.csv", ContentType: "text/csv"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "metric: Revenue; period: Q3 2024; value: $5.2M", chunks[0].Text)
	assert.Equal(t, "sheet financials row 2", chunks[0].Location)
	assert.Equal(t, "sheet financials row 4", chunks[1].Location)
}

func TestParseHTMLDropsChrome(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "memo.html", `<html><head><script>var x=1;</script></head><body>
<nav>Home | About</nav>
<h1>Board memo</h1>
<p>FY2023 total revenue was <b>$20M</b>.</p>
<footer>copyright</footer></body></html>`)
	svc := NewService(logger.Nop(), DirFetcher{Root: dir}, 1200)

	chunks, err := svc.Parse(context.Background(), &knowledge.Document{ID: uuid.New(), StorageRef: "memo.html"})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	all := ""
	for _, c := range chunks {
		all += c.Text + "\n"
	}
	assert.Contains(t, all, "Board memo")
	assert.Contains(t, all, "FY2023 total revenue was")
	assert.Contains(t, all, "$20M")
	assert.NotContains(t, all, "Home | About")
	assert.NotContains(t, all, "var x")
	assert.NotContains(t, all, "copyright")
}

func TestParseErrorsArePermanent(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(logger.Nop(), DirFetcher{Root: dir}, 1200)

	_, err := svc.Parse(context.Background(), &knowledge.Document{ID: uuid.New(), StorageRef: "missing.txt"})
	var perm *apperr.PermanentPipelineFailure
	require.ErrorAs(t, err, &perm)

	_, err = svc.Parse(context.Background(), &knowledge.Document{ID: uuid.New(), StorageRef: "deck.pptx"})
	require.ErrorAs(t, err, &perm)

	_, err = svc.Parse(context.Background(), &knowledge.Document{ID: uuid.New(), StorageRef: "../../etc/passwd"})
	require.Error(t, err)
	assert.False(t, apperr.IsRetryable(err))
}

// Package parser turns stored documents into ordered, located chunks.
package parser

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

// FormatParser reads one document format. name is the storage ref, used
// for locations such as CSV sheet names.
type FormatParser interface {
	Parse(ctx context.Context, r io.Reader, name string) ([]Segment, error)
}

type Service struct {
	log      *logger.Logger
	fetcher  Fetcher
	formats  map[string]FormatParser
	maxChars int
}

func NewService(log *logger.Logger, fetcher Fetcher, maxChars int) *Service {
	if maxChars <= 0 {
		maxChars = 1200
	}
	return &Service{
		log:     log.With("service", "DocumentParser"),
		fetcher: fetcher,
		formats: map[string]FormatParser{
			"text": TextParser{},
			"csv":  CSVParser{},
			"html": NewHTMLParser(),
		},
		maxChars: maxChars,
	}
}

// Parse returns the document's chunks in order. IDs are left unset; the
// chunk repo assigns them on upsert by (document, order).
func (s *Service) Parse(ctx context.Context, doc *knowledge.Document) ([]*knowledge.Chunk, error) {
	format := formatOf(doc.ContentType, doc.StorageRef)
	fp, ok := s.formats[format]
	if !ok {
		return nil, apperr.Permanent("parse", fmt.Errorf("unsupported content type %q for %q", doc.ContentType, doc.StorageRef))
	}
	rc, err := s.fetcher.Open(ctx, doc.StorageRef)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	segs, err := fp.Parse(ctx, rc, doc.StorageRef)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Transient("parse", ctx.Err())
		}
		return nil, apperr.Permanent("parse", fmt.Errorf("parse %s document: %w", format, err))
	}
	segs = pack(normalizeSegments(segs), s.maxChars)

	chunks := make([]*knowledge.Chunk, len(segs))
	for i, sg := range segs {
		chunks[i] = &knowledge.Chunk{
			DocumentID: doc.ID,
			OrderIndex: i,
			Text:       sg.Text,
			Location:   sg.Location,
			Page:       sg.Page,
		}
	}
	s.log.Info("document parsed", "document_id", doc.ID, "format", format, "chunks", len(chunks))
	return chunks, nil
}

func formatOf(contentType, ref string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch {
		case mt == "text/csv" || mt == "application/csv":
			return "csv"
		case mt == "text/html" || mt == "application/xhtml+xml":
			return "html"
		case strings.HasPrefix(mt, "text/"):
			return "text"
		}
	}
	switch strings.ToLower(path.Ext(ref)) {
	case ".csv":
		return "csv"
	case ".html", ".htm":
		return "html"
	case ".txt", ".md", ".text", "":
		return "text"
	}
	return ""
}

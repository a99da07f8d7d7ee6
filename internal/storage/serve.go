package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"trustcenter.dev/internal/trust"
)

// Download is either a redirect to a presigned URL or a body to stream.
type Download struct {
	RedirectURL string
	Body        io.ReadCloser
	ContentType string
	FileName    string
	Size        int64
	Placeholder bool
}

// Server resolves documents to downloads.
type Server struct {
	provider    Provider
	linkTTL     time.Duration
	placeholder bool
}

// NewServer builds a Server. When allowPlaceholder is set, documents without a
// stored artifact are served as a generated PDF instead of failing.
func NewServer(provider Provider, linkTTL time.Duration, allowPlaceholder bool) *Server {
	if linkTTL <= 0 {
		linkTTL = 5 * time.Minute
	}
	return &Server{provider: provider, linkTTL: linkTTL, placeholder: allowPlaceholder}
}

// Fetch prefers a presigned redirect and falls back to streaming.
func (s *Server) Fetch(ctx context.Context, doc trust.Document) (Download, error) {
	fileName := doc.FileName
	if fileName == "" {
		fileName = slug(doc.Title) + ".pdf"
	}
	if doc.StorageKey == "" || s.provider == nil {
		return s.missing(doc, fileName)
	}
	obj, err := s.provider.Stat(ctx, doc.StorageKey)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return s.missing(doc, fileName)
		}
		return Download{}, err
	}

	url, err := s.provider.Presign(ctx, doc.StorageKey, fileName, s.linkTTL)
	switch {
	case err == nil:
		return Download{RedirectURL: url, FileName: fileName, ContentType: obj.ContentType, Size: obj.Size}, nil
	case !errors.Is(err, ErrPresignUnsupported):
		return Download{}, err
	}

	body, obj, err := s.provider.Open(ctx, doc.StorageKey)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return s.missing(doc, fileName)
		}
		return Download{}, err
	}
	ct := doc.ContentType
	if ct == "" {
		ct = obj.ContentType
	}
	return Download{Body: body, FileName: fileName, ContentType: ct, Size: obj.Size}, nil
}

func (s *Server) missing(doc trust.Document, fileName string) (Download, error) {
	if !s.placeholder {
		return Download{}, fmt.Errorf("%w: document file unavailable", trust.ErrNotFound)
	}
	pdf := PlaceholderPDF(doc.Title)
	return Download{
		Body:        io.NopCloser(bytes.NewReader(pdf)),
		ContentType: "application/pdf",
		FileName:    fileName,
		Size:        int64(len(pdf)),
		Placeholder: true,
	}, nil
}

// PlaceholderPDF renders a one-page PDF naming the document.
func PlaceholderPDF(title string) []byte {
	text := pdfEscape("Sample document: " + title)
	content := fmt.Sprintf("BT /F1 18 Tf 72 720 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}

func pdfEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	var out strings.Builder
	for _, c := range r.Replace(s) {
		if c < 128 {
			out.WriteRune(c)
		} else {
			out.WriteByte('?')
		}
	}
	return out.String()
}

func slug(title string) string {
	var b strings.Builder
	dash := false
	for _, c := range strings.ToLower(title) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteRune(c)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "document"
	}
	return s
}

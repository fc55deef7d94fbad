package scanning

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/zombor/bill-decoder/internal/bill"
)

// Defaults for Config
const (
	DefaultDPI      = 300
	DefaultMaxPages = 10
)

// Config controls how documents are turned into text
type Config struct {
	// TempDir is where per-request work directories are created. Empty means
	// the system temp directory.
	TempDir string
	// DPI is the resolution scanned PDF pages are rendered at
	DPI float64
	// MaxPages caps how many pages of a PDF are read. Longer documents are
	// trimmed to their first MaxPages pages before MuPDF opens them. 0 means
	// no limit.
	MaxPages int
}

// Extractor acquires text from PDFs and images. PDFs with a text layer are
// read directly; scanned PDFs and images go through the Recognizer.
type Extractor struct {
	cfg        Config
	recognizer Recognizer
}

// NewExtractor creates an Extractor using the given OCR engine
func NewExtractor(recognizer Recognizer, cfg Config) *Extractor {
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultDPI
	}
	if cfg.MaxPages < 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	return &Extractor{cfg: cfg, recognizer: recognizer}
}

// ExtractText returns the flattened text of a document. It fails with
// bill.ErrUnreadableDocument when the document is empty, of an unsupported
// type, cannot be opened, or yields no text. OCR engine failures are returned
// as they are.
func (e *Extractor) ExtractText(ctx context.Context, doc bill.Document) (string, error) {
	if len(doc.Data) == 0 {
		return "", fmt.Errorf("%w: empty file", bill.ErrUnreadableDocument)
	}

	start := time.Now()
	mimeType := resolveMediaType(doc.Data, doc.MediaType)

	var (
		text   string
		method string
		err    error
	)
	switch {
	case mimeType == bill.MediaTypePDF:
		text, method, err = e.extractPDF(ctx, doc.Data)
	case isSupportedImage(mimeType):
		text, err = e.extractImage(ctx, doc.Data, mimeType)
		method = "image-ocr"
	default:
		return "", fmt.Errorf("%w: unsupported media type %q", bill.ErrUnreadableDocument, mimeType)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: no text found", bill.ErrUnreadableDocument)
	}

	slog.Debug("extracted document text",
		"name", doc.Name,
		"media_type", mimeType,
		"method", method,
		"chars", len(text),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}

// extractPDF reads the text layer, falling back to rendering and OCR when
// the layer is empty.
func (e *Extractor) extractPDF(ctx context.Context, data []byte) (string, string, error) {
	doc, err := fitz.NewFromMemory(e.limitPages(data))
	if err != nil {
		return "", "", fmt.Errorf("%w: opening PDF: %v", bill.ErrUnreadableDocument, err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n == 0 {
		return "", "", fmt.Errorf("%w: PDF has no pages", bill.ErrUnreadableDocument)
	}
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t, err := doc.Text(i)
		if err != nil {
			slog.Warn("reading PDF text layer", "page", i+1, "error", err)
			continue
		}
		parts = append(parts, t)
	}
	if text := strings.Join(parts, "\n"); strings.TrimSpace(text) != "" {
		return text, "pdf-text", nil
	}

	text, err := e.ocrPages(ctx, doc, n)
	return text, "pdf-ocr", err
}

// limitPages validates the PDF with pdfcpu and, when it has more pages than
// MaxPages, returns a copy holding only the first MaxPages pages. Documents
// pdfcpu cannot handle are returned untouched for MuPDF to try.
func (e *Extractor) limitPages(data []byte) []byte {
	pages, err := pdfPageCount(data)
	if err != nil {
		slog.Warn("PDF failed validation, trying MuPDF anyway", "error", err)
		return data
	}
	if e.cfg.MaxPages == 0 || pages <= e.cfg.MaxPages {
		return data
	}

	trimmed, err := trimPDF(data, e.cfg.MaxPages)
	if err != nil {
		slog.Warn("Failed to trim PDF, reading it whole", "pages", pages, "error", err)
		return data
	}
	slog.Warn("truncating long PDF", "pages", pages, "max_pages", e.cfg.MaxPages)
	return trimmed
}

// ocrPages renders each page to a PNG in a private work directory and runs
// OCR over it. The directory is removed on every return path.
func (e *Extractor) ocrPages(ctx context.Context, doc *fitz.Document, n int) (string, error) {
	// limitPages leaves documents pdfcpu rejects at full length
	if e.cfg.MaxPages > 0 && n > e.cfg.MaxPages {
		n = e.cfg.MaxPages
	}

	dir, cleanup, err := e.workDir()
	if err != nil {
		return "", err
	}
	defer cleanup()

	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		img, err := doc.ImageDPI(i, e.cfg.DPI)
		if err != nil {
			return "", fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}
		pngData, err := encodePNG(img)
		if err != nil {
			return "", err
		}
		path := filepath.Join(dir, fmt.Sprintf("page-%03d.png", i+1))
		if err := os.WriteFile(path, pngData, 0600); err != nil {
			return "", fmt.Errorf("writing page image: %w", err)
		}
		text, err := e.recognizer.Recognize(ctx, path)
		if err != nil {
			return "", fmt.Errorf("recognizing page %d: %w", i+1, err)
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n"), nil
}

// extractImage decodes the image, re-encodes it as PNG and runs OCR over it.
// PNG input is decoded too so corrupt files never reach the OCR engine.
func (e *Extractor) extractImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	pngData, err := imageToPNG(data, mimeType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", bill.ErrUnreadableDocument, err)
	}

	dir, cleanup, err := e.workDir()
	if err != nil {
		return "", err
	}
	defer cleanup()

	path := filepath.Join(dir, "image.png")
	if err := os.WriteFile(path, pngData, 0600); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	text, err := e.recognizer.Recognize(ctx, path)
	if err != nil {
		return "", fmt.Errorf("recognizing image: %w", err)
	}
	return text, nil
}

// workDir creates a uniquely named directory for one request's files
func (e *Extractor) workDir() (string, func(), error) {
	dir, err := os.MkdirTemp(e.cfg.TempDir, "bill-"+uuid.NewString()+"-*")
	if err != nil {
		return "", nil, fmt.Errorf("creating work directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("Failed to remove work directory", "dir", dir, "error", err)
		}
	}
	return dir, cleanup, nil
}

var disablePDFConfigDir sync.Once

func pdfConfig() *model.Configuration {
	// pdfcpu would otherwise write a config directory under the user's home
	disablePDFConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// pdfPageCount validates the PDF structure with pdfcpu and returns its page count
func pdfPageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), pdfConfig())
	if err != nil {
		return 0, fmt.Errorf("counting PDF pages: %w", err)
	}
	return n, nil
}

// trimPDF keeps the first n pages of a PDF
func trimPDF(data []byte, n int) ([]byte, error) {
	var buf bytes.Buffer
	if err := api.Trim(bytes.NewReader(data), &buf, []string{fmt.Sprintf("1-%d", n)}, pdfConfig()); err != nil {
		return nil, fmt.Errorf("trimming PDF to %d pages: %w", n, err)
	}
	return buf.Bytes(), nil
}

package scanning

import (
	"context"

	"github.com/zombor/bill-decoder/internal/bill"
)

// Recognizer turns an image file into text. Implementations are built once at
// startup and must be safe for concurrent use; they keep no per-call state.
type Recognizer interface {
	// Recognize runs OCR over the PNG image at imagePath
	Recognize(ctx context.Context, imagePath string) (string, error)
	// Close releases resources held by the engine
	Close() error
}

// TextExtractor turns a document into raw text
type TextExtractor interface {
	ExtractText(ctx context.Context, doc bill.Document) (string, error)
}

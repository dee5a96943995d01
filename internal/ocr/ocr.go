// Package ocr recognizes text in mobile-money screenshots.
package ocr

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/phonetrust/internal/config"
	"github.com/sells-group/phonetrust/internal/resilience"
)

// Recognition is the text found in an image with a 0-100 confidence.
type Recognition struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognizer extracts text from an image.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, langHints []string) (Recognition, error)
}

// NewRecognizer creates a Recognizer based on config. guard may be nil.
func NewRecognizer(cfg config.OCRConfig, guard *resilience.Guard) (Recognizer, error) {
	switch cfg.Provider {
	case "tesseract", "":
		return NewTesseract(cfg.TesseractPath, cfg.Languages), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		m := NewMistralOCR(cfg.MistralKey, cfg.MistralModel)
		m.guard = guard
		return m, nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

func validateImage(image []byte) (string, error) {
	if len(image) == 0 {
		return "", eris.New("ocr: empty image")
	}
	mime := http.DetectContentType(image)
	switch mime {
	case "image/png", "image/jpeg", "image/webp", "image/gif", "image/bmp":
		return mime, nil
	default:
		return "", eris.Errorf("ocr: unsupported image type %s", mime)
	}
}

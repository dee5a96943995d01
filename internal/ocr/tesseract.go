package ocr

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/phonetrust/internal/resilience"
)

// Tesseract recognizes text with the local tesseract CLI. The image is
// streamed on stdin and never written to disk.
type Tesseract struct {
	binPath   string
	languages []string
}

// NewTesseract creates a Tesseract recognizer. If binPath is empty,
// "tesseract" is used; if languages is empty, French and English are used.
func NewTesseract(binPath string, languages []string) *Tesseract {
	if binPath == "" {
		binPath = "tesseract"
	}
	if len(languages) == 0 {
		languages = []string{"fra", "eng"}
	}
	return &Tesseract{binPath: binPath, languages: languages}
}

// Recognize runs tesseract in TSV mode and returns the text with the mean
// word confidence.
func (t *Tesseract) Recognize(ctx context.Context, image []byte, langHints []string) (Recognition, error) {
	if _, err := validateImage(image); err != nil {
		return Recognition{}, err
	}

	langs := langHints
	if len(langs) == 0 {
		langs = t.languages
	}

	cmd := exec.CommandContext(ctx, t.binPath, "stdin", "stdout", "-l", strings.Join(langs, "+"), "--psm", "6", "tsv")
	cmd.Stdin = bytes.NewReader(image)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Recognition{}, resilience.NewTransientError(eris.Wrap(ctxErr, "ocr: tesseract timed out"), 0)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Recognition{}, eris.Wrapf(err, "ocr: tesseract failed: %s", strings.TrimSpace(stderr.String()))
		}
		return Recognition{}, eris.Wrap(err, "ocr: run tesseract")
	}

	return parseTSV(stdout.Bytes())
}

// parseTSV rebuilds text lines from tesseract's word-level TSV and averages
// the confidence of recognized words.
func parseTSV(data []byte) (Recognition, error) {
	const (
		colBlock = 2
		colPar   = 3
		colLine  = 4
		colConf  = 10
		colText  = 11
	)

	var (
		sb       strings.Builder
		lastKey  string
		confSum  float64
		words    int
		lineWord int
	)

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		cols := strings.Split(sc.Text(), "\t")
		if len(cols) <= colText || cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(cols[colText])
		conf, err := strconv.ParseFloat(cols[colConf], 64)
		if err != nil {
			return Recognition{}, eris.Wrapf(err, "ocr: parse tesseract confidence %q", cols[colConf])
		}
		if text == "" || conf < 0 {
			continue
		}

		key := cols[colBlock] + "/" + cols[colPar] + "/" + cols[colLine]
		if key != lastKey {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			lastKey, lineWord = key, 0
		}
		if lineWord > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
		lineWord++

		confSum += conf
		words++
	}
	if err := sc.Err(); err != nil {
		return Recognition{}, eris.Wrap(err, "ocr: read tesseract output")
	}

	rec := Recognition{Text: sb.String()}
	if words > 0 {
		rec.Confidence = confSum / float64(words)
	}
	return rec, nil
}

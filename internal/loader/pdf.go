package loader

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/ledongthuc/pdf"
)

func extractPDF(path string) (text string, err error) {
	// The pdf package panics on some malformed files.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("read pdf: %v", rec)
		}
	}()

	f, r, err := pdf.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	data, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(data), nil
}

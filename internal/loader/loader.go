// Package loader extracts plain text from the files of a scratch directory.
package loader

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// sniffLen is how much of an unknown file is inspected before treating it as text.
const sniffLen = 8 << 10

type extractor func(path string) (string, error)

// extractors maps lower-case extensions to their text extractor.
var extractors = map[string]extractor{
	".html": extractHTML,
	".htm":  extractHTML,
	".pdf":  extractPDF,
}

// textExtensions are read verbatim.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true, ".csv": true, ".tsv": true,
	".json": true, ".jsonl": true, ".yaml": true, ".yml": true, ".toml": true, ".xml": true,
	".ini": true, ".log": true, ".go": true, ".py": true, ".js": true, ".ts": true,
	".java": true, ".c": true, ".h": true, ".cpp": true, ".rs": true, ".rb": true,
	".sh": true, ".sql": true, ".css": true,
}

// LoadDir extracts one Document per regular, non-hidden file under dir, in path order.
// A file that cannot be turned into text fails the whole load with ErrUnsupportedFormat.
// ErrNoDocuments is returned when no file yields any text.
func LoadDir(dir string) ([]domain.Document, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	docs := make([]domain.Document, 0, len(paths))
	for _, path := range paths {
		text, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, domain.Document{
			ID:   uuid.NewString(),
			Path: path,
			Text: text,
		})
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, domain.ErrNoDocuments)
	}
	return docs, nil
}

// LoadFile extracts the text of one file, choosing the extractor by extension.
// Files with an unknown extension are accepted when they look like UTF-8 text.
func LoadFile(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))

	if fn, ok := extractors[ext]; ok {
		text, err := fn(path)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", filepath.Base(path), err)
		}
		return text, nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	if textExtensions[ext] {
		return strings.ToValidUTF8(string(data), "�"), nil
	}
	if !looksLikeText(data) {
		return "", fmt.Errorf("%s: %w", filepath.Base(path), domain.ErrUnsupportedFormat)
	}
	return string(data), nil
}

// looksLikeText accepts valid UTF-8 with no NUL byte near the start.
func looksLikeText(data []byte) bool {
	head := data[:min(len(data), sniffLen)]
	return bytes.IndexByte(head, 0) < 0 && utf8.Valid(data)
}

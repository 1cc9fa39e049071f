package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxSuffix bounds the search for a free report filename.
const maxSuffix = 1000

// Writer persists reports into a fixed directory.
// Existing files are never overwritten: when a name is taken a numeric
// suffix is appended.
type Writer struct {
	Dir string
}

// NewWriter creates the reports directory if needed.
func NewWriter(dir string) (*Writer, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve reports dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create reports dir %s: %w", abs, err)
	}
	return &Writer{Dir: abs}, nil
}

// Write persists r and returns the path written.
func (w *Writer) Write(r RunReport) (string, error) {
	return w.create(r.Filename(), func(f io.Writer) error {
		_, err := r.WriteTo(f)
		return err
	})
}

// WriteManifest persists m as indented JSON and returns the path written.
func (w *Writer) WriteManifest(m *Manifest) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	data = append(data, '\n')

	return w.create(m.Filename(), func(f io.Writer) error {
		_, err := f.Write(data)
		return err
	})
}

func (w *Writer) create(name string, write func(io.Writer) error) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxSuffix; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		path := filepath.Join(w.Dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create report %s: %w", path, err)
		}

		if err := write(f); err != nil {
			f.Close()
			return "", fmt.Errorf("write report %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close report %s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free report name for %s in %s", name, w.Dir)
}

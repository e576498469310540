package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/signalsfoundry/platesim/model"
)

// FileWriter keeps the latest checkpoint in a single file, replaced
// atomically on every write.
type FileWriter struct {
	path string
}

// NewFileWriter returns a writer targeting path.
func NewFileWriter(path string) *FileWriter {
	return &FileWriter{path: path}
}

// Path returns the checkpoint file location.
func (w *FileWriter) Path() string { return w.path }

// WriteCheckpoint encodes cp and swaps it into place.
func (w *FileWriter) WriteCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := Encode(cp)
	if err != nil {
		return err
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(w.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Load reads and decodes the checkpoint at path.
func Load(path string) (model.Checkpoint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("read checkpoint: %w", err)
	}
	return Decode(b)
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xhad/newsqa/internal/models"
)

const DefaultFilePath = "data/vectorstore.json"

// FileBackend keeps the corpus as a single JSON document on disk.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		path = DefaultFilePath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path: %w", err)
	}
	return &FileBackend{path: abs}, nil
}

func (f *FileBackend) Name() string {
	return "file:" + f.path
}

func (f *FileBackend) Read(ctx context.Context) (models.Corpus, error) {
	if err := ctx.Err(); err != nil {
		return models.Corpus{}, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.EmptyCorpus(), nil
		}
		return models.Corpus{}, fmt.Errorf("failed to read %s: %w", f.path, err)
	}

	return decodeCorpus(data)
}

// Write replaces the file by renaming a fully written temp file over it, so
// readers never observe a partial record.
func (f *FileBackend) Write(ctx context.Context, corpus models.Corpus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(corpus)
	if err != nil {
		return fmt.Errorf("failed to encode corpus: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to move store into place: %w", err)
	}
	return nil
}

func (f *FileBackend) Close() error {
	return nil
}

func decodeCorpus(data []byte) (models.Corpus, error) {
	var corpus models.Corpus
	if err := json.Unmarshal(data, &corpus); err != nil {
		return models.Corpus{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if corpus.Documents == nil || corpus.Vectors == nil {
		return models.Corpus{}, fmt.Errorf("%w: missing documents or vectors", ErrCorrupt)
	}
	if len(corpus.Documents) != len(corpus.Vectors) {
		return models.Corpus{}, fmt.Errorf("%w: %d documents, %d vectors", ErrCorrupt, len(corpus.Documents), len(corpus.Vectors))
	}
	return corpus, nil
}

package types

import (
	"context"

	"github.com/xhad/newsqa/internal/models"
)

// Core interfaces
type TextProvider interface {
	Fetch(ctx context.Context, url string) (models.Document, error)
}

type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorStore interface {
	Load(ctx context.Context) (models.Corpus, error)
	Replace(ctx context.Context, corpus models.Corpus) (models.Corpus, error)
	Append(ctx context.Context, docs []models.Segment, vectors [][]float32) (models.Corpus, error)
}

type Chunker interface {
	Process(docs []models.Document) []models.Segment
}

package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/xhad/newsqa/internal/models"
	"github.com/xhad/newsqa/internal/types"
	"github.com/xhad/newsqa/pkg/similarity"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrRetrievalInput wraps fetch failures and blocked URLs. Any such failure
// aborts the whole batch.
var ErrRetrievalInput = errors.New("retrieval input error")

const (
	DefaultContextLimit   = 6
	DefaultFillCandidates = 10
	DefaultTopK           = 5
)

type RetrieverConfig struct {
	ContextLimit   int // max segments in a scoped context
	FillCandidates int // global candidates considered when filling a scoped context
	TopK           int // segments returned in unscoped mode
}

// Retriever builds corpora from URLs and selects query context from them.
type Retriever struct {
	config   RetrieverConfig
	provider types.TextProvider
	chunker  types.Chunker
	embedder types.Embedder
	store    types.VectorStore
	logger   *zap.Logger
}

func New(config RetrieverConfig, provider types.TextProvider, chunker types.Chunker, embedder types.Embedder, store types.VectorStore, logger *zap.Logger) *Retriever {
	if config.ContextLimit <= 0 {
		config.ContextLimit = DefaultContextLimit
	}
	if config.FillCandidates <= 0 {
		config.FillCandidates = DefaultFillCandidates
	}
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retriever{
		config:   config,
		provider: provider,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

type sourceResult struct {
	segments []models.Segment
	vectors  [][]float32
}

// BuildCorpus fetches, chunks and embeds every URL concurrently. Segments
// are ordered by the position of their URL in urls, then by chunk index.
// Repeated URLs are fetched once.
func (r *Retriever) BuildCorpus(ctx context.Context, urls []string) (models.Corpus, error) {
	urls = distinct(urls)
	results := make([]sourceResult, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			doc, err := r.provider.Fetch(ctx, u)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrRetrievalInput, u, err)
			}

			segments := r.chunker.Process([]models.Document{doc})
			if len(segments) == 0 {
				r.logger.Info("no content extracted", zap.String("url", u), zap.String("title", doc.Title))
				return nil
			}
			r.logger.Debug("fetched",
				zap.String("url", u),
				zap.String("title", doc.Title),
				zap.Int("segments", len(segments)),
			)

			texts := make([]string, len(segments))
			for j, s := range segments {
				texts[j] = s.Content
			}
			vectors, err := r.embedder.EmbedTexts(ctx, texts)
			if err != nil {
				return fmt.Errorf("embedding %s: %w", u, err)
			}
			if len(vectors) != len(segments) {
				return fmt.Errorf("embedding %s: got %d vectors for %d segments", u, len(vectors), len(segments))
			}

			results[i] = sourceResult{segments: segments, vectors: vectors}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.Corpus{}, err
	}

	corpus := models.EmptyCorpus()
	for _, res := range results {
		corpus.Documents = append(corpus.Documents, res.segments...)
		corpus.Vectors = append(corpus.Vectors, res.vectors...)
	}

	r.logger.Debug("corpus built", zap.Int("urls", len(urls)), zap.Int("segments", corpus.Len()))
	return corpus, nil
}

// Ingest builds a corpus from urls and either replaces the store with it or
// appends it. It returns the number of segments ingested.
func (r *Retriever) Ingest(ctx context.Context, urls []string, replace bool) (int, error) {
	corpus, err := r.BuildCorpus(ctx, urls)
	if err != nil {
		return 0, err
	}

	if replace {
		_, err = r.store.Replace(ctx, corpus)
	} else {
		_, err = r.store.Append(ctx, corpus.Documents, corpus.Vectors)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to store corpus: %w", err)
	}

	r.logger.Info("ingested",
		zap.Strings("urls", urls),
		zap.Bool("replace", replace),
		zap.Int("segments", corpus.Len()),
	)
	return corpus.Len(), nil
}

// SelectContext returns the segments that best answer query. With urls the
// store is replaced by a corpus built from exactly those sources and every
// source contributes its best segment. Without urls the stored corpus is
// searched and an empty store yields an empty context.
func (r *Retriever) SelectContext(ctx context.Context, query string, urls []string) ([]models.ScoredSegment, error) {
	if len(urls) > 0 {
		corpus, err := r.BuildCorpus(ctx, urls)
		if err != nil {
			return nil, err
		}
		corpus, err = r.store.Replace(ctx, corpus)
		if err != nil {
			return nil, fmt.Errorf("failed to store corpus: %w", err)
		}
		if corpus.Len() == 0 {
			return []models.ScoredSegment{}, nil
		}

		queryVector, err := r.embedQuery(ctx, query)
		if err != nil {
			return nil, err
		}
		return SelectScoped(queryVector, corpus, urls, r.config.ContextLimit, r.config.FillCandidates)
	}

	corpus, err := r.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load store: %w", err)
	}
	if corpus.Len() == 0 {
		return []models.ScoredSegment{}, nil
	}

	queryVector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := similarity.TopK(queryVector, corpus.Vectors, r.config.TopK)
	if err != nil {
		return nil, err
	}

	selected := make([]models.ScoredSegment, len(matches))
	for i, m := range matches {
		selected[i] = models.ScoredSegment{Segment: corpus.Documents[m.Index], Score: m.Score}
	}
	return selected, nil
}

// SelectScoped picks the best segment of each URL in order, then fills up to
// limit from the top fillCandidates global matches, skipping segments already
// chosen. The result is sorted by descending score, stable on ties.
func SelectScoped(query []float32, corpus models.Corpus, urls []string, limit, fillCandidates int) ([]models.ScoredSegment, error) {
	scores := make([]float64, len(corpus.Vectors))
	for i, v := range corpus.Vectors {
		s, err := similarity.Score(query, v)
		if err != nil {
			return nil, err
		}
		scores[i] = s
	}

	selected := []models.ScoredSegment{}
	chosen := make(map[string]bool)

	for _, u := range distinct(urls) {
		best := -1
		for i, seg := range corpus.Documents {
			if seg.URL == u && (best < 0 || scores[i] > scores[best]) {
				best = i
			}
		}
		if best < 0 {
			continue
		}
		seg := corpus.Documents[best]
		if !chosen[seg.ID] {
			chosen[seg.ID] = true
			selected = append(selected, models.ScoredSegment{Segment: seg, Score: scores[best]})
		}
	}

	matches, err := similarity.TopK(query, corpus.Vectors, fillCandidates)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if len(selected) >= limit {
			break
		}
		seg := corpus.Documents[m.Index]
		if chosen[seg.ID] {
			continue
		}
		chosen[seg.ID] = true
		selected = append(selected, models.ScoredSegment{Segment: seg, Score: m.Score})
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Score > selected[j].Score
	})
	return selected, nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := r.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors", len(vectors))
	}
	return vectors[0], nil
}

func distinct(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

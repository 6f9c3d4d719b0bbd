package retriever_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/newsqa/internal/models"
	"github.com/xhad/newsqa/pkg/processor"
	"github.com/xhad/newsqa/pkg/retriever"
	"github.com/xhad/newsqa/pkg/scraper"
	"github.com/xhad/newsqa/pkg/similarity"
	"github.com/xhad/newsqa/pkg/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const query = "what moved the market?"

type fakeProvider struct {
	pages  map[string]string
	titles map[string]string
	delays map[string]time.Duration
	errs   map[string]error
}

func (f *fakeProvider) Fetch(ctx context.Context, url string) (models.Document, error) {
	if d := f.delays[url]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return models.Document{}, ctx.Err()
		}
	}
	if err := f.errs[url]; err != nil {
		return models.Document{}, err
	}
	return models.Document{URL: url, Title: f.titles[url], Content: f.pages[url]}, nil
}

// fakeEmbedder maps each text to a unit vector whose dot product with the
// query vector [1, 0] is the configured score.
type fakeEmbedder struct {
	mu     sync.Mutex
	scores map[string]float64
	dim    int
	calls  int
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if text == query {
			out[i] = f.pad([]float32{1, 0})
			continue
		}
		score, ok := f.scores[text]
		if !ok {
			return nil, fmt.Errorf("unexpected text %q", text)
		}
		out[i] = f.pad([]float32{float32(score), float32(math.Sqrt(1 - score*score))})
	}
	return out, nil
}

func (f *fakeEmbedder) pad(v []float32) []float32 {
	for len(v) < f.dim {
		v = append(v, 0)
	}
	return v
}

func newStore(t *testing.T, mode store.Mode) *store.VectorStore {
	t.Helper()
	vs, err := store.NewWithConfig(context.Background(), store.VectorStoreConfig{
		Mode: mode,
		Path: filepath.Join(t.TempDir(), "vectorstore.json"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { vs.Close() })
	return vs
}

func newRetriever(provider *fakeProvider, embedder *fakeEmbedder, vs *store.VectorStore) *retriever.Retriever {
	chunker := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 20, ChunkOverlap: 0})
	return retriever.New(retriever.RetrieverConfig{}, provider, &chunker, embedder, vs, nil)
}

func urlsOf(selected []models.ScoredSegment) []string {
	out := make([]string, len(selected))
	for i, s := range selected {
		out[i] = s.URL
	}
	return out
}

func TestScopedSelectionTwoSources(t *testing.T) {
	provider := &fakeProvider{pages: map[string]string{
		"https://a.example": "Apple shares rose.",
		"https://b.example": "Banana sales fell.",
	}}
	embedder := &fakeEmbedder{scores: map[string]float64{
		"Apple shares rose.": 0.9,
		"Banana sales fell.": 0.1,
	}}
	r := newRetriever(provider, embedder, newStore(t, store.ModePersistent))

	selected, err := r.SelectContext(context.Background(), query, []string{"https://b.example", "https://a.example"})
	require.NoError(t, err)

	require.Len(t, selected, 2)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, urlsOf(selected))
	assert.InDelta(t, 0.9, selected[0].Score, 1e-6)
	assert.InDelta(t, 0.1, selected[1].Score, 1e-6)
}

func TestScopedSelectionCoversEverySource(t *testing.T) {
	provider := &fakeProvider{pages: map[string]string{
		"https://low.example":  "Quiet day.",
		"https://high.example": "Bravo one. Bravo two. Bravo three. Bravo four. Bravo five. Bravo six. Bravo seven. Bravo eight.",
	}}
	embedder := &fakeEmbedder{scores: map[string]float64{
		"Quiet day.":   0.2,
		"Bravo one.":   0.95,
		"Bravo two.":   0.9,
		"Bravo three.": 0.85,
		"Bravo four.":  0.8,
		"Bravo five.":  0.75,
		"Bravo six.":   0.7,
		"Bravo seven.": 0.65,
		"Bravo eight.": 0.6,
	}}
	vs := newStore(t, store.ModePersistent)
	r := newRetriever(provider, embedder, vs)

	urls := []string{"https://low.example", "https://high.example"}
	selected, err := r.SelectContext(context.Background(), query, urls)
	require.NoError(t, err)

	require.Len(t, selected, retriever.DefaultContextLimit)
	assert.Equal(t, "https://low.example", selected[len(selected)-1].URL)
	assert.Equal(t, "Bravo one.", selected[0].Content)
	for i := 1; i < len(selected); i++ {
		assert.GreaterOrEqual(t, selected[i-1].Score, selected[i].Score)
	}

	ids := make(map[string]bool)
	for _, s := range selected {
		assert.False(t, ids[s.ID], "duplicate segment %s", s.ID)
		ids[s.ID] = true
	}

	stored, err := vs.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, stored.Len())
	assert.Equal(t, "https://low.example", stored.Documents[0].URL)
}

func TestScopedSelectionReplacesStore(t *testing.T) {
	provider := &fakeProvider{pages: map[string]string{
		"https://a.example": "Apple shares rose.",
		"https://b.example": "Banana sales fell.",
	}}
	embedder := &fakeEmbedder{scores: map[string]float64{
		"Apple shares rose.": 0.9,
		"Banana sales fell.": 0.1,
	}}
	vs := newStore(t, store.ModePersistent)
	r := newRetriever(provider, embedder, vs)
	ctx := context.Background()

	_, err := r.Ingest(ctx, []string{"https://a.example"}, false)
	require.NoError(t, err)

	_, err = r.SelectContext(ctx, query, []string{"https://b.example"})
	require.NoError(t, err)

	stored, err := vs.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stored.Len())
	assert.Equal(t, "https://b.example", stored.Documents[0].URL)
}

func TestScopedSelectionSkipsEmptySources(t *testing.T) {
	provider := &fakeProvider{pages: map[string]string{
		"https://a.example":     "Apple shares rose.",
		"https://empty.example": "   ",
	}}
	embedder := &fakeEmbedder{scores: map[string]float64{"Apple shares rose.": 0.9}}
	r := newRetriever(provider, embedder, newStore(t, store.ModePersistent))

	selected, err := r.SelectContext(context.Background(), query, []string{"https://empty.example", "https://a.example"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example"}, urlsOf(selected))
}

func TestScopedSelectionInEphemeralMode(t *testing.T) {
	provider := &fakeProvider{pages: map[string]string{"https://a.example": "Apple shares rose."}}
	embedder := &fakeEmbedder{scores: map[string]float64{"Apple shares rose.": 0.9}}
	vs := newStore(t, store.ModeEphemeral)
	r := newRetriever(provider, embedder, vs)

	selected, err := r.SelectContext(context.Background(), query, []string{"https://a.example"})
	require.NoError(t, err)
	assert.Len(t, selected, 1)

	stored, err := vs.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stored.Len())
}

func TestUnscopedEmptyStore(t *testing.T) {
	embedder := &fakeEmbedder{}
	r := newRetriever(&fakeProvider{}, embedder, newStore(t, store.ModePersistent))

	selected, err := r.SelectContext(context.Background(), query, nil)
	require.NoError(t, err)
	assert.NotNil(t, selected)
	assert.Empty(t, selected)
	assert.Zero(t, embedder.calls)
}

func TestUnscopedTopK(t *testing.T) {
	provider := &fakeProvider{pages: map[string]string{
		"https://a.example": "Alpha one. Alpha two. Alpha three.",
		"https://b.example": "Bravo one. Bravo two. Bravo three.",
	}}
	embedder := &fakeEmbedder{scores: map[string]float64{
		"Alpha one.":   0.1,
		"Alpha two.":   0.5,
		"Alpha three.": 0.3,
		"Bravo one.":   0.9,
		"Bravo two.":   0.7,
		"Bravo three.": 0.2,
	}}
	r := newRetriever(provider, embedder, newStore(t, store.ModePersistent))
	ctx := context.Background()

	count, err := r.Ingest(ctx, []string{"https://a.example"}, true)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	count, err = r.Ingest(ctx, []string{"https://b.example"}, false)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	selected, err := r.SelectContext(ctx, query, nil)
	require.NoError(t, err)

	require.Len(t, selected, retriever.DefaultTopK)
	contents := make([]string, len(selected))
	for i, s := range selected {
		contents[i] = s.Content
	}
	assert.Equal(t, []string{"Bravo one.", "Bravo two.", "Alpha two.", "Alpha three.", "Bravo three."}, contents)
}

func TestBuildCorpusOrdersByURL(t *testing.T) {
	provider := &fakeProvider{
		pages: map[string]string{
			"https://slow.example": "Slow first one. Slow second two.",
			"https://fast.example": "Fast one.",
		},
		delays: map[string]time.Duration{"https://slow.example": 50 * time.Millisecond},
	}
	embedder := &fakeEmbedder{scores: map[string]float64{
		"Slow first one.":  0.1,
		"Slow second two.": 0.2,
		"Fast one.":        0.3,
	}}
	r := newRetriever(provider, embedder, newStore(t, store.ModeEphemeral))

	corpus, err := r.BuildCorpus(context.Background(), []string{"https://slow.example", "https://fast.example", "https://slow.example"})
	require.NoError(t, err)

	require.Equal(t, 3, corpus.Len())
	assert.Equal(t, []string{"Slow first one.", "Slow second two.", "Fast one."},
		[]string{corpus.Documents[0].Content, corpus.Documents[1].Content, corpus.Documents[2].Content})
	assert.Equal(t, []int{0, 1, 0},
		[]int{corpus.Documents[0].ChunkIndex, corpus.Documents[1].ChunkIndex, corpus.Documents[2].ChunkIndex})
	assert.Len(t, corpus.Vectors, 3)
}

func TestFetchFailureAbortsBatch(t *testing.T) {
	provider := &fakeProvider{
		pages: map[string]string{"https://a.example": "Apple shares rose."},
		errs:  map[string]error{"https://down.example": fmt.Errorf("%w: status 503", scraper.ErrFetch)},
	}
	embedder := &fakeEmbedder{scores: map[string]float64{"Apple shares rose.": 0.9}}
	vs := newStore(t, store.ModePersistent)
	r := newRetriever(provider, embedder, vs)
	ctx := context.Background()

	_, err := r.Ingest(ctx, []string{"https://a.example", "https://down.example"}, false)
	assert.ErrorIs(t, err, retriever.ErrRetrievalInput)
	assert.ErrorIs(t, err, scraper.ErrFetch)

	_, err = r.SelectContext(ctx, query, []string{"https://down.example"})
	assert.ErrorIs(t, err, retriever.ErrRetrievalInput)

	stored, err := vs.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, stored.Len())
}

func TestQueryDimensionMismatchIsFatal(t *testing.T) {
	provider := &fakeProvider{pages: map[string]string{"https://a.example": "Apple shares rose."}}
	vs := newStore(t, store.ModePersistent)
	ctx := context.Background()

	_, err := newRetriever(provider, &fakeEmbedder{scores: map[string]float64{"Apple shares rose.": 0.9}}, vs).
		Ingest(ctx, []string{"https://a.example"}, true)
	require.NoError(t, err)

	drifted := newRetriever(provider, &fakeEmbedder{dim: 3}, vs)
	_, err = drifted.SelectContext(ctx, query, nil)
	assert.True(t, errors.Is(err, similarity.ErrDimensionMismatch))
}

func TestSelectScoped(t *testing.T) {
	corpus := models.Corpus{
		Documents: []models.Segment{
			{ID: "a1", URL: "a"},
			{ID: "a2", URL: "a"},
			{ID: "b1", URL: "b"},
			{ID: "b2", URL: "b"},
		},
		Vectors: [][]float32{{0.5, 0}, {0.5, 0}, {0.8, 0}, {0.7, 0}},
	}

	selected, err := retriever.SelectScoped([]float32{1, 0}, corpus, []string{"a", "b", "a", "missing"}, 3, 10)
	require.NoError(t, err)

	ids := make([]string, len(selected))
	for i, s := range selected {
		ids[i] = s.ID
	}
	// a1 wins the tie within source a; b2 fills the last slot.
	assert.Equal(t, []string{"b1", "b2", "a1"}, ids)

	_, err = retriever.SelectScoped([]float32{1, 0, 0}, corpus, []string{"a"}, 3, 10)
	assert.ErrorIs(t, err, similarity.ErrDimensionMismatch)
}

func TestBuildCorpusLogsSourceTitles(t *testing.T) {
	provider := &fakeProvider{
		pages:  map[string]string{"https://a.example": "Apple shares rose.", "https://b.example": ""},
		titles: map[string]string{"https://a.example": "Apple rallies", "https://b.example": "Paywalled"},
	}
	embedder := &fakeEmbedder{scores: map[string]float64{"Apple shares rose.": 0.9}}
	core, logs := observer.New(zapcore.DebugLevel)
	chunker := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 20})
	r := retriever.New(retriever.RetrieverConfig{}, provider, &chunker, embedder, newStore(t, store.ModeEphemeral), zap.New(core))

	_, err := r.BuildCorpus(context.Background(), []string{"https://a.example", "https://b.example"})
	require.NoError(t, err)

	fetched := logs.FilterMessage("fetched").All()
	require.Len(t, fetched, 1)
	assert.Equal(t, "Apple rallies", fetched[0].ContextMap()["title"])

	skipped := logs.FilterMessage("no content extracted").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "Paywalled", skipped[0].ContextMap()["title"])
}

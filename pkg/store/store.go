package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xhad/newsqa/internal/models"
	"github.com/xhad/newsqa/pkg/similarity"
	"go.uber.org/zap"
)

// Mode selects whether the store writes to durable media.
type Mode string

const (
	ModePersistent Mode = "persistent"
	ModeEphemeral  Mode = "ephemeral"
)

var (
	// ErrCorrupt marks persisted state that cannot be decoded.
	ErrCorrupt = errors.New("vector store corrupt")
	// ErrLengthMismatch means documents and vectors are not paired 1:1.
	ErrLengthMismatch = errors.New("documents and vectors length mismatch")
)

// Backend reads and writes the whole persisted corpus. Read returns an empty
// corpus and no error when nothing has been written yet.
type Backend interface {
	// Name identifies the underlying resource; stores sharing a name share a lock.
	Name() string
	Read(ctx context.Context) (models.Corpus, error)
	Write(ctx context.Context, corpus models.Corpus) error
	Close() error
}

// appender is implemented by backends that can append without rewriting.
type appender interface {
	Append(ctx context.Context, docs []models.Segment, vectors [][]float32) error
}

type VectorStoreConfig struct {
	Mode       Mode
	Backend    string // file, bolt or pgvector
	Path       string
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
	Timeout    time.Duration
}

type VectorStore struct {
	mode    Mode
	timeout time.Duration
	backend Backend
	logger  *zap.Logger
	mu      *sync.Mutex
}

var locks sync.Map

func lockFor(name string) *sync.Mutex {
	mu, _ := locks.LoadOrStore(name, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// NewWithConfig opens the configured backend. In ephemeral mode no backend
// is opened at all.
func NewWithConfig(ctx context.Context, config VectorStoreConfig, logger *zap.Logger) (*VectorStore, error) {
	if config.Mode == "" {
		config.Mode = ModePersistent
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	if config.Mode == ModeEphemeral {
		return New(nil, ModeEphemeral, config.Timeout, logger), nil
	}
	if config.Mode != ModePersistent {
		return nil, fmt.Errorf("unknown store mode %q", config.Mode)
	}

	var (
		backend Backend
		err     error
	)
	switch config.Backend {
	case "", "file":
		backend, err = NewFileBackend(config.Path)
	case "bolt":
		backend, err = NewBoltBackend(config.Path)
	case "pgvector":
		backend, err = NewPGVectorBackend(ctx, PGVectorConfig{
			ConnString: config.ConnString,
			TableName:  config.TableName,
			VectorDim:  config.VectorDim,
			BatchSize:  config.BatchSize,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", config.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", config.Backend, err)
	}

	return New(backend, ModePersistent, config.Timeout, logger), nil
}

// New wraps backend. A nil backend is only valid in ephemeral mode.
func New(backend Backend, mode Mode, timeout time.Duration, logger *zap.Logger) *VectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := "ephemeral"
	if backend != nil {
		name = backend.Name()
	}
	return &VectorStore{
		mode:    mode,
		timeout: timeout,
		backend: backend,
		logger:  logger.Named("store"),
		mu:      lockFor(name),
	}
}

func (vs *VectorStore) Mode() Mode {
	return vs.mode
}

// Load returns the persisted corpus. Missing, unreadable or corrupt state is
// reported as an empty corpus; only context expiry is returned as an error.
func (vs *VectorStore) Load(ctx context.Context) (models.Corpus, error) {
	if vs.mode == ModeEphemeral {
		return models.EmptyCorpus(), nil
	}

	ctx, cancel := vs.withTimeout(ctx)
	defer cancel()

	return vs.load(ctx)
}

func (vs *VectorStore) load(ctx context.Context) (models.Corpus, error) {
	corpus, err := vs.backend.Read(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Corpus{}, fmt.Errorf("failed to load vector store: %w", ctxErr)
		}
		vs.logger.Warn("treating unreadable vector store as empty",
			zap.String("backend", vs.backend.Name()),
			zap.Bool("corrupt", errors.Is(err, ErrCorrupt)),
			zap.Error(err))
		return models.EmptyCorpus(), nil
	}
	if err := validate(corpus); err != nil {
		vs.logger.Warn("treating inconsistent vector store as empty",
			zap.String("backend", vs.backend.Name()),
			zap.Error(err))
		return models.EmptyCorpus(), nil
	}
	return corpus, nil
}

// Replace overwrites the persisted corpus wholesale and returns it.
func (vs *VectorStore) Replace(ctx context.Context, corpus models.Corpus) (models.Corpus, error) {
	corpus = normalize(corpus)
	if err := validate(corpus); err != nil {
		return models.Corpus{}, err
	}
	if vs.mode == ModeEphemeral {
		return corpus, nil
	}

	ctx, cancel := vs.withTimeout(ctx)
	defer cancel()

	vs.mu.Lock()
	defer vs.mu.Unlock()

	if err := vs.backend.Write(ctx, corpus); err != nil {
		return models.Corpus{}, fmt.Errorf("failed to replace vector store: %w", err)
	}
	vs.logger.Debug("replaced vector store", zap.Int("segments", corpus.Len()))
	return corpus, nil
}

// Append adds docs and vectors after the current contents, in order, and
// returns the resulting corpus.
func (vs *VectorStore) Append(ctx context.Context, docs []models.Segment, vectors [][]float32) (models.Corpus, error) {
	addition := normalize(models.Corpus{Documents: docs, Vectors: vectors})
	if err := validate(addition); err != nil {
		return models.Corpus{}, err
	}
	if vs.mode == ModeEphemeral {
		return addition, nil
	}

	ctx, cancel := vs.withTimeout(ctx)
	defer cancel()

	vs.mu.Lock()
	defer vs.mu.Unlock()

	current, err := vs.load(ctx)
	if err != nil {
		return models.Corpus{}, err
	}
	if current.Len() > 0 && addition.Len() > 0 && current.Dimension() != addition.Dimension() {
		return models.Corpus{}, fmt.Errorf("%w: store holds %d, appending %d",
			similarity.ErrDimensionMismatch, current.Dimension(), addition.Dimension())
	}

	merged := models.Corpus{
		Documents: append(current.Documents, addition.Documents...),
		Vectors:   append(current.Vectors, addition.Vectors...),
	}
	if a, ok := vs.backend.(appender); ok {
		err = a.Append(ctx, addition.Documents, addition.Vectors)
	} else {
		err = vs.backend.Write(ctx, merged)
	}
	if err != nil {
		return models.Corpus{}, fmt.Errorf("failed to append to vector store: %w", err)
	}

	vs.logger.Debug("appended to vector store", zap.Int("added", addition.Len()), zap.Int("segments", merged.Len()))
	return merged, nil
}

func (vs *VectorStore) Close() error {
	if vs.backend == nil {
		return nil
	}
	return vs.backend.Close()
}

func (vs *VectorStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if vs.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, vs.timeout)
}

func normalize(c models.Corpus) models.Corpus {
	if c.Documents == nil {
		c.Documents = []models.Segment{}
	}
	if c.Vectors == nil {
		c.Vectors = [][]float32{}
	}
	return c
}

// validate checks that documents and vectors pair up and share one dimension.
func validate(c models.Corpus) error {
	if len(c.Documents) != len(c.Vectors) {
		return fmt.Errorf("%w: %d documents, %d vectors", ErrLengthMismatch, len(c.Documents), len(c.Vectors))
	}
	dim := c.Dimension()
	for i, v := range c.Vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d, expected %d", similarity.ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/newsqa/internal/models"
)

type PGVectorConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
}

// PGVectorBackend stores one row per segment. The position column keeps the
// corpus order so Read returns documents and vectors aligned.
type PGVectorBackend struct {
	config PGVectorConfig
	table  string
	pool   *pgxpool.Pool
}

func NewPGVectorBackend(ctx context.Context, config PGVectorConfig) (*PGVectorBackend, error) {
	if config.TableName == "" {
		config.TableName = "documents"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pg := &PGVectorBackend{
		config: config,
		table:  pgx.Identifier{config.TableName}.Sanitize(),
		pool:   pool,
	}

	if err := pg.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pg, nil
}

func (pg *PGVectorBackend) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := pg.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			position BIGINT PRIMARY KEY,
			id TEXT NOT NULL,
			url TEXT NOT NULL,
			content TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			embedding vector(%d) NOT NULL
		)`, pg.table, pg.config.VectorDim)

	_, err = pg.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return nil
}

func (pg *PGVectorBackend) Name() string {
	return "pgvector:" + pg.config.TableName
}

func (pg *PGVectorBackend) Read(ctx context.Context) (models.Corpus, error) {
	query := fmt.Sprintf(`
		SELECT id, url, content, chunk_index, embedding
		FROM %s
		ORDER BY position`,
		pg.table)

	rows, err := pg.pool.Query(ctx, query)
	if err != nil {
		return models.Corpus{}, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	corpus := models.EmptyCorpus()
	for rows.Next() {
		var (
			doc       models.Segment
			embedding pgvector.Vector
		)
		if err := rows.Scan(&doc.ID, &doc.URL, &doc.Content, &doc.ChunkIndex, &embedding); err != nil {
			return models.Corpus{}, fmt.Errorf("%w: failed to scan row: %v", ErrCorrupt, err)
		}
		corpus.Documents = append(corpus.Documents, doc)
		corpus.Vectors = append(corpus.Vectors, embedding.Slice())
	}
	if err := rows.Err(); err != nil {
		return models.Corpus{}, fmt.Errorf("failed to read rows: %w", err)
	}

	return corpus, nil
}

// Write truncates the table and inserts the corpus in one transaction.
func (pg *PGVectorBackend) Write(ctx context.Context, corpus models.Corpus) error {
	return pg.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", pg.table)); err != nil {
			return fmt.Errorf("failed to clear table: %w", err)
		}
		return pg.insert(ctx, tx, 0, corpus.Documents, corpus.Vectors)
	})
}

// Append inserts after the current last position. The table lock makes
// concurrent appends from other processes queue instead of colliding.
func (pg *PGVectorBackend) Append(ctx context.Context, docs []models.Segment, vectors [][]float32) error {
	return pg.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("LOCK TABLE %s IN EXCLUSIVE MODE", pg.table)); err != nil {
			return fmt.Errorf("failed to lock table: %w", err)
		}
		var next int64
		err := tx.QueryRow(ctx, fmt.Sprintf("SELECT COALESCE(MAX(position) + 1, 0) FROM %s", pg.table)).Scan(&next)
		if err != nil {
			return fmt.Errorf("failed to find next position: %w", err)
		}
		return pg.insert(ctx, tx, next, docs, vectors)
	})
}

func (pg *PGVectorBackend) insert(ctx context.Context, tx pgx.Tx, offset int64, docs []models.Segment, vectors [][]float32) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (position, id, url, content, chunk_index, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		pg.table)

	for start := 0; start < len(docs); start += pg.config.BatchSize {
		end := start + pg.config.BatchSize
		if end > len(docs) {
			end = len(docs)
		}

		batch := &pgx.Batch{}
		for i := start; i < end; i++ {
			doc := docs[i]
			batch.Queue(stmt,
				offset+int64(i),
				doc.ID,
				doc.URL,
				doc.Content,
				doc.ChunkIndex,
				pgvector.NewVector(vectors[i]),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert documents: %w", err)
		}
	}
	return nil
}

func (pg *PGVectorBackend) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := pg.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (pg *PGVectorBackend) Close() error {
	if pg.pool != nil {
		pg.pool.Close()
	}
	return nil
}

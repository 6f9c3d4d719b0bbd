package models

// Document is a fetched page, already stripped to plain text.
type Document struct {
	URL     string
	Title   string
	Content string
}

// Segment is one bounded, overlapping piece of a document's text.
// ChunkIndex is the segment's position within its own source.
type Segment struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Content    string `json:"content"`
	ChunkIndex int    `json:"chunkIndex"`
}

// Corpus pairs segments with their embeddings positionally:
// Documents[i] is always described by Vectors[i].
type Corpus struct {
	Documents []Segment   `json:"documents"`
	Vectors   [][]float32 `json:"vectors"`
}

// EmptyCorpus returns a corpus with non-nil, zero-length sequences so it
// serializes as {"documents":[],"vectors":[]}.
func EmptyCorpus() Corpus {
	return Corpus{
		Documents: []Segment{},
		Vectors:   [][]float32{},
	}
}

// Len returns the number of segment/vector pairs.
func (c Corpus) Len() int {
	return len(c.Documents)
}

// Dimension returns the length of the stored vectors, or 0 when empty.
func (c Corpus) Dimension() int {
	if len(c.Vectors) == 0 {
		return 0
	}
	return len(c.Vectors[0])
}

// ScoredSegment is a segment with its similarity to a specific query.
type ScoredSegment struct {
	Segment
	Score float64 `json:"score"`
}

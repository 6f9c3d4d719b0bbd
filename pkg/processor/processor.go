package processor

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xhad/newsqa/internal/models"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type Processor struct {
	config ProcessorConfig
}

// NewWithConfig returns a Processor. A non-positive ChunkSize falls back to
// the default; ChunkOverlap is clamped into [0, ChunkSize).
func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize - 1
	}

	return Processor{
		config: config,
	}
}

// Process chunks every document and mints one segment per chunk. Segments
// come out grouped by document in input order, then in chunk order.
func (p *Processor) Process(docs []models.Document) []models.Segment {
	var segments []models.Segment

	for _, doc := range docs {
		chunks := ChunkText(sanitizeUTF8(doc.Content), p.config.ChunkSize, p.config.ChunkOverlap)
		for i, chunk := range chunks {
			segments = append(segments, models.Segment{
				ID:         uuid.NewString(),
				URL:        doc.URL,
				Content:    chunk,
				ChunkIndex: i,
			})
		}
	}

	return segments
}

// ChunkText splits text into natural units and greedily packs them into
// chunks of at most chunkSize runes, seeding each new chunk with the last
// chunkOverlap runes of the previous one. A single unit longer than
// chunkSize is never cut, so such a chunk exceeds the limit.
func ChunkText(text string, chunkSize, chunkOverlap int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}

	var chunks []string
	buffer := ""

	for _, unit := range splitIntoUnits(text) {
		candidate := unit
		if buffer != "" {
			candidate = buffer + " " + unit
		}
		if utf8.RuneCountInString(candidate) <= chunkSize {
			buffer = candidate
			continue
		}

		if chunk := strings.TrimSpace(buffer); chunk != "" {
			chunks = append(chunks, chunk)
		}

		overlap := lastRunes(buffer, chunkOverlap)
		if overlap != "" {
			buffer = overlap + " " + unit
		} else {
			buffer = unit
		}
	}

	if chunk := strings.TrimSpace(buffer); chunk != "" {
		chunks = append(chunks, chunk)
	}

	return chunks
}

// splitIntoUnits breaks text at sentence ends (terminal punctuation followed
// by whitespace), newline runs and comma-delimited clauses. Separating
// whitespace is consumed; punctuation stays with the unit it ends.
func splitIntoUnits(text string) []string {
	runes := []rune(strings.ReplaceAll(text, "\r\n", "\n"))

	var units []string
	start := 0
	emit := func(end int) {
		unit := string(runes[start:end])
		if strings.TrimSpace(unit) != "" {
			units = append(units, unit)
		}
	}
	skipSpace := func(i int) int {
		for i < len(runes) && unicode.IsSpace(runes[i]) {
			i++
		}
		return i
	}

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r) && i > 0 && isTerminal(runes[i-1]):
			emit(i)
			i = skipSpace(i)
			start = i
		case r == '\n':
			emit(i)
			for i < len(runes) && runes[i] == '\n' {
				i++
			}
			start = i
		case r == ',' && i+1 < len(runes) && unicode.IsSpace(runes[i+1]):
			emit(i + 1)
			i = skipSpace(i + 1)
			start = i
		default:
			i++
		}
	}
	emit(len(runes))

	return units
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func lastRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

// sanitizeUTF8 drops invalid byte sequences so chunks are always valid text.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}

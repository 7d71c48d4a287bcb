package rag

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

// IndexConfig tunes the default retrieval behaviour.
type IndexConfig struct {
	TopK           int
	ScoreThreshold *float64
	BatchSize      int
}

// MemoryIndex is a brute-force cosine similarity index over a corpus that
// is embedded once at construction. It implements retriever.Retriever.
type MemoryIndex struct {
	embedder  embedding.Embedder
	docs      []*schema.Document
	vectors   [][]float64
	topK      int
	threshold *float64
}

var _ retriever.Retriever = (*MemoryIndex)(nil)

// NewMemoryIndex embeds docs in batches and returns a ready index.
func NewMemoryIndex(ctx context.Context, embedder embedding.Embedder, docs []*schema.Document, cfg IndexConfig) (*MemoryIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = 2
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 16
	}

	vectors := make([][]float64, 0, len(docs))
	for start := 0; start < len(docs); start += batch {
		end := min(start+batch, len(docs))

		texts := make([]string, 0, end-start)
		for _, doc := range docs[start:end] {
			texts = append(texts, doc.Content)
		}

		embedded, err := embedder.EmbedStrings(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed documents %d-%d: %w", start, end-1, err)
		}
		if len(embedded) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(embedded), len(texts))
		}
		vectors = append(vectors, embedded...)
	}

	return &MemoryIndex{
		embedder:  embedder,
		docs:      docs,
		vectors:   vectors,
		topK:      topK,
		threshold: cfg.ScoreThreshold,
	}, nil
}

// Len reports the number of indexed documents.
func (m *MemoryIndex) Len() int {
	return len(m.docs)
}

// GetType names the component for eino callbacks.
func (m *MemoryIndex) GetType() string {
	return "MemoryIndex"
}

// Retrieve returns the documents most similar to query, best first, each
// carrying its cosine score.
func (m *MemoryIndex) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := m.topK
	options := retriever.GetCommonOptions(&retriever.Options{
		TopK:           &topK,
		ScoreThreshold: m.threshold,
		Embedding:      m.embedder,
	}, opts...)

	if len(m.docs) == 0 {
		return nil, nil
	}

	embedder := options.Embedding
	if embedder == nil {
		embedder = m.embedder
	}

	embedded, err := embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embedded) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for query", len(embedded))
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, 0, len(m.docs))
	for i, vec := range m.vectors {
		score := cosine(embedded[0], vec)
		if options.ScoreThreshold != nil && score < *options.ScoreThreshold {
			continue
		}
		ranked = append(ranked, scored{idx: i, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	limit := len(ranked)
	if options.TopK != nil && *options.TopK > 0 && *options.TopK < limit {
		limit = *options.TopK
	}

	results := make([]*schema.Document, 0, limit)
	for _, r := range ranked[:limit] {
		src := m.docs[r.idx]
		meta := make(map[string]any, len(src.MetaData)+1)
		for k, v := range src.MetaData {
			meta[k] = v
		}
		doc := &schema.Document{ID: src.ID, Content: src.Content, MetaData: meta}
		results = append(results, doc.WithScore(r.score))
	}

	return results, nil
}

func cosine(a, b []float64) float64 {
	n := min(len(a), len(b))
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

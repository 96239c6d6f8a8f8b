package reasoning

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/philippgille/chromem-go"
)

// embeddingDims is the fixed vector size for hashEmbedding.
const embeddingDims = 64

// relevanceCollection is the chromem-go collection name cycle summaries are
// stored under.
const relevanceCollection = "cycle-summaries"

// defaultSimilarityFloor discards matches too dissimilar to be useful
// "already did this" hints.
const defaultSimilarityFloor = 0.35

// RelevanceIndex remembers a short summary of what each cycle did and
// answers "has something like this already been done" queries, so the
// composed prompt can tell the model to skip already-completed work (spec.md
// §4.7: "All other cycles share history, enabling the model to skip
// already-completed work"). It is a thin wrapper over an in-memory
// chromem-go collection using a dependency-free hashing embedding function,
// since the session must run fully offline.
type RelevanceIndex struct {
	collection *chromem.Collection
	nextID     int
}

// NewRelevanceIndex creates an empty in-memory relevance index.
func NewRelevanceIndex() (*RelevanceIndex, error) {
	db := chromem.NewDB()
	coll, err := db.CreateCollection(relevanceCollection, nil, hashEmbedding)
	if err != nil {
		return nil, fmt.Errorf("reasoning: create relevance collection: %w", err)
	}
	return &RelevanceIndex{collection: coll}, nil
}

// Remember records one cycle's action summary for future relevance queries.
func (r *RelevanceIndex) Remember(ctx context.Context, cycleID int, summary string) error {
	if strings.TrimSpace(summary) == "" {
		return nil
	}
	r.nextID++
	doc := chromem.Document{
		ID:       fmt.Sprintf("cycle-%d-%d", cycleID, r.nextID),
		Metadata: map[string]string{"cycle": fmt.Sprintf("%d", cycleID)},
		Content:  summary,
	}
	return r.collection.AddDocument(ctx, doc)
}

// SimilarPriorWork returns prior cycle summaries similar to query, most
// similar first, filtered to matches above defaultSimilarityFloor.
func (r *RelevanceIndex) SimilarPriorWork(ctx context.Context, query string, n int) ([]string, error) {
	if strings.TrimSpace(query) == "" || r.collection.Count() == 0 {
		return nil, nil
	}
	if n <= 0 {
		n = 3
	}
	if n > r.collection.Count() {
		n = r.collection.Count()
	}
	results, err := r.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("reasoning: query relevance index: %w", err)
	}
	out := make([]string, 0, len(results))
	for _, res := range results {
		if res.Similarity < defaultSimilarityFloor {
			continue
		}
		out = append(out, res.Content)
	}
	return out, nil
}

// hashEmbedding is a deterministic, offline bag-of-words embedding: each
// lowercased word hashes into one of embeddingDims buckets, and the
// resulting vector is L2-normalized so cosine similarity behaves sensibly.
func hashEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, embeddingDims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%embeddingDims]++
	}
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return vec, nil
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

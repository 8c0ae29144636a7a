package relations

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"graphloom/internal/llm"
	"graphloom/internal/metrics"
	"graphloom/pkg/types"
)

// Example is one few-shot pair for contrastive judging
type Example struct {
	Chunk1 string `json:"chunk1"`
	Chunk2 string `json:"chunk2"`
}

// Examples holds the positive and negative few-shot pairs
type Examples struct {
	Positive []Example `json:"positive"`
	Negative []Example `json:"negative"`
}

// Options configures the inferrer
type Options struct {
	SimilarityThreshold      float64  `json:"similarity_threshold"`
	KeywordOverlapThreshold  float64  `json:"keyword_overlap_threshold"`
	IncludeInferred          bool     `json:"include_inferred"`
	UseSemanticSimilarity    bool     `json:"use_semantic_similarity"`
	SemanticWeight           float64  `json:"semantic_weight"`
	EnableDuplicateDetection bool     `json:"enable_duplicate_detection"`
	UseContrastiveICL        bool     `json:"use_contrastive_icl"`
	ContrastiveExamples      Examples `json:"contrastive_examples"`
	PromptTemplate           string   `json:"prompt_template"`
	JudgeConcurrency         int      `json:"judge_concurrency"`
}

// DefaultOptions returns the default inference configuration
func DefaultOptions() Options {
	return Options{
		SimilarityThreshold:      0.85,
		KeywordOverlapThreshold:  0.65,
		IncludeInferred:          true,
		UseSemanticSimilarity:    false,
		SemanticWeight:           0.7,
		EnableDuplicateDetection: true,
		UseContrastiveICL:        false,
		PromptTemplate:           DefaultPromptTemplate,
		JudgeConcurrency:         4,
	}
}

// Inferrer derives relations between canonical objects
type Inferrer struct {
	opts   Options
	llm    llm.Client
	logger *zap.Logger
}

// NewInferrer creates an inferrer. The LLM client may be nil unless
// contrastive judging is enabled.
func NewInferrer(opts Options, llmClient llm.Client, logger *zap.Logger) (*Inferrer, error) {
	if opts.SimilarityThreshold < 0 || opts.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be in [0, 1], got %v", opts.SimilarityThreshold)
	}
	if opts.KeywordOverlapThreshold < 0 || opts.KeywordOverlapThreshold > 1 {
		return nil, fmt.Errorf("keyword overlap threshold must be in [0, 1], got %v", opts.KeywordOverlapThreshold)
	}
	if opts.SemanticWeight < 0 || opts.SemanticWeight > 1 {
		return nil, fmt.Errorf("semantic weight must be in [0, 1], got %v", opts.SemanticWeight)
	}
	if opts.UseContrastiveICL && llmClient == nil {
		return nil, fmt.Errorf("contrastive judging requires an LLM client")
	}
	if opts.PromptTemplate == "" {
		opts.PromptTemplate = DefaultPromptTemplate
	}
	if opts.JudgeConcurrency <= 0 {
		opts.JudgeConcurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Inferrer{opts: opts, llm: llmClient, logger: logger}, nil
}

// ExtractExplicit emits structural relations from actor and relation fields,
// one pass per object. Malformed references are skipped.
func (inf *Inferrer) ExtractExplicit(objects []*types.CanonicalObject) []types.Relation {
	var out []types.Relation
	for _, obj := range objects {
		for _, rule := range explicitRules {
			for _, target := range rule.targets(obj) {
				from, to := obj.ID, target
				if rule.inverted {
					from, to = target, obj.ID
				}

				rel, err := types.NewRelation(from, to, rule.relationType, types.SourceExplicit, 1.0)
				if err != nil {
					inf.logger.Debug("skipping malformed explicit reference",
						zap.String("object_id", obj.ID),
						zap.String("relation_type", string(rule.relationType)),
						zap.Error(err))
					continue
				}
				rel.CreatedAt = ruleCreatedAt(obj, rule.relationType)
				out = append(out, *rel)
				metrics.RelationsEmitted.WithLabelValues(string(rel.Type), string(rel.Source)).Inc()
			}
		}
	}
	return out
}

// DetectDuplicates groups objects by semantic hash and links every later
// group member to the first as duplicate_of. Objects without a stored hash
// are hashed on the fly.
func (inf *Inferrer) DetectDuplicates(objects []*types.CanonicalObject) []types.Relation {
	groups := make(map[string][]*types.CanonicalObject)
	var order []string

	for _, obj := range objects {
		hash := obj.SemanticHash
		if hash == "" {
			hash = types.SemanticHashFor(obj)
		}
		if _, seen := groups[hash]; !seen {
			order = append(order, hash)
		}
		groups[hash] = append(groups[hash], obj)
	}

	var out []types.Relation
	for _, hash := range order {
		group := groups[hash]
		if len(group) < 2 {
			continue
		}

		original := group[0]
		for _, dup := range group[1:] {
			rel, err := types.NewRelation(dup.ID, original.ID, types.RelationDuplicateOf, types.SourceComputed, 1.0)
			if err != nil {
				continue
			}
			rel.Metadata["semantic_hash"] = hash
			rel.Metadata["detection_method"] = "semantic_hash"
			rel.Metadata["group_size"] = len(group)
			out = append(out, *rel)
			metrics.RelationsEmitted.WithLabelValues(string(rel.Type), string(rel.Source)).Inc()
		}

		inf.logger.Debug("duplicate group detected",
			zap.String("original_id", original.ID),
			zap.Int("group_size", len(group)))
	}
	return out
}

// InferSimilarity emits bidirectional similar_to relations for object pairs
// whose keyword Jaccard overlap reaches the keyword threshold.
func (inf *Inferrer) InferSimilarity(objects []*types.CanonicalObject) []types.Relation {
	sets := make([]map[string]struct{}, len(objects))
	for i, obj := range objects {
		sets[i] = KeywordSet(obj)
	}

	var out []types.Relation
	for i := 0; i < len(objects); i++ {
		for j := i + 1; j < len(objects); j++ {
			if len(sets[i]) == 0 || len(sets[j]) == 0 {
				continue
			}

			score := JaccardSimilarity(sets[i], sets[j])
			if score < inf.opts.KeywordOverlapThreshold {
				continue
			}

			metadata := map[string]interface{}{
				"shared_keywords":       SharedKeywords(sets[i], sets[j]),
				"keyword_overlap_score": score,
			}
			out = append(out, inf.bidirectionalSimilar(objects[i].ID, objects[j].ID, score, types.SourceComputed, metadata)...)
		}
	}
	return out
}

// InferSimilarityWithEmbeddings emits bidirectional similar_to relations
// using a combined cosine and Jaccard score. When either embedding is
// missing, or semantic mode is off, the score degrades to plain Jaccard
// against the keyword threshold.
func (inf *Inferrer) InferSimilarityWithEmbeddings(objects []*types.CanonicalObject, embeddings map[string][]float64) []types.Relation {
	sets := make([]map[string]struct{}, len(objects))
	for i, obj := range objects {
		sets[i] = KeywordSet(obj)
	}

	var out []types.Relation
	for i := 0; i < len(objects); i++ {
		for j := i + 1; j < len(objects); j++ {
			if len(sets[i]) == 0 || len(sets[j]) == 0 {
				continue
			}

			keywordScore := JaccardSimilarity(sets[i], sets[j])

			embA, embB := embeddings[objects[i].ID], embeddings[objects[j].ID]
			semanticOn := inf.opts.UseSemanticSimilarity && len(embA) > 0 && len(embB) > 0

			var semanticScore, combined, cutoff float64
			if semanticOn {
				semanticScore = CosineSimilarity(embA, embB)
				w := inf.opts.SemanticWeight
				combined = w*semanticScore + (1-w)*keywordScore
				cutoff = inf.opts.SimilarityThreshold
			} else {
				combined = keywordScore
				cutoff = inf.opts.KeywordOverlapThreshold
			}

			if combined < cutoff {
				continue
			}

			metadata := map[string]interface{}{}
			if keywordScore != 0 {
				metadata["keyword_score"] = keywordScore
			}
			if semanticScore != 0 {
				metadata["semantic_score"] = semanticScore
			}
			if combined != 0 {
				metadata["combined_score"] = combined
			}
			if shared := SharedKeywords(sets[i], sets[j]); len(shared) > 0 {
				metadata["shared_keywords"] = shared
			}
			out = append(out, inf.bidirectionalSimilar(objects[i].ID, objects[j].ID, combined, types.SourceComputed, metadata)...)
		}
	}
	return out
}

// InferAll composes explicit extraction with the computed inference passes
// enabled by the options. Keyword similarity only; no embeddings required.
func (inf *Inferrer) InferAll(objects []*types.CanonicalObject) []types.Relation {
	out := inf.ExtractExplicit(objects)
	if !inf.opts.IncludeInferred {
		return out
	}
	if inf.opts.EnableDuplicateDetection {
		out = append(out, inf.DetectDuplicates(objects)...)
	}
	return append(out, inf.InferSimilarity(objects)...)
}

// InferAllWithEmbeddings composes explicit extraction, duplicate detection,
// and hybrid similarity over per-object embeddings.
func (inf *Inferrer) InferAllWithEmbeddings(objects []*types.CanonicalObject, embeddings map[string][]float64) []types.Relation {
	out := inf.ExtractExplicit(objects)
	if !inf.opts.IncludeInferred {
		return out
	}
	if inf.opts.EnableDuplicateDetection {
		out = append(out, inf.DetectDuplicates(objects)...)
	}
	return append(out, inf.InferSimilarityWithEmbeddings(objects, embeddings)...)
}

// InferAllWithContrastiveICL composes explicit extraction, duplicate
// detection, and LLM-judged similarity. The same inclusion gates apply as in
// InferAll; only the similarity pass changes.
func (inf *Inferrer) InferAllWithContrastiveICL(ctx context.Context, objects []*types.CanonicalObject) ([]types.Relation, error) {
	out := inf.ExtractExplicit(objects)
	if !inf.opts.IncludeInferred {
		return out, nil
	}
	if inf.opts.EnableDuplicateDetection {
		out = append(out, inf.DetectDuplicates(objects)...)
	}
	judged, err := inf.InferSimilarityWithContrastiveICL(ctx, objects)
	if err != nil {
		return nil, err
	}
	return append(out, judged...), nil
}

// RelationsFor filters relations touching the given object id
func RelationsFor(relations []types.Relation, id string, direction types.RelationDirection) []types.Relation {
	var out []types.Relation
	for _, rel := range relations {
		switch direction {
		case types.DirectionFrom:
			if rel.FromID == id {
				out = append(out, rel)
			}
		case types.DirectionTo:
			if rel.ToID == id {
				out = append(out, rel)
			}
		case types.DirectionBoth:
			if rel.FromID == id || rel.ToID == id {
				out = append(out, rel)
			}
		}
	}
	return out
}

// RelationsByType filters relations of one type
func RelationsByType(relations []types.Relation, t types.RelationType) []types.Relation {
	var out []types.Relation
	for _, rel := range relations {
		if rel.Type == t {
			out = append(out, rel)
		}
	}
	return out
}

// Stats aggregates a relation set
func Stats(relations []types.Relation) types.RelationStats {
	stats := types.RelationStats{
		Total:    len(relations),
		ByType:   make(map[types.RelationType]int),
		BySource: make(map[types.RelationSource]int),
	}

	var confidenceSum float64
	for _, rel := range relations {
		stats.ByType[rel.Type]++
		stats.BySource[rel.Source]++
		confidenceSum += rel.Confidence
	}
	if len(relations) > 0 {
		stats.AvgConfidence = confidenceSum / float64(len(relations))
	}
	return stats
}

// bidirectionalSimilar emits the forward and reverse similar_to relations
// with identical confidence and metadata. Each direction gets its own
// metadata map so later mutation cannot couple them.
func (inf *Inferrer) bidirectionalSimilar(idA, idB string, confidence float64, source types.RelationSource, metadata map[string]interface{}) []types.Relation {
	forward, err := types.NewRelation(idA, idB, types.RelationSimilarTo, source, confidence)
	if err != nil {
		return nil
	}
	reverse, err := types.NewRelation(idB, idA, types.RelationSimilarTo, source, confidence)
	if err != nil {
		return nil
	}

	forward.Metadata = copyMetadata(metadata)
	reverse.Metadata = copyMetadata(metadata)

	metrics.RelationsEmitted.WithLabelValues(string(types.RelationSimilarTo), string(source)).Add(2)
	return []types.Relation{*forward, *reverse}
}

func copyMetadata(metadata map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

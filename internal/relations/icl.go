package relations

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"graphloom/internal/metrics"
	"graphloom/pkg/types"
)

// DefaultPromptTemplate is the judging prompt used when the experiment
// config does not supply one.
const DefaultPromptTemplate = `You are judging whether two work items from a team knowledge base are related.

Examples of RELATED pairs:
{{positiveExamples}}

Examples of NOT_RELATED pairs:
{{negativeExamples}}

Now judge the following pair. Answer with exactly one word: RELATED or NOT_RELATED.

Text 1: {{chunk1}}
Text 2: {{chunk2}}
Answer:`

// progressInterval controls how often judging progress is logged
const progressInterval = 10

// iclConfidence is the fixed confidence for LLM-judged relations
const iclConfidence = 0.9

// InferSimilarityWithContrastiveICL judges every unordered object pair with
// one LLM call and emits bidirectional similar_to relations for pairs judged
// related. A failed judgment skips its pair; only context cancellation
// aborts the pass.
func (inf *Inferrer) InferSimilarityWithContrastiveICL(ctx context.Context, objects []*types.CanonicalObject) ([]types.Relation, error) {
	if inf.llm == nil {
		return nil, fmt.Errorf("contrastive judging requires an LLM client")
	}

	type pair struct{ a, b *types.CanonicalObject }
	var pairs []pair
	for i := 0; i < len(objects); i++ {
		for j := i + 1; j < len(objects); j++ {
			pairs = append(pairs, pair{objects[i], objects[j]})
		}
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	inf.logger.Info("contrastive judging started",
		zap.Int("total_pairs", len(pairs)),
		zap.String("model", inf.llm.Model()),
		zap.Int("concurrency", inf.opts.JudgeConcurrency))

	sem := semaphore.NewWeighted(int64(inf.opts.JudgeConcurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var out []types.Relation
	var judged int64

	for _, p := range pairs {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return out, fmt.Errorf("contrastive judging interrupted: %w", err)
		}

		wg.Add(1)
		go func(p pair) {
			defer wg.Done()
			defer sem.Release(1)

			relations := inf.judgePair(ctx, p.a, p.b)

			mu.Lock()
			out = append(out, relations...)
			mu.Unlock()

			done := atomic.AddInt64(&judged, 1)
			if done%progressInterval == 0 {
				inf.logger.Info("contrastive judging progress",
					zap.Int64("pairs_judged", done),
					zap.Int("total_pairs", len(pairs)))
			}
		}(p)
	}
	wg.Wait()

	inf.logger.Info("contrastive judging completed",
		zap.Int("total_pairs", len(pairs)),
		zap.Int("relations_emitted", len(out)))
	return out, nil
}

// judgePair runs one LLM judgment. Errors yield no relations for the pair.
func (inf *Inferrer) judgePair(ctx context.Context, a, b *types.CanonicalObject) []types.Relation {
	prompt := buildJudgePrompt(inf.opts.PromptTemplate, inf.opts.ContrastiveExamples, a.CombinedText(), b.CombinedText())

	completion, err := inf.llm.Complete(ctx, prompt)
	if err != nil {
		metrics.LLMJudgments.WithLabelValues("error").Inc()
		inf.logger.Warn("pair judgment failed",
			zap.String("from_id", a.ID),
			zap.String("to_id", b.ID),
			zap.Error(err))
		return nil
	}

	if !parseJudgment(completion.Content) {
		metrics.LLMJudgments.WithLabelValues("not_related").Inc()
		return nil
	}
	metrics.LLMJudgments.WithLabelValues("related").Inc()

	metadata := map[string]interface{}{
		"method":        "contrastive_icl",
		"model":         inf.llm.Model(),
		"prompt_length": len(prompt),
	}
	return inf.bidirectionalSimilar(a.ID, b.ID, iclConfidence, types.SourceInferred, metadata)
}

// buildJudgePrompt fills the template placeholders with rendered examples
// and the pair under judgment.
func buildJudgePrompt(template string, examples Examples, text1, text2 string) string {
	replacer := strings.NewReplacer(
		"{{positiveExamples}}", renderExamples(examples.Positive, "RELATED"),
		"{{negativeExamples}}", renderExamples(examples.Negative, "NOT_RELATED"),
		"{{chunk1}}", text1,
		"{{chunk2}}", text2,
	)
	return replacer.Replace(template)
}

func renderExamples(list []Example, verdict string) string {
	if len(list) == 0 {
		return "(none)"
	}

	var b strings.Builder
	for i, ex := range list {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Text 1: %s\nText 2: %s\nAnswer: %s", ex.Chunk1, ex.Chunk2, verdict)
	}
	return b.String()
}

// parseJudgment reads a verdict case-insensitively: the response must
// contain RELATED without NOT_RELATED.
func parseJudgment(content string) bool {
	upper := strings.ToUpper(content)
	return strings.Contains(upper, "RELATED") && !strings.Contains(upper, "NOT_RELATED")
}

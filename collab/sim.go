package collab

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/flowgo-dev/flowgo/effect"
)

// SimReasoner is a deterministic, heuristic reasoning service. The same
// question, steps and context always yield the same scores and conclusion, so
// tests and local runs are reproducible.
type SimReasoner struct{}

// NewSimReasoner creates a simulated reasoning service.
func NewSimReasoner() *SimReasoner {
	return &SimReasoner{}
}

// ReasonAbout scores each step with a stable hash-derived heuristic and
// synthesizes a conclusion from the best-scoring step.
func (r *SimReasoner) ReasonAbout(ctx context.Context, question string, steps []string, ectx *effect.Context) (*Reasoning, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if question == "" {
		return nil, fmt.Errorf("reason about: empty question")
	}
	if len(steps) == 0 {
		steps = []string{"assess the question directly"}
	}

	results := make([]StepResult, 0, len(steps))
	var total float64
	best := StepResult{Score: -1}
	for _, step := range steps {
		score := scoreOf(question, step)
		res := StepResult{
			Step:   step,
			Output: fmt.Sprintf("considered %q in light of %q (score %.2f)", step, question, score),
			Score:  score,
		}
		results = append(results, res)
		total += score
		if score > best.Score {
			best = res
		}
	}

	confidence := total / float64(len(results))
	return &Reasoning{
		Steps:      results,
		Conclusion: fmt.Sprintf("based on %q: %s", best.Step, question),
		Confidence: confidence,
	}, nil
}

// SimModel is a deterministic simulated language model. Responses carry a
// recommendation and a confidence line so coordination protocols can parse
// them, and the same request always yields the same response.
type SimModel struct {
	recommendations []string
}

// NewSimModel creates a simulated model client. The optional recommendations
// override the default option set the model picks from.
func NewSimModel(recommendations ...string) *SimModel {
	if len(recommendations) == 0 {
		recommendations = []string{"approve", "revise", "reject"}
	}
	return &SimModel{recommendations: recommendations}
}

// Complete returns a canned completion derived from the request.
func (m *SimModel) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("complete: empty prompt")
	}

	pick := m.recommendations[hashOf(req.Prompt+req.Model)%uint64(len(m.recommendations))]
	confidence := 0.5 + scoreOf(req.Prompt, req.Model)/2

	content := fmt.Sprintf("recommendation: %s\nconfidence: %.2f\nsimulated response for %s",
		pick, confidence, firstWords(req.Prompt, 8))

	provider := req.Provider
	if provider == "" {
		provider = "simulated"
	}
	promptTokens := len(strings.Fields(req.Prompt))
	completionTokens := len(strings.Fields(content))
	return &Completion{
		Content:  content,
		Provider: provider,
		Model:    req.Model,
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

func hashOf(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// scoreOf maps two strings onto a stable score in [0.5, 0.95).
func scoreOf(a, b string) float64 {
	return 0.5 + float64(hashOf(a+"|"+b)%45)/100
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

package coordination

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/flowgo-dev/flowgo/collab"
	"github.com/flowgo-dev/flowgo/effect"
)

// runPeer invokes the language-model collaborator for one peer and parses its
// recommendation and confidence out of the response.
func (c *Coordinator) runPeer(ctx context.Context, peer effect.PeerSpec, ectx *effect.Context) (PeerResult, error) {
	completion, err := c.models.Complete(ctx, collab.CompletionRequest{
		Model:  peer.Model,
		Prompt: peerPrompt(peer, ectx),
	})
	if err != nil {
		return PeerResult{}, fmt.Errorf("peer %s: %w", peer.ID, err)
	}

	rec, conf := parseResponse(completion.Content)
	return PeerResult{
		PeerID:         peer.ID,
		Role:           peer.Role,
		Output:         completion.Content,
		Recommendation: rec,
		Confidence:     conf,
	}, nil
}

// peerPrompt renders the task plus the peer's role, style and capabilities
// into a single prompt.
func peerPrompt(peer effect.PeerSpec, ectx *effect.Context) string {
	task := ectx.GetString("task", ectx.GetString("question", "contribute your assessment"))

	var b strings.Builder
	fmt.Fprintf(&b, "role: %s\n", peer.Role)
	if peer.Style != "" {
		fmt.Fprintf(&b, "style: %s\n", peer.Style)
	}
	if len(peer.Capabilities) > 0 {
		fmt.Fprintf(&b, "capabilities: %s\n", strings.Join(peer.Capabilities, ", "))
	}
	if feedback := ectx.GetString("consensus_feedback", ""); feedback != "" {
		fmt.Fprintf(&b, "feedback: %s\n", feedback)
	}
	if previous := ectx.GetString("previous_output", ""); previous != "" {
		fmt.Fprintf(&b, "previous: %s\n", previous)
	}
	fmt.Fprintf(&b, "task: %s\n", task)
	b.WriteString("respond with 'recommendation: <answer>' and 'confidence: <0..1>' lines")
	return b.String()
}

// parseResponse extracts "recommendation:" and "confidence:" lines from a
// model response. Without a recommendation line the first non-empty line is
// used; without a confidence line the confidence defaults to 0.5.
func parseResponse(content string) (string, float64) {
	rec := ""
	conf := 0.5
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "recommendation:"):
			rec = strings.TrimSpace(line[len("recommendation:"):])
		case strings.HasPrefix(lower, "confidence:"):
			if v, err := strconv.ParseFloat(strings.TrimSpace(line[len("confidence:"):]), 64); err == nil {
				conf = v
			}
		}
	}
	if rec == "" {
		for _, line := range strings.Split(content, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				rec = line
				break
			}
		}
	}
	return rec, conf
}

// partial converts the results gathered before a failure into the payload
// carried by a coordination error.
func partial(results []PeerResult) map[string]any {
	out := make(map[string]any, len(results))
	for _, r := range results {
		out[r.PeerID] = r.Output
	}
	return out
}

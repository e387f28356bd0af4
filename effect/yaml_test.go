package effect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func decodeSpec(t *testing.T, src string) Effect {
	t.Helper()
	var spec Spec
	require.NoError(t, yaml.Unmarshal([]byte(src), &spec))
	return spec.Effect
}

func TestDecodeNestedTree(t *testing.T) {
	e := decodeSpec(t, `
kind: sequence
effects:
  - {kind: log, level: info, message: starting}
  - {kind: put, key: status, value: accepted}
  - kind: retry
    attempts: 3
    base_delay: 250ms
    effect:
      kind: call_model
      provider: openai
      model: gpt-4o-mini
      prompt: summarize the incident
      max_tokens: 256
`)

	seq, ok := e.(Sequence)
	require.True(t, ok)
	require.Len(t, seq.Effects, 3)

	assert.Equal(t, Log{Level: "info", Message: "starting"}, seq.Effects[0])
	assert.Equal(t, Put{Key: "status", Value: "accepted"}, seq.Effects[1])

	retry, ok := seq.Effects[2].(Retry)
	require.True(t, ok)
	assert.Equal(t, 3, retry.Attempts)
	assert.Equal(t, 250*time.Millisecond, retry.BaseDelay)

	call, ok := retry.Inner.(CallModel)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", call.Model)
	assert.Equal(t, 256, call.MaxTokens)
}

func TestDecodeCoordinate(t *testing.T) {
	e := decodeSpec(t, `
kind: coordinate
policy: consensus
threshold: 0.7
max_iterations: 5
timeout: 10s
peers:
  - {id: a, role: reviewer, style: cautious}
  - {id: b, role: supervisor, capabilities: [planning, triage]}
`)

	coord, ok := e.(Coordinate)
	require.True(t, ok)
	assert.Equal(t, PolicyConsensus, coord.Policy)
	assert.Equal(t, 0.7, coord.Threshold)
	assert.Equal(t, 5, coord.MaxIterations)
	assert.Equal(t, 10*time.Second, coord.Timeout)
	require.Len(t, coord.Peers, 2)
	assert.Equal(t, []string{"planning", "triage"}, coord.Peers[1].Capabilities)
}

func TestDecodeUnknownKindIsPreserved(t *testing.T) {
	e := decodeSpec(t, `{kind: teleport, key: x}`)
	unknown, ok := e.(Unknown)
	require.True(t, ok, "unknown kinds must decode, not fail")
	assert.Equal(t, "teleport", unknown.Tag)
}

func TestDecodeMissingKind(t *testing.T) {
	var spec Spec
	err := yaml.Unmarshal([]byte(`{key: x, value: 1}`), &spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing kind")
}

func TestDecodeCompensateNeedsBothChildren(t *testing.T) {
	var spec Spec
	err := yaml.Unmarshal([]byte(`
kind: compensate
primary: {kind: put, key: a, value: 1}
`), &spec)
	require.Error(t, err)
}

func TestDecodeIncrementDefaultsDelta(t *testing.T) {
	e := decodeSpec(t, `{kind: increment, key: counter}`)
	inc, ok := e.(Increment)
	require.True(t, ok)
	assert.Equal(t, 1.0, inc.Delta)
}

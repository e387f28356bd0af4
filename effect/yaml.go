package effect

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML scalars like "250ms" or "5s".
type Duration struct{ time.Duration }

// UnmarshalText implements encoding.TextUnmarshaler for YAML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Spec wraps an Effect so it can be decoded from YAML inside config structs:
//
//	handler:
//	  kind: sequence
//	  effects:
//	    - {kind: put, key: status, value: accepted}
//	    - {kind: emit, topic: order.accepted}
type Spec struct {
	Effect Effect
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	e, err := decodeNode(node)
	if err != nil {
		return err
	}
	s.Effect = e
	return nil
}

// rawEffect is the superset of fields across all descriptor kinds. Unknown
// kinds decode into Unknown so execution, not decoding, reports them.
type rawEffect struct {
	Kind string `yaml:"kind"`

	Level    string         `yaml:"level"`
	Message  string         `yaml:"message"`
	Duration Duration       `yaml:"duration"`
	Topic    string         `yaml:"topic"`
	Payload  map[string]any `yaml:"payload"`
	Key      string         `yaml:"key"`
	Value    any            `yaml:"value"`
	Delta    float64        `yaml:"delta"`

	Question    string   `yaml:"question"`
	Steps       []string `yaml:"steps"`
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	Prompt      string   `yaml:"prompt"`
	Temperature float64  `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`

	Peers         []PeerSpec `yaml:"peers"`
	Policy        string     `yaml:"policy"`
	Threshold     float64    `yaml:"threshold"`
	MaxIterations int        `yaml:"max_iterations"`
	Timeout       Duration   `yaml:"timeout"`

	// Child nodes must be yaml.Node values, not pointers: yaml.v3 only
	// special-cases the Node value type and would otherwise decode the
	// child mapping into the Node struct's own fields.
	Effects   []yaml.Node `yaml:"effects"`
	Effect    yaml.Node   `yaml:"effect"`
	Primary   yaml.Node   `yaml:"primary"`
	Fallback  yaml.Node   `yaml:"fallback"`
	Attempts  int         `yaml:"attempts"`
	BaseDelay Duration    `yaml:"base_delay"`

	AgentID    string         `yaml:"agent_id"`
	AgentIDs   []string       `yaml:"agent_ids"`
	Subject    string         `yaml:"subject"`
	Outcome    string         `yaml:"outcome"`
	Adjustment map[string]any `yaml:"adjustment"`
	Pattern    string         `yaml:"pattern"`
	Score      float64        `yaml:"score"`
	Insight    string         `yaml:"insight"`
	Reason     string         `yaml:"reason"`
	Severity   string         `yaml:"severity"`
}

func decodeNode(node *yaml.Node) (Effect, error) {
	var raw rawEffect
	if err := node.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode effect: %w", err)
	}
	if raw.Kind == "" {
		return nil, fmt.Errorf("effect at line %d: missing kind", node.Line)
	}

	switch Kind(raw.Kind) {
	case KindLog:
		return Log{Level: raw.Level, Message: raw.Message}, nil
	case KindDelay:
		return Delay{Duration: raw.Duration.Duration}, nil
	case KindEmit:
		return Emit{Topic: raw.Topic, Payload: raw.Payload}, nil
	case KindGet:
		return Get{Key: raw.Key}, nil
	case KindPut:
		return Put{Key: raw.Key, Value: raw.Value}, nil
	case KindIncrement:
		delta := raw.Delta
		if delta == 0 {
			delta = 1
		}
		return Increment{Key: raw.Key, Delta: delta}, nil

	case KindReason:
		return Reason{Question: raw.Question, Steps: raw.Steps}, nil
	case KindCallModel:
		return CallModel{
			Provider:    raw.Provider,
			Model:       raw.Model,
			Prompt:      raw.Prompt,
			Temperature: raw.Temperature,
			MaxTokens:   raw.MaxTokens,
		}, nil
	case KindCoordinate:
		return Coordinate{
			Peers:         raw.Peers,
			Policy:        Policy(raw.Policy),
			Threshold:     raw.Threshold,
			MaxIterations: raw.MaxIterations,
			Timeout:       raw.Timeout.Duration,
		}, nil
	case KindBroadcast:
		return Broadcast{AgentID: raw.AgentID, Topic: raw.Topic, Insight: raw.Insight}, nil
	case KindAggregateInsights:
		return AggregateInsights{AgentIDs: raw.AgentIDs, Subject: raw.Subject}, nil
	case KindEscalate:
		return Escalate{Reason: raw.Reason, Severity: raw.Severity}, nil

	case KindSequence:
		effects, err := decodeList(raw.Effects)
		if err != nil {
			return nil, err
		}
		return Sequence{Effects: effects}, nil
	case KindParallel:
		effects, err := decodeList(raw.Effects)
		if err != nil {
			return nil, err
		}
		return Parallel{Effects: effects}, nil
	case KindRace:
		effects, err := decodeList(raw.Effects)
		if err != nil {
			return nil, err
		}
		return Race{Effects: effects, Timeout: raw.Timeout.Duration}, nil
	case KindRetry:
		inner, err := decodeChild(&raw.Effect, raw.Kind)
		if err != nil {
			return nil, err
		}
		return Retry{Inner: inner, Attempts: raw.Attempts, BaseDelay: raw.BaseDelay.Duration}, nil
	case KindCompensate:
		primary, err := decodeChild(&raw.Primary, raw.Kind)
		if err != nil {
			return nil, err
		}
		fallback, err := decodeChild(&raw.Fallback, raw.Kind)
		if err != nil {
			return nil, err
		}
		return Compensate{Primary: primary, Fallback: fallback}, nil
	case KindTimeout:
		inner, err := decodeChild(&raw.Effect, raw.Kind)
		if err != nil {
			return nil, err
		}
		return Timeout{Inner: inner, Duration: raw.Duration.Duration}, nil
	case KindBreaker:
		inner, err := decodeChild(&raw.Effect, raw.Kind)
		if err != nil {
			return nil, err
		}
		return Breaker{Inner: inner, Key: raw.Key}, nil

	case KindLearnOutcome:
		return LearnOutcome{AgentID: raw.AgentID, Subject: raw.Subject, Outcome: raw.Outcome}, nil
	case KindUpdateBehavior:
		return UpdateBehavior{AgentID: raw.AgentID, Adjustment: raw.Adjustment}, nil
	case KindStorePattern:
		return StorePattern{AgentID: raw.AgentID, Pattern: raw.Pattern, Score: raw.Score}, nil

	default:
		return Unknown{Tag: raw.Kind}, nil
	}
}

func decodeList(nodes []yaml.Node) ([]Effect, error) {
	effects := make([]Effect, 0, len(nodes))
	for i := range nodes {
		e, err := decodeNode(&nodes[i])
		if err != nil {
			return nil, err
		}
		effects = append(effects, e)
	}
	return effects, nil
}

func decodeChild(node *yaml.Node, parent string) (Effect, error) {
	if node == nil || node.Kind == 0 {
		return nil, fmt.Errorf("%s: missing nested effect", parent)
	}
	return decodeNode(node)
}

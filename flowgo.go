// Package flowgo wires the effect engine, agents, persistence and
// observability into a runnable system declared in a YAML config file.
package flowgo

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowgo-dev/flowgo/agent"
	"github.com/flowgo-dev/flowgo/effect"
	"github.com/flowgo-dev/flowgo/internal/sched"
)

// Config is the top-level configuration.
type Config struct {
	Agents        []AgentDef        `yaml:"agents"`
	Collaborators CollaboratorsDef  `yaml:"collaborators,omitempty"`
	Store         StoreConfig       `yaml:"store,omitempty"`
	Observability ObservabilityConf `yaml:"observability,omitempty"`
	Engine        EngineConfig      `yaml:"engine,omitempty"`
	Schedules     []sched.Entry     `yaml:"schedules,omitempty"`
}

// AgentDef declares one agent, including its state machine with effect-tree
// handlers.
type AgentDef struct {
	Name         string          `yaml:"name"`
	Type         string          `yaml:"type,omitempty"`
	Capabilities []string        `yaml:"capabilities,omitempty"`
	Style        string          `yaml:"style,omitempty"`
	Peers        []string        `yaml:"peers,omitempty"`
	Initial      string          `yaml:"initial,omitempty"`
	Transitions  []TransitionDef `yaml:"transitions,omitempty"`
	Behaviors    []BehaviorDef   `yaml:"behaviors,omitempty"`
}

// TransitionDef is the YAML shape of one state-machine edge.
type TransitionDef struct {
	From    string       `yaml:"from"`
	Trigger string       `yaml:"trigger"`
	Next    string       `yaml:"next"`
	Handler *effect.Spec `yaml:"handler,omitempty"`
}

// BehaviorDef is the YAML shape of one background behavior.
type BehaviorDef struct {
	Name    string       `yaml:"name"`
	Trigger string       `yaml:"trigger"`
	States  []string     `yaml:"states,omitempty"`
	Handler *effect.Spec `yaml:"handler"`
}

// CollaboratorsDef selects the collaborator backends. The zero value means
// fully simulated collaborators.
type CollaboratorsDef struct {
	Model ModelDef `yaml:"model,omitempty"`
}

// ModelDef configures the language-model collaborator.
type ModelDef struct {
	Provider  string  `yaml:"provider,omitempty"`   // "sim" (default) or "openai"
	APIKeyEnv string  `yaml:"api_key_env,omitempty"`
	RateLimit float64 `yaml:"rate_limit,omitempty"` // requests per second, 0 = unlimited
}

// StoreConfig selects the snapshot backend.
type StoreConfig struct {
	Backend string      `yaml:"backend,omitempty"` // "memory" (default), "file", "redis"
	Dir     string      `yaml:"dir,omitempty"`
	Redis   RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// ObservabilityConf configures the metrics and health HTTP server.
type ObservabilityConf struct {
	Enabled bool `yaml:"enabled,omitempty"`
	Port    int  `yaml:"port,omitempty"`
}

// EngineConfig tunes the effect interpreter.
type EngineConfig struct {
	Timeout          effect.Duration `yaml:"timeout,omitempty"`
	BreakerThreshold float64         `yaml:"breaker_threshold,omitempty"`
	BreakerWindow    int             `yaml:"breaker_window,omitempty"`
	BreakerCooldown  effect.Duration `yaml:"breaker_cooldown,omitempty"`
}

// FileReader abstracts config file access so loading is testable.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader reads from the filesystem.
type OSFileReader struct{}

func (OSFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ConfigLoader loads and validates configuration files.
type ConfigLoader struct {
	fileReader FileReader
}

// NewConfigLoader creates a loader backed by fr.
func NewConfigLoader(fr FileReader) *ConfigLoader {
	return &ConfigLoader{fileReader: fr}
}

// LoadConfig reads, decodes and validates a config file.
func (cl *ConfigLoader) LoadConfig(path string) (*Config, error) {
	data, err := cl.fileReader.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects configs a System cannot run.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("config: no agents declared")
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, def := range c.Agents {
		if def.Name == "" {
			return fmt.Errorf("config: agent with empty name")
		}
		if seen[def.Name] {
			return fmt.Errorf("config: duplicate agent %q", def.Name)
		}
		seen[def.Name] = true
		for _, b := range def.Behaviors {
			if b.Handler == nil || b.Handler.Effect == nil {
				return fmt.Errorf("config: agent %q behavior %q has no handler", def.Name, b.Name)
			}
		}
	}
	for _, e := range c.Schedules {
		if !seen[e.Agent] {
			return fmt.Errorf("config: schedule targets unknown agent %q", e.Agent)
		}
	}
	return nil
}

// agentConfig converts an AgentDef into the runtime shape, compiling handler
// specs to effect trees.
func (def AgentDef) agentConfig() agent.Config {
	cfg := agent.Config{
		Name:         def.Name,
		Type:         def.Type,
		Capabilities: def.Capabilities,
		Style:        def.Style,
		Peers:        def.Peers,
		Initial:      def.Initial,
	}
	for _, t := range def.Transitions {
		tr := agent.Transition{From: t.From, Trigger: t.Trigger, Next: t.Next}
		if t.Handler != nil {
			tr.Handler = t.Handler.Effect
		}
		cfg.Transitions = append(cfg.Transitions, tr)
	}
	for _, b := range def.Behaviors {
		bh := agent.Behavior{Name: b.Name, Trigger: b.Trigger, States: b.States}
		if b.Handler != nil {
			bh.Handler = b.Handler.Effect
		}
		cfg.Behaviors = append(cfg.Behaviors, bh)
	}
	return cfg
}

func (c EngineConfig) timeout() time.Duration {
	if c.Timeout.Duration > 0 {
		return c.Timeout.Duration
	}
	return 0
}

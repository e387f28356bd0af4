package flowgo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowgo-dev/flowgo/agent"
	"github.com/flowgo-dev/flowgo/collab"
	"github.com/flowgo-dev/flowgo/engine"
	"github.com/flowgo-dev/flowgo/internal/observability"
	"github.com/flowgo-dev/flowgo/internal/sched"
	obs "github.com/flowgo-dev/flowgo/pkg/observability"
	"github.com/flowgo-dev/flowgo/pkg/store"
)

// System is a fully wired flowgo instance: engine, agents, scheduler,
// snapshot store and observability server.
type System struct {
	Engine    *engine.Engine
	Runtime   *agent.Runtime
	Bus       *engine.Bus
	Store     store.Store
	Scheduler *sched.Scheduler

	server *obs.Server
	logger *log.Logger
}

// Run loads a config file and runs the system until SIGINT or SIGTERM.
func Run(configPath string) error {
	loader := NewConfigLoader(OSFileReader{})
	config, err := loader.LoadConfig(configPath)
	if err != nil {
		return err
	}
	return RunWithConfig(config)
}

// RunWithConfig runs the system until SIGINT or SIGTERM.
func RunWithConfig(config *Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sys, err := NewSystem(ctx, config)
	if err != nil {
		return err
	}
	if err := sys.Start(ctx); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	sys.logger.Printf("received %s, shutting down", s)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return sys.Shutdown(shutdownCtx)
}

// NewSystem builds a System from config: collaborators, engine, store,
// agents (restored from snapshots where they exist) and schedules.
func NewSystem(ctx context.Context, config *Config) (*System, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := log.Default()

	if err := observability.InitFromEnv(); err != nil {
		logger.Printf("tracing init failed, continuing without: %v", err)
	}
	obs.InitMetrics()

	models, err := buildModelClient(config.Collaborators.Model)
	if err != nil {
		return nil, err
	}

	bus := engine.NewBus()
	engineOpts := []engine.Option{
		engine.WithModelClient(models),
		engine.WithSink(bus),
		engine.WithLogger(logger),
	}
	if d := config.Engine.timeout(); d > 0 {
		engineOpts = append(engineOpts, engine.WithTimeout(d))
	}
	if config.Engine.BreakerThreshold > 0 || config.Engine.BreakerWindow > 0 {
		engineOpts = append(engineOpts, engine.WithBreakerConfig(engine.BreakerConfig{
			FailureThreshold: config.Engine.BreakerThreshold,
			WindowSize:       config.Engine.BreakerWindow,
			Cooldown:         config.Engine.BreakerCooldown.Duration,
		}))
	}
	eng := engine.New(engineOpts...)

	st, err := buildStore(ctx, config.Store)
	if err != nil {
		return nil, err
	}

	runtime := agent.NewRuntime()
	for _, def := range config.Agents {
		opts := []agent.Option{agent.WithSink(bus), agent.WithLogger(logger)}
		if snap, err := st.Load(ctx, def.Name); err == nil {
			opts = append(opts, agent.WithSnapshot(snap.State, snap.RestoreContext()))
			logger.Printf("restored agent %s in state %q", def.Name, snap.State)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("restore agent %s: %w", def.Name, err)
		}
		a := agent.New(def.agentConfig(), eng, opts...)
		if err := runtime.Register(a); err != nil {
			return nil, err
		}
	}

	scheduler := sched.New(runtime, logger)
	for _, e := range config.Schedules {
		if err := scheduler.Add(e); err != nil {
			return nil, err
		}
	}

	sys := &System{
		Engine:    eng,
		Runtime:   runtime,
		Bus:       bus,
		Store:     st,
		Scheduler: scheduler,
		logger:    logger,
	}
	if config.Observability.Enabled {
		port := config.Observability.Port
		if port == 0 {
			port = 9090
		}
		checker := obs.NewHealthChecker()
		checker.Register(obs.PingCheck())
		sys.server = obs.NewServer(port, checker)
	}
	return sys, nil
}

// Start brings up agents, schedules and the observability server.
func (s *System) Start(ctx context.Context) error {
	if err := s.Runtime.Start(ctx); err != nil {
		return err
	}
	s.Scheduler.Start()
	if s.server != nil {
		go func() {
			if err := s.server.Start(); err != nil {
				s.logger.Printf("observability server: %v", err)
			}
		}()
	}
	s.logger.Printf("system started with agents: %v", s.Runtime.List())
	return nil
}

// Shutdown stops schedules and agents, checkpoints every agent to the store
// and closes it.
func (s *System) Shutdown(ctx context.Context) error {
	s.Scheduler.Stop()

	var firstErr error
	if err := s.Runtime.Stop(ctx); err != nil {
		firstErr = err
	}
	for _, name := range s.Runtime.List() {
		a, err := s.Runtime.Get(name)
		if err != nil {
			continue
		}
		snap := a.Checkpoint()
		if err := s.Store.Save(ctx, store.FromAgent(snap.Agent, snap.State, snap.Context)); err != nil {
			s.logger.Printf("checkpoint agent %s: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := s.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := observability.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func buildModelClient(def ModelDef) (collab.ModelClient, error) {
	var client collab.ModelClient
	switch def.Provider {
	case "", "sim":
		client = collab.NewSimModel()
	case "openai":
		keyEnv := def.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "OPENAI_API_KEY"
		}
		key := os.Getenv(keyEnv)
		if key == "" {
			return nil, fmt.Errorf("config: model provider openai needs %s set", keyEnv)
		}
		client = collab.NewOpenAIModel(key)
	default:
		return nil, fmt.Errorf("config: unknown model provider %q", def.Provider)
	}
	if def.RateLimit > 0 {
		client = collab.NewRateLimitedModel(client, def.RateLimit, 1)
	}
	return client, nil
}

func buildStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "file":
		dir := cfg.Dir
		if dir == "" {
			dir = filepathDefault()
		}
		return store.NewFileStore(dir)
	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("config: redis store needs an addr")
		}
		return store.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	default:
		return nil, fmt.Errorf("config: unknown store backend %q", cfg.Backend)
	}
}

func filepathDefault() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowgo/snapshots"
	}
	return home + "/.flowgo/snapshots"
}

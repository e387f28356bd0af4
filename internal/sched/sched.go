// Package sched delivers cron-scheduled triggers to agents.
package sched

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Sender routes a trigger to an agent. *agent.Runtime satisfies it.
type Sender interface {
	Send(target, trigger string, payload map[string]any) error
}

// Entry is one recurring trigger: a cron spec, a target agent and the
// trigger to send.
type Entry struct {
	Spec    string         `yaml:"spec"`
	Agent   string         `yaml:"agent"`
	Trigger string         `yaml:"trigger"`
	Payload map[string]any `yaml:"payload"`
}

// Scheduler fires configured triggers on their cron schedules. Delivery
// failures are logged and do not stop the schedule.
type Scheduler struct {
	cron   *cron.Cron
	sender Sender
	logger *log.Logger
}

// New creates a scheduler with standard five-field cron specs.
func New(sender Sender, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{cron: cron.New(), sender: sender, logger: logger}
}

// Add registers an entry. The returned error reports a bad cron spec.
func (s *Scheduler) Add(e Entry) error {
	if e.Agent == "" || e.Trigger == "" {
		return fmt.Errorf("sched: entry needs agent and trigger")
	}
	_, err := s.cron.AddFunc(e.Spec, func() {
		if err := s.sender.Send(e.Agent, e.Trigger, e.Payload); err != nil {
			s.logger.Printf("sched: deliver %q to %s: %v", e.Trigger, e.Agent, err)
		}
	})
	if err != nil {
		return fmt.Errorf("sched: add entry %q: %w", e.Spec, err)
	}
	return nil
}

// Start begins firing schedules in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for in-flight deliveries.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

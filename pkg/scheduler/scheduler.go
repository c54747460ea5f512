// Package scheduler fires callbacks for agent and workflow runs on
// recurring schedules. Specs accept shorthand (daily, hourly, weekly,
// "HH:MM") or a standard five-field cron expression.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/dirigent-io/dirigent/pkg/telemetry"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

const defaultTick = time.Second

var timeOfDayPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// Callback is invoked when a schedule comes due. The caller supplies it,
// typically to enqueue a job or run the resource directly; the scheduler
// itself never talks to the engine or the queue. Errors are logged and the
// schedule keeps firing.
type Callback func(ctx context.Context, resourceID string, payload map[string]any) error

type entry struct {
	key        string
	kind       string
	resourceID string
	payload    map[string]any
	spec       string
	schedule   cron.Schedule
	nextDue    time.Time
	callback   Callback
}

// Scheduler fires registered callbacks when their schedule comes due. Time
// is read from an injected clock so tests can advance it deterministically.
type Scheduler struct {
	logger *slog.Logger
	sink   telemetry.Sink
	clock  clockwork.Clock
	tick   time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewScheduler(logger *slog.Logger, sink telemetry.Sink, clock clockwork.Clock) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	if sink == nil {
		sink = telemetry.NoopSink{}
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Scheduler{
		logger:  logger.With("module", "scheduler"),
		sink:    sink,
		clock:   clock,
		tick:    defaultTick,
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}
}

// ScheduleAgent registers a recurring agent run and returns its job key.
// The callback receives the agent ID and a payload holding the input text
// under "input_text".
func (s *Scheduler) ScheduleAgent(agentID, inputText, spec string, callback Callback) (string, error) {
	return s.schedule("agent", agentID, map[string]any{"input_text": inputText}, spec, callback)
}

// ScheduleWorkflow registers a recurring workflow run and returns its job
// key. The callback payload holds the initial context under "context".
func (s *Scheduler) ScheduleWorkflow(workflowID string, initial map[string]any, spec string, callback Callback) (string, error) {
	return s.schedule("workflow", workflowID, map[string]any{"context": initial}, spec, callback)
}

func (s *Scheduler) schedule(kind, resourceID string, payload map[string]any, spec string, callback Callback) (string, error) {
	if callback == nil {
		return "", fmt.Errorf("schedule for %s requires a callback", resourceID)
	}

	schedule, err := parseSpec(spec)
	if err != nil {
		return "", err
	}

	key := "sched-" + uuid.New().String()[:8]
	now := s.clock.Now()

	s.mu.Lock()
	s.entries[key] = &entry{
		key:        key,
		kind:       kind,
		resourceID: resourceID,
		payload:    payload,
		spec:       spec,
		schedule:   schedule,
		nextDue:    schedule.Next(now),
		callback:   callback,
	}
	s.mu.Unlock()

	s.logger.Info("Registered schedule", "job_key", key, "resource_id", resourceID, "spec", spec)

	return key, nil
}

// Unschedule removes a schedule. It reports whether the key existed.
func (s *Scheduler) Unschedule(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[key]
	delete(s.entries, key)

	return ok
}

// NextDueAt returns the next fire time for a schedule key.
func (s *Scheduler) NextDueAt(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return time.Time{}, false
	}

	return e.nextDue, true
}

// Start launches the tick loop. Use Stop to shut down.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.InfoContext(ctx, "Starting scheduler", "tick", s.tick)

	s.wg.Add(1)

	go s.run(ctx)
}

// Stop halts the tick loop and clears all schedules.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.InfoContext(ctx, "Stopping scheduler")
	close(s.stopCh)
	s.wg.Wait()

	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.clock.After(s.tick):
			s.fireDue(ctx)
		}
	}
}

func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	due := make([]*entry, 0)

	for _, e := range s.entries {
		if !e.nextDue.After(now) {
			due = append(due, e)
			e.nextDue = e.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		err := e.callback(ctx, e.resourceID, e.payload)
		if err != nil {
			s.logger.ErrorContext(ctx, "Schedule callback failed",
				"job_key", e.key, "resource_id", e.resourceID, "error", err)

			continue
		}

		s.sink.Record(ctx, telemetry.NewEvent("schedule.fired", map[string]any{
			"schedule_key": e.key,
			"kind":         e.kind,
			"resource_id":  e.resourceID,
		}))

		s.logger.InfoContext(ctx, "Schedule fired",
			"job_key", e.key, "resource_id", e.resourceID, "next_due", e.nextDue)
	}
}

// parseSpec turns a schedule spec into a cron schedule. Shorthand specs map
// to fixed cron expressions; anything else must parse as standard cron.
func parseSpec(spec string) (cron.Schedule, error) {
	expr := spec

	switch spec {
	case "hourly":
		expr = "0 * * * *"
	case "daily":
		expr = "0 0 * * *"
	case "weekly":
		expr = "0 0 * * 0"
	default:
		if m := timeOfDayPattern.FindStringSubmatch(spec); m != nil {
			expr = fmt.Sprintf("%s %s * * *", m[2], m[1])
		}
	}

	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule spec %q: %w", spec, err)
	}

	return schedule, nil
}

package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/colorcrew/slackbridge/pkg/logger"
	"github.com/colorcrew/slackbridge/pkg/registry"
	"github.com/colorcrew/slackbridge/pkg/relevance"
	"github.com/colorcrew/slackbridge/pkg/slackapi"
	"github.com/colorcrew/slackbridge/pkg/utils"
)

// MessageSource is the slice of the chat client the loop needs.
type MessageSource interface {
	GetMessages(ctx context.Context, channel string, limit int, sinceTS string) ([]slackapi.Message, error)
}

// Notifier pushes one batch to an agent's callback endpoint.
type Notifier interface {
	Notify(ctx context.Context, endpoint, title, text string) error
}

// Target bundles everything the loop needs to watch one agent.
type Target struct {
	Source   MessageSource
	Identity relevance.Identity
	Channel  string
}

// Loop polls the chat channel for every registered agent and turns new
// relevant messages into callback notifications.
type Loop struct {
	reg      *registry.Registry
	notifier Notifier
	targets  map[string]Target

	interval   time.Duration
	fetchLimit int

	sleep func(ctx context.Context, d time.Duration) error
}

func New(reg *registry.Registry, notifier Notifier, targets map[string]Target, interval time.Duration, fetchLimit int) *Loop {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if fetchLimit <= 0 {
		fetchLimit = 10
	}
	return &Loop{
		reg:        reg,
		notifier:   notifier,
		targets:    targets,
		interval:   interval,
		fetchLimit: fetchLimit,
		sleep:      sleepCtx,
	}
}

// Run ticks until ctx is cancelled. A panic inside a tick is logged
// and followed by a plain interval delay, never a crash.
func (l *Loop) Run(ctx context.Context) {
	logger.InfoCF("monitor", "Monitoring loop started", map[string]interface{}{
		"interval_sec": l.interval.Seconds(),
		"fetch_limit":  l.fetchLimit,
	})
	for {
		l.safeTick(ctx)
		if err := l.sleep(ctx, l.interval); err != nil {
			logger.InfoC("monitor", "Monitoring loop stopped")
			return
		}
	}
}

func (l *Loop) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("monitor", "Tick panicked", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
			})
		}
	}()
	l.Tick(ctx)
}

// Tick runs one pass over the registered agents. Failures are
// per-agent; one agent's trouble never blocks the rest.
func (l *Loop) Tick(ctx context.Context) {
	for _, agent := range l.reg.List() {
		if err := l.checkAgent(ctx, agent); err != nil {
			logger.WarnCF("monitor", "Agent check failed", map[string]interface{}{
				"color": agent.Color,
				"error": err.Error(),
			})
		}
	}
}

func (l *Loop) checkAgent(ctx context.Context, agent registry.Agent) error {
	target, ok := l.targets[agent.Color]
	if !ok {
		return fmt.Errorf("no chat client for color %s", agent.Color)
	}

	msgs, err := target.Source.GetMessages(ctx, target.Channel, l.fetchLimit, agent.Watermark)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	maxTS := msgs[0].Timestamp
	for _, m := range msgs[1:] {
		if slackapi.CompareTS(m.Timestamp, maxTS) > 0 {
			maxTS = m.Timestamp
		}
	}

	relevant := relevance.Relevant(msgs, target.Identity, true)
	if len(relevant) > 0 {
		if err := l.dispatch(ctx, agent, relevant); err != nil {
			// The watermark stays put so the batch is retried next
			// tick once the callback recovers.
			return fmt.Errorf("dispatch: %w", err)
		}
	}

	l.reg.Advance(agent.Color, maxTS)
	return nil
}

func (l *Loop) dispatch(ctx context.Context, agent registry.Agent, batch []slackapi.Message) error {
	batchID := uuid.NewString()
	summary := SenderSummary(batch)
	text := fmt.Sprintf("You have %d new chat message(s) from %s. Check them with get_relevant_messages.", len(batch), summary)

	logger.InfoCF("monitor", "Dispatching notification batch", map[string]interface{}{
		"batch_id": batchID,
		"color":    agent.Color,
		"count":    len(batch),
		"senders":  summary,
		"first":    utils.Truncate(batch[0].Text, 80),
	})

	if err := l.notifier.Notify(ctx, agent.Endpoint, "New chat messages", text); err != nil {
		return fmt.Errorf("batch %s: %w", batchID, err)
	}
	l.reg.Touch(agent.Color)
	return nil
}

// SenderSummary names the people behind a batch: one name alone, two
// names joined with "and", more collapsed into "X and N others".
func SenderSummary(batch []slackapi.Message) string {
	var names []string
	seen := map[string]bool{}
	for _, m := range batch {
		name := m.UserName
		if name == "" {
			name = m.UserID
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	switch len(names) {
	case 0:
		return "someone"
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return fmt.Sprintf("%s and %d others", names[0], len(names)-1)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

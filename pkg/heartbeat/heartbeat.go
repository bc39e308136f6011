package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/colorcrew/slackbridge/pkg/logger"
	"github.com/colorcrew/slackbridge/pkg/registry"
)

// Sender is the slice of the chat client the announcer posts through.
type Sender interface {
	SendMessage(ctx context.Context, text, channel string) (result interface{}, err error)
}

// sendFunc adapts a plain function to Sender.
type sendFunc func(ctx context.Context, text, channel string) (interface{}, error)

func (f sendFunc) SendMessage(ctx context.Context, text, channel string) (interface{}, error) {
	return f(ctx, text, channel)
}

// SenderFunc wraps fn as a Sender.
func SenderFunc(fn func(ctx context.Context, text, channel string) (interface{}, error)) Sender {
	return sendFunc(fn)
}

// Announcer posts a periodic status line to the default channel on a
// cron schedule so humans watching the channel know the daemon lives.
type Announcer struct {
	schedule string
	channel  string
	sender   Sender
	reg      *registry.Registry
	gron     *gronx.Gronx

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(schedule, channel string, sender Sender, reg *registry.Registry) *Announcer {
	return &Announcer{
		schedule: schedule,
		channel:  channel,
		sender:   sender,
		reg:      reg,
		gron:     gronx.New(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Run checks the schedule once a minute and posts when it is due.
// Returns when ctx is cancelled.
func (a *Announcer) Run(ctx context.Context) {
	if !a.gron.IsValid(a.schedule) {
		logger.ErrorCF("heartbeat", "Invalid cron schedule, announcer disabled", map[string]interface{}{
			"schedule": a.schedule,
		})
		return
	}
	logger.InfoCF("heartbeat", "Heartbeat announcer started", map[string]interface{}{
		"schedule": a.schedule,
		"channel":  a.channel,
	})
	for {
		if err := a.sleep(ctx, a.untilNextMinute()); err != nil {
			return
		}
		due, err := a.gron.IsDue(a.schedule, a.now())
		if err != nil || !due {
			continue
		}
		a.announce(ctx)
	}
}

func (a *Announcer) announce(ctx context.Context) {
	text := a.statusLine()
	if _, err := a.sender.SendMessage(ctx, text, a.channel); err != nil {
		logger.WarnCF("heartbeat", "Heartbeat post failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	logger.DebugC("heartbeat", "Heartbeat posted")
}

func (a *Announcer) statusLine() string {
	agents := a.reg.List()
	if len(agents) == 0 {
		return "bridge heartbeat: up, no agents registered"
	}
	names := ""
	for i, ag := range agents {
		if i > 0 {
			names += ", "
		}
		names += ag.Color
	}
	return fmt.Sprintf("bridge heartbeat: up, %d agent(s) registered (%s)", len(agents), names)
}

func (a *Announcer) untilNextMinute() time.Duration {
	now := a.now()
	next := now.Truncate(time.Minute).Add(time.Minute)
	return next.Sub(now)
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

package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/colorcrew/slackbridge/pkg/logger"
	"github.com/colorcrew/slackbridge/pkg/slackapi"
)

// registrationGrace is subtracted from the clock when seeding a new
// agent's watermark so messages posted during the registration window
// are still picked up on the first tick.
const registrationGrace = 5 * time.Second

// UnknownAgentError reports a registration attempt for a color that is
// not configured on this daemon.
type UnknownAgentError struct {
	Color string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent: %s", e.Color)
}

// Agent is one registered callback target.
type Agent struct {
	Color     string
	Endpoint  string
	LastSeen  time.Time
	Watermark string
}

// Registry tracks which agents are currently listening for
// notifications and the newest message timestamp each has seen.
type Registry struct {
	mu     sync.Mutex
	known  map[string]bool
	agents map[string]*Agent
	now    func() time.Time
}

func New(knownColors []string) *Registry {
	known := make(map[string]bool, len(knownColors))
	for _, c := range knownColors {
		known[c] = true
	}
	return &Registry{
		known:  known,
		agents: make(map[string]*Agent),
		now:    time.Now,
	}
}

// Register inserts or overwrites the entry for color. The watermark is
// seeded slightly in the past; re-registration resets it, so a
// reconnecting agent re-receives anything from the grace window.
func (r *Registry) Register(color, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.known[color] {
		return &UnknownAgentError{Color: color}
	}

	now := r.now()
	r.agents[color] = &Agent{
		Color:     color,
		Endpoint:  endpoint,
		LastSeen:  now,
		Watermark: slackapi.FormatTS(now.Add(-registrationGrace)),
	}
	logger.InfoCF("registry", "Agent registered", map[string]interface{}{
		"color":    color,
		"endpoint": endpoint,
	})
	return nil
}

// Unregister removes the entry for color. Removing an absent entry is
// not an error; the return value says whether anything was removed.
func (r *Registry) Unregister(color string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[color]; !ok {
		logger.WarnCF("registry", "Unregister for agent that was not registered", map[string]interface{}{
			"color": color,
		})
		return false
	}
	delete(r.agents, color)
	logger.InfoCF("registry", "Agent unregistered", map[string]interface{}{
		"color": color,
	})
	return true
}

// List returns a snapshot of the current entries ordered by color.
func (r *Registry) List() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Color < out[j].Color })
	return out
}

// Get returns a copy of the entry for color.
func (r *Registry) Get(color string) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[color]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// Advance moves the watermark for color forward to ts. Older or equal
// timestamps are ignored, so the watermark never regresses.
func (r *Registry) Advance(color, ts string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[color]
	if !ok {
		return
	}
	if slackapi.CompareTS(ts, a.Watermark) > 0 {
		a.Watermark = ts
	}
}

// Touch records callback activity for a registered agent.
func (r *Registry) Touch(color string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.agents[color]; ok {
		a.LastSeen = r.now()
	}
}

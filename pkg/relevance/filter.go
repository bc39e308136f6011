package relevance

import (
	"strings"

	"github.com/colorcrew/slackbridge/pkg/slackapi"
)

// teamKeywords flag a message as relevant to every agent regardless of
// addressing.
var teamKeywords = []string{
	"@here", "@channel", "@everyone",
	"all agents", "team meeting", "system alert",
	"critical", "emergency", "deployment", "outage",
	"maintenance", "daemon restart",
}

var canonicalColors = map[string]bool{
	"red":   true,
	"blue":  true,
	"green": true,
	"black": true,
}

// Identity is everything the filter needs to know about one agent.
// All name fields are expected in lower case; BotUserID may be empty
// when the platform identity has not been resolved yet.
type Identity struct {
	Color          string
	FriendlyName   string
	ConfiguredName string
	BotUserID      string
}

// Relevant returns the subset of msgs addressed to the given agent, in
// their input order. Rules are checked per message, first match wins:
// own posts are skipped, then optionally posts the agent already
// reacted to, then team-wide keywords accept, then the platform-native
// <@ID> mention, then the textual pattern set from TextPatterns.
func Relevant(msgs []slackapi.Message, id Identity, excludeReacted bool) []slackapi.Message {
	patterns := TextPatterns(id)

	nativeMention := ""
	if id.BotUserID != "" {
		nativeMention = "<@" + id.BotUserID + ">"
	}

	out := make([]slackapi.Message, 0, len(msgs))
	for _, m := range msgs {
		if id.BotUserID != "" && m.UserID == id.BotUserID {
			continue
		}
		if excludeReacted && id.BotUserID != "" && reactedBy(m, id.BotUserID) {
			continue
		}

		lower := strings.ToLower(m.Text)

		if containsTeamKeyword(lower) {
			out = append(out, m)
			continue
		}
		if nativeMention != "" && strings.Contains(m.Text, nativeMention) {
			out = append(out, m)
			continue
		}
		if matchesAny(lower, patterns) {
			out = append(out, m)
		}
	}
	return out
}

// TextPatterns generates the textual mention patterns for an agent.
// The delimiter forms ([red], red:) are only produced for the four
// canonical colors; they are a known-loose heuristic kept for
// compatibility with how humans address agents in chat.
func TextPatterns(id Identity) []string {
	var patterns []string
	seen := map[string]bool{}
	add := func(p string) {
		p = strings.ToLower(p)
		if p == "" || strings.Trim(p, "@-: []") == "" || seen[p] {
			return
		}
		seen[p] = true
		patterns = append(patterns, p)
	}

	if f := id.FriendlyName; f != "" {
		add("agent-" + f)
		add("@agent-" + f)
		add(f)
		add("@" + f)
	}
	if c := id.Color; c != "" {
		add("agent-" + c)
		add("@agent-" + c)
		add("@" + c)
	}
	if n := id.ConfiguredName; n != "" {
		add(n)
		add("@" + n)
	}
	if c := id.Color; canonicalColors[c] {
		add("@agent " + c)
		add("@agent" + c)
		add("[" + c + "]")
		add(c + ":")
	}
	return patterns
}

func containsTeamKeyword(lower string) bool {
	for _, kw := range teamKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func reactedBy(m slackapi.Message, userID string) bool {
	for _, r := range m.Reactions {
		for _, u := range r.Users {
			if u == userID {
				return true
			}
		}
	}
	return false
}

func matchesAny(lower string, patterns []string) bool {
	for _, p := range patterns {
		if !strings.Contains(lower, p) {
			continue
		}
		if !wordByte(p[len(p)-1]) {
			return true
		}
		if matchesBounded(lower, p) {
			return true
		}
	}
	return false
}

// matchesBounded accepts a pattern ending in a word character only
// when some occurrence is not immediately followed by an alphanumeric
// or hyphen. "agent-red" inside "@agent-redteam" is a prefix of a
// different name, not a hit. Patterns ending in a delimiter ([red],
// red:) need no check.
func matchesBounded(lower, pattern string) bool {
	for start := 0; start <= len(lower)-len(pattern); {
		i := strings.Index(lower[start:], pattern)
		if i < 0 {
			return false
		}
		end := start + i + len(pattern)
		if end >= len(lower) || !wordByte(lower[end]) {
			return true
		}
		start += i + 1
	}
	return false
}

func wordByte(c byte) bool {
	return c == '-' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

package relevance

import (
	"regexp"
	"strings"
)

// DirectoryEntry pairs the names an agent goes by with its platform
// user ID. Entries without a user ID are skipped by RewriteMentions.
type DirectoryEntry struct {
	Names  []string
	UserID string
}

type mentionRule struct {
	re     *regexp.Regexp
	userID string
}

// RewriteMentions replaces case-insensitive @name mentions with the
// platform-native <@USERID> token for every directory entry whose user
// ID is known. Hyphens in a name also match a space or nothing, so
// "@agent-sam", "@agent sam" and "@agentsam" all resolve. Mentions
// that are a prefix of a longer word are left untouched, as are
// already-native <@U...> tokens.
func RewriteMentions(text string, directory []DirectoryEntry) string {
	if text == "" || len(directory) == 0 {
		return text
	}
	for _, rule := range compileMentionRules(directory) {
		text = rewriteOne(text, rule)
	}
	return text
}

func compileMentionRules(directory []DirectoryEntry) []mentionRule {
	var rules []mentionRule
	for _, entry := range directory {
		if entry.UserID == "" {
			continue
		}
		for _, name := range entry.Names {
			re := mentionRegexp(name)
			if re == nil {
				continue
			}
			rules = append(rules, mentionRule{re: re, userID: entry.UserID})
		}
	}
	return rules
}

func mentionRegexp(name string) *regexp.Regexp {
	name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "@")
	if name == "" {
		return nil
	}
	parts := strings.Split(name, "-")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile(`(?i)@` + strings.Join(parts, `[-\s]?`))
	if err != nil {
		return nil
	}
	return re
}

func rewriteOne(text string, rule mentionRule) string {
	locs := rule.re.FindAllStringIndex(text, -1)
	if locs == nil {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		// A trailing alphanumeric or hyphen means this is a prefix of
		// a longer, different mention.
		if end < len(text) && wordByte(text[end]) {
			continue
		}
		b.WriteString(text[prev:start])
		b.WriteString("<@" + rule.userID + ">")
		prev = end
	}
	b.WriteString(text[prev:])
	return b.String()
}

package relevance

import "testing"

func testDirectory() []DirectoryEntry {
	return []DirectoryEntry{
		{Names: []string{"agent-sam", "Agent-Sam", "agent-red"}, UserID: "U0RED"},
		{Names: []string{"agent-mikhail", "agent-blue"}, UserID: "U0BLUE"},
		{Names: []string{"agent-ghost"}, UserID: ""},
	}
}

func TestRewriteMentions(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"@agent-sam please review", "<@U0RED> please review"},
		{"@Agent-Sam please review", "<@U0RED> please review"},
		{"@agent sam and @agent-blue", "<@U0RED> and <@U0BLUE>"},
		{"@agentsam inline", "<@U0RED> inline"},
		{"@agent-red take this", "<@U0RED> take this"},
		{"no mentions here", "no mentions here"},
		{"", ""},
	}
	dir := testDirectory()
	for _, c := range cases {
		if got := RewriteMentions(c.in, dir); got != c.want {
			t.Fatalf("RewriteMentions(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRewriteMentionsUnknownUserID(t *testing.T) {
	got := RewriteMentions("@agent-ghost are you there", testDirectory())
	if got != "@agent-ghost are you there" {
		t.Fatalf("entry without user ID must be left untouched, got %q", got)
	}
}

func TestRewriteMentionsPrefixGuard(t *testing.T) {
	got := RewriteMentions("cc @agent-samwise on this", testDirectory())
	if got != "cc @agent-samwise on this" {
		t.Fatalf("longer mention rewritten: %q", got)
	}
}

func TestRewriteMentionsIdempotent(t *testing.T) {
	dir := testDirectory()
	once := RewriteMentions("@agent-sam and @agent-blue sync up", dir)
	twice := RewriteMentions(once, dir)
	if once != twice {
		t.Fatalf("second pass changed text: %q != %q", once, twice)
	}
}

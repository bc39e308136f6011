package slackapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakePlatform serves just enough of the chat API for the client under
// test: canned JSON per endpoint path.
func fakePlatform(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := responses[r.URL.Path]
		if !ok {
			t.Errorf("unexpected API call: %s", r.URL.Path)
			body = `{"ok": false, "error": "unknown_method"}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient("xoxb-test", NewRateLimiter(60, 100), WithAPIURL(srv.URL+"/"))
}

func TestSendMessage(t *testing.T) {
	srv := fakePlatform(t, map[string]string{
		"/chat.postMessage": `{"ok": true, "channel": "C0GENERAL", "ts": "1726000000.000100"}`,
	})
	defer srv.Close()

	c := newTestClient(srv)
	res, err := c.SendMessage(context.Background(), "hello", "C0GENERAL")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Timestamp != "1726000000.000100" || res.Channel != "C0GENERAL" {
		t.Fatalf("result: %+v", res)
	}
}

func TestSendMessagePlatformError(t *testing.T) {
	srv := fakePlatform(t, map[string]string{
		"/chat.postMessage": `{"ok": false, "error": "channel_not_found"}`,
	})
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.SendMessage(context.Background(), "hello", "C0BOGUS")
	var remote *RemoteAPIError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteAPIError, got %v", err)
	}
	if remote.Code != "channel_not_found" {
		t.Fatalf("platform code = %q", remote.Code)
	}
	if remote.Op != "chat.postMessage" {
		t.Fatalf("op = %q", remote.Op)
	}
}

func TestGetMessagesAscendingOrder(t *testing.T) {
	srv := fakePlatform(t, map[string]string{
		// History arrives newest-first from the platform.
		"/conversations.history": `{"ok": true, "messages": [
			{"type": "message", "user": "U2", "text": "third", "ts": "1726000003.000000"},
			{"type": "message", "user": "U1", "text": "second", "ts": "1726000002.000000",
			 "reactions": [{"name": "eyes", "users": ["U9"], "count": 1}]},
			{"type": "message", "user": "U1", "text": "first", "ts": "1726000001.000000"}
		]}`,
		"/conversations.list": `{"ok": true, "channels": [{"id": "C0GENERAL", "name": "general"}]}`,
		"/users.list": `{"ok": true, "members": [
			{"id": "U1", "name": "dana", "real_name": "Dana R", "profile": {"display_name": "dana"}},
			{"id": "U2", "name": "lee", "real_name": "Lee K", "profile": {"display_name": ""}}
		]}`,
	})
	defer srv.Close()

	c := newTestClient(srv)
	msgs, err := c.GetMessages(context.Background(), "C0GENERAL", 10, "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Text != want {
			t.Fatalf("order at %d: %q, want %q", i, msgs[i].Text, want)
		}
	}
	if msgs[0].UserName != "dana" {
		t.Fatalf("display name not resolved: %q", msgs[0].UserName)
	}
	if msgs[2].UserName != "Lee K" {
		t.Fatalf("real-name fallback broken: %q", msgs[2].UserName)
	}
	if len(msgs[1].Reactions) != 1 || msgs[1].Reactions[0].Users[0] != "U9" {
		t.Fatalf("reactions not carried: %+v", msgs[1].Reactions)
	}
}

func TestGetMessagesSkipsSystemAndHidden(t *testing.T) {
	srv := fakePlatform(t, map[string]string{
		"/conversations.history": `{"ok": true, "messages": [
			{"type": "message", "user": "U1", "text": "kept", "ts": "1726000002.000000"},
			{"type": "message", "user": "U1", "text": "tombstone", "ts": "1726000001.500000", "hidden": true}
		]}`,
		"/conversations.list": `{"ok": true, "channels": []}`,
		"/users.list":         `{"ok": true, "members": []}`,
	})
	defer srv.Close()

	c := newTestClient(srv)
	msgs, err := c.GetMessages(context.Background(), "C0GENERAL", 10, "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "kept" {
		t.Fatalf("filtering broken: %+v", msgs)
	}
}

func TestGetChannelsCached(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/conversations.list":
			calls++
			_, _ = w.Write([]byte(`{"ok": true, "channels": [{"id": "C1", "name": "general"}]}`))
		case "/users.list":
			_, _ = w.Write([]byte(`{"ok": true, "members": []}`))
		default:
			_, _ = w.Write([]byte(`{"ok": false, "error": "unknown_method"}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		chans, err := c.GetChannels(ctx)
		if err != nil {
			t.Fatalf("get channels: %v", err)
		}
		if len(chans) != 1 || chans[0].Name != "general" {
			t.Fatalf("channels: %+v", chans)
		}
	}
	if calls != 1 {
		t.Fatalf("directory fetched %d times within the cache window", calls)
	}
}

func TestAuthTest(t *testing.T) {
	srv := fakePlatform(t, map[string]string{
		"/auth.test": `{"ok": true, "user_id": "U0RED", "bot_id": "B0RED", "user": "agent-sam", "team": "crew"}`,
	})
	defer srv.Close()

	c := newTestClient(srv)
	id, err := c.AuthTest(context.Background())
	if err != nil {
		t.Fatalf("auth test: %v", err)
	}
	if id.UserID != "U0RED" || id.BotID != "B0RED" {
		t.Fatalf("identity: %+v", id)
	}
}

func TestDeleteFilePlatformError(t *testing.T) {
	srv := fakePlatform(t, map[string]string{
		"/files.delete": `{"ok": false, "error": "file_not_found"}`,
	})
	defer srv.Close()

	c := newTestClient(srv)
	err := c.DeleteFile(context.Background(), "F404")
	var remote *RemoteAPIError
	if !errors.As(err, &remote) || remote.Code != "file_not_found" {
		t.Fatalf("expected file_not_found RemoteAPIError, got %v", err)
	}
}

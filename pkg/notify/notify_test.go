package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedCall struct {
	path string
	body map[string]string
}

func callbackServer(t *testing.T, failPaths map[string]bool) (*httptest.Server, *[]recordedCall) {
	t.Helper()
	var calls []recordedCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		calls = append(calls, recordedCall{path: r.URL.Path, body: body})
		if failPaths[r.URL.Path] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	return srv, &calls
}

func TestNotifyAppendThenSubmit(t *testing.T) {
	srv, calls := callbackServer(t, nil)
	defer srv.Close()

	c := New()
	if err := c.Notify(context.Background(), srv.URL, "New messages", "2 new messages from Dana"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	got := *calls
	if len(got) != 2 {
		t.Fatalf("expected 2 calls, got %d: %+v", len(got), got)
	}
	if got[0].path != "/append-prompt" || got[1].path != "/submit-prompt" {
		t.Fatalf("wrong call order: %+v", got)
	}
	if got[0].body["text"] != "2 new messages from Dana" {
		t.Fatalf("append body: %+v", got[0].body)
	}
}

func TestNotifyFallsBackToToast(t *testing.T) {
	srv, calls := callbackServer(t, map[string]bool{"/submit-prompt": true})
	defer srv.Close()

	c := New()
	err := c.Notify(context.Background(), srv.URL, "New messages", "1 new message")
	if err == nil {
		t.Fatalf("expected error when submit fails")
	}
	if !strings.Contains(err.Error(), "submit prompt") {
		t.Fatalf("error does not name the failing step: %v", err)
	}

	got := *calls
	if len(got) != 3 || got[2].path != "/show-toast" {
		t.Fatalf("expected toast fallback, got %+v", got)
	}
	if got[2].body["title"] != "New messages" || got[2].body["variant"] != "info" {
		t.Fatalf("toast body: %+v", got[2].body)
	}
}

func TestNotifyAppendFailureSkipsSubmit(t *testing.T) {
	srv, calls := callbackServer(t, map[string]bool{"/append-prompt": true})
	defer srv.Close()

	c := New()
	if err := c.Notify(context.Background(), srv.URL, "t", "m"); err == nil {
		t.Fatalf("expected error when append fails")
	}

	for _, call := range *calls {
		if call.path == "/submit-prompt" {
			t.Fatalf("submit must not run after failed append: %+v", *calls)
		}
	}
}

func TestNotifyUnreachableEndpoint(t *testing.T) {
	c := New()
	if err := c.Notify(context.Background(), "127.0.0.1:1", "t", "m"); err == nil {
		t.Fatalf("expected error for unreachable endpoint")
	}
}

func TestProbe(t *testing.T) {
	srv, _ := callbackServer(t, nil)
	defer srv.Close()

	c := New()
	if err := c.Probe(context.Background(), srv.URL); err != nil {
		t.Fatalf("probe of live endpoint: %v", err)
	}
	if err := c.Probe(context.Background(), "127.0.0.1:1"); err == nil {
		t.Fatalf("expected probe failure for dead endpoint")
	}
}

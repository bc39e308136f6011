package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/colorcrew/slackbridge/pkg/config"
	"github.com/colorcrew/slackbridge/pkg/registry"
	"github.com/colorcrew/slackbridge/pkg/slackapi"
)

type fakeClient struct {
	sentText    string
	sentChannel string
	messages    []slackapi.Message
	getErr      error
	uploaded    []byte
	deletedID   string
}

func (f *fakeClient) SendMessage(_ context.Context, text, channel string) (slackapi.SendResult, error) {
	f.sentText = text
	f.sentChannel = channel
	return slackapi.SendResult{Channel: channel, Timestamp: "1700000000.000100"}, nil
}

func (f *fakeClient) GetMessages(_ context.Context, _ string, _ int, _ string) ([]slackapi.Message, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.messages, nil
}

func (f *fakeClient) AddReaction(_ context.Context, _, _, _ string) error { return nil }

func (f *fakeClient) GetChannels(_ context.Context) ([]slackapi.ChannelInfo, error) {
	return []slackapi.ChannelInfo{{ID: "C0GENERAL", Name: "general"}}, nil
}

func (f *fakeClient) UploadFile(_ context.Context, data []byte, filename, _, _ string) (slackapi.UploadResult, error) {
	f.uploaded = data
	return slackapi.UploadResult{FileID: "F123", Files: []slackapi.FileInfo{{ID: "F123", Title: filename}}}, nil
}

func (f *fakeClient) ListFiles(_ context.Context, _ string, _ int) ([]slackapi.FileInfo, error) {
	return nil, nil
}

func (f *fakeClient) DownloadFile(_ context.Context, fileID string) (slackapi.DownloadResult, error) {
	return slackapi.DownloadResult{Filename: "f.txt", Content: "aGk="}, nil
}

func (f *fakeClient) DeleteFile(_ context.Context, fileID string) error {
	f.deletedID = fileID
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Daemon.DefaultChannel = "C0GENERAL"
	cfg.Agents = map[string]config.AgentConfig{
		"red":  {Name: "agent-sam", BotToken: "xoxb-red", BotUserID: "U0RED"},
		"blue": {Name: "agent-mikhail", BotToken: "xoxb-blue", BotUserID: "U0BLUE"},
	}
	return cfg
}

func testServer(red *fakeClient) (*Server, *registry.Registry) {
	cfg := testConfig()
	reg := registry.New([]string{"red", "blue"})
	clients := map[string]ChatClient{"red": red, "blue": &fakeClient{}}
	return NewServer(cfg, reg, clients), reg
}

type envelope struct {
	Success bool                   `json:"success"`
	Result  map[string]interface{} `json:"result"`
	Error   string                 `json:"error"`
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, env
}

func TestSendMessageRewritesMentions(t *testing.T) {
	red := &fakeClient{}
	s, _ := testServer(red)
	h := s.Router()

	code, env := doJSON(t, h, http.MethodPost, "/send_message", map[string]interface{}{
		"text":        "@agent-mikhail please take over",
		"agent_color": "red",
	})
	if code != http.StatusOK || !env.Success {
		t.Fatalf("status %d, env %+v", code, env)
	}
	if red.sentText != "<@U0BLUE> please take over" {
		t.Fatalf("sent text = %q", red.sentText)
	}
	if red.sentChannel != "C0GENERAL" {
		t.Fatalf("default channel not applied: %q", red.sentChannel)
	}
}

func TestSendMessageRequiresText(t *testing.T) {
	s, _ := testServer(&fakeClient{})
	code, env := doJSON(t, s.Router(), http.MethodPost, "/send_message", map[string]interface{}{
		"agent_color": "red",
	})
	if code != http.StatusBadRequest || env.Error == "" {
		t.Fatalf("status %d, env %+v", code, env)
	}
}

func TestUnknownAgentColor(t *testing.T) {
	s, _ := testServer(&fakeClient{})
	code, env := doJSON(t, s.Router(), http.MethodPost, "/send_message", map[string]interface{}{
		"text":        "hello",
		"agent_color": "mauve",
	})
	if code != http.StatusBadRequest {
		t.Fatalf("status %d, env %+v", code, env)
	}
	if !strings.Contains(env.Error, "unknown agent") {
		t.Fatalf("error body: %q", env.Error)
	}
}

func TestAgentNameResolvesLikeColor(t *testing.T) {
	red := &fakeClient{}
	s, _ := testServer(red)
	code, _ := doJSON(t, s.Router(), http.MethodPost, "/send_message", map[string]interface{}{
		"text":       "hello",
		"agent_name": "Agent-Sam",
	})
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if red.sentText != "hello" {
		t.Fatalf("wrong client used")
	}
}

func TestHandlerNotRegistered(t *testing.T) {
	s, _ := testServer(&fakeClient{})
	delete(s.handlers, "slack.send_message")

	code, env := doJSON(t, s.Router(), http.MethodPost, "/send_message", map[string]interface{}{
		"text": "hello",
	})
	if code != http.StatusInternalServerError {
		t.Fatalf("status %d", code)
	}
	if env.Error != "Handler not registered" {
		t.Fatalf("error body: %q", env.Error)
	}
}

func TestGetRelevantMessagesRequiresAgent(t *testing.T) {
	s, _ := testServer(&fakeClient{})
	req := httptest.NewRequest(http.MethodGet, "/get_relevant_messages", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	// Both identifier forms are accepted, so the error names both.
	if !strings.Contains(body["error"], "agent_color") || !strings.Contains(body["error"], "agent_name") {
		t.Fatalf("error should name both identifier forms: %q", body["error"])
	}
}

func TestGetRelevantMessagesFiltersAndCounts(t *testing.T) {
	red := &fakeClient{messages: []slackapi.Message{
		{Timestamp: "1700000001.000000", UserID: "U0H", Text: "@red please review"},
		{Timestamp: "1700000002.000000", UserID: "U0H", Text: "lunch plans"},
		{Timestamp: "1700000003.000000", UserID: "U0RED", Text: "@red self echo"},
	}}
	s, _ := testServer(red)

	code, env := doJSON(t, s.Router(), http.MethodGet, "/get_relevant_messages?agent_color=red", nil)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("status %d, env %+v", code, env)
	}
	if env.Result["total_filtered"].(float64) != 1 {
		t.Fatalf("total_filtered = %v", env.Result["total_filtered"])
	}
	if env.Result["searched_total"].(float64) != 3 {
		t.Fatalf("searched_total = %v", env.Result["searched_total"])
	}
	if env.Result["agent_color"] != "red" || env.Result["bot_user_id"] != "U0RED" {
		t.Fatalf("identity fields: %+v", env.Result)
	}
}

func TestGetRelevantMessagesRemoteFailure(t *testing.T) {
	red := &fakeClient{getErr: &slackapi.RemoteAPIError{Op: "conversations.history", Code: "channel_not_found"}}
	s, _ := testServer(red)

	code, env := doJSON(t, s.Router(), http.MethodGet, "/get_relevant_messages?agent_color=red", nil)
	if code != http.StatusBadGateway {
		t.Fatalf("status %d, env %+v", code, env)
	}
	if !strings.Contains(env.Error, "channel_not_found") {
		t.Fatalf("error body: %q", env.Error)
	}
}

func TestDownloadFileRequiresID(t *testing.T) {
	s, _ := testServer(&fakeClient{})
	req := httptest.NewRequest(http.MethodGet, "/download_file?agent_color=red", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestDeleteFile(t *testing.T) {
	red := &fakeClient{}
	s, _ := testServer(red)
	code, env := doJSON(t, s.Router(), http.MethodPost, "/delete_file", map[string]interface{}{
		"file_id":     "F123",
		"agent_color": "red",
	})
	if code != http.StatusOK || !env.Success {
		t.Fatalf("status %d, env %+v", code, env)
	}
	if red.deletedID != "F123" {
		t.Fatalf("delete not forwarded: %q", red.deletedID)
	}
}

func TestUploadFileMultipart(t *testing.T) {
	red := &fakeClient{}
	s, _ := testServer(red)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write([]byte("content here")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = mw.WriteField("agent_color", "red")
	_ = mw.WriteField("comment", "weekly notes")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload_file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if string(red.uploaded) != "content here" {
		t.Fatalf("uploaded bytes = %q", red.uploaded)
	}
}

func TestUploadFileWithoutFile(t *testing.T) {
	s, _ := testServer(&fakeClient{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("agent_color", "red")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload_file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	s, reg := testServer(&fakeClient{})
	if err := reg.Register("red", "127.0.0.1:4100"); err != nil {
		t.Fatalf("register: %v", err)
	}

	code, env := doJSON(t, s.Router(), http.MethodGet, "/health", nil)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("status %d, env %+v", code, env)
	}
	if env.Result["status"] != "healthy" {
		t.Fatalf("health result: %+v", env.Result)
	}
	agents, ok := env.Result["agents"].([]interface{})
	if !ok || len(agents) != 2 {
		t.Fatalf("agents: %+v", env.Result["agents"])
	}
}

func TestRegisterUnregisterFlow(t *testing.T) {
	s, reg := testServer(&fakeClient{})
	h := s.Router()

	code, env := doJSON(t, h, http.MethodPost, "/register_agent", map[string]interface{}{
		"agent_color":   "red",
		"opencode_port": 4100,
	})
	if code != http.StatusOK || !env.Success {
		t.Fatalf("register status %d, env %+v", code, env)
	}
	if env.Result["endpoint"] != "127.0.0.1:4100" {
		t.Fatalf("endpoint: %v", env.Result["endpoint"])
	}

	if a, ok := reg.Get("red"); !ok || a.Endpoint != "127.0.0.1:4100" {
		t.Fatalf("registry state: %+v ok=%v", a, ok)
	}

	code, env = doJSON(t, h, http.MethodGet, "/list_agents", nil)
	if code != http.StatusOK {
		t.Fatalf("list status %d", code)
	}
	listed, ok := env.Result["agents"].([]interface{})
	if !ok || len(listed) != 1 {
		t.Fatalf("list result: %+v", env.Result)
	}

	code, env = doJSON(t, h, http.MethodPost, "/unregister_agent", map[string]interface{}{
		"agent_color": "red",
	})
	if code != http.StatusOK || env.Result["was_registered"] != true {
		t.Fatalf("unregister env: %+v", env)
	}
	if _, ok := reg.Get("red"); ok {
		t.Fatalf("agent still registered")
	}
}

func TestRegisterAgentValidation(t *testing.T) {
	s, _ := testServer(&fakeClient{})
	h := s.Router()

	code, _ := doJSON(t, h, http.MethodPost, "/register_agent", map[string]interface{}{
		"agent_color": "red",
	})
	if code != http.StatusBadRequest {
		t.Fatalf("missing port: status %d", code)
	}

	code, _ = doJSON(t, h, http.MethodPost, "/register_agent", map[string]interface{}{
		"agent_color":   "mauve",
		"opencode_port": 4100,
	})
	if code != http.StatusBadRequest {
		t.Fatalf("unknown color: status %d", code)
	}
}

func TestStatusForMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{badRequest("nope"), http.StatusBadRequest},
		{&registry.UnknownAgentError{Color: "x"}, http.StatusBadRequest},
		{&slackapi.RemoteAPIError{Op: "op", Code: "rate_limited"}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Fatalf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

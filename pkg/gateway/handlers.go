package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/colorcrew/slackbridge/pkg/logger"
	"github.com/colorcrew/slackbridge/pkg/registry"
	"github.com/colorcrew/slackbridge/pkg/relevance"
	"github.com/colorcrew/slackbridge/pkg/slackapi"
)

// relevantFetchCap bounds the oversampling fetch behind
// get_relevant_messages.
const relevantFetchCap = 200

// Version reported by the health endpoint.
const Version = "2.0.0"

// Prober checks a callback endpoint during agent registration.
type Prober interface {
	Probe(ctx context.Context, endpoint string) error
}

// SetProber wires the optional registration-time endpoint check.
func (s *Server) SetProber(p Prober) { s.prober = p }

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	params, err := bodyParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.dispatch(w, r, "slack.send_message", params)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, "slack.get_messages", queryParams(r))
}

func (s *Server) handleGetRelevantMessages(w http.ResponseWriter, r *http.Request) {
	params := queryParams(r)
	if params.Get("agent_color") == "" && params.Get("agent_name") == "" {
		writeError(w, http.StatusBadRequest, "agent_color or agent_name parameter is required")
		return
	}
	s.dispatch(w, r, "slack.get_relevant_messages", params)
}

func (s *Server) handleAddReaction(w http.ResponseWriter, r *http.Request) {
	params, err := bodyParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.dispatch(w, r, "slack.add_reaction", params)
}

func (s *Server) handleGetChannels(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, "slack.get_channels", queryParams(r))
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	params, err := multipartParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.dispatch(w, r, "slack.upload_file", params)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, "slack.list_files", queryParams(r))
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	params := queryParams(r)
	if params.Get("file_id") == "" {
		writeError(w, http.StatusBadRequest, "file_id parameter is required")
		return
	}
	s.dispatch(w, r, "slack.download_file", params)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	params, err := bodyParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if params.Get("file_id") == "" {
		writeError(w, http.StatusBadRequest, "file_id parameter is required")
		return
	}
	s.dispatch(w, r, "slack.delete_file", params)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, "daemon.health_check", newParams())
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	params, err := bodyParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.dispatch(w, r, "daemon.register_agent", params)
}

func (s *Server) handleUnregisterAgent(w http.ResponseWriter, r *http.Request) {
	params, err := bodyParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.dispatch(w, r, "daemon.unregister_agent", params)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, "daemon.list_agents", newParams())
}

// clientFor resolves either identifier form to the canonical color and
// its chat client. An empty identifier falls back to the first client
// in color order so identity-agnostic reads still work.
func (s *Server) clientFor(identifier string) (ChatClient, string, error) {
	if identifier == "" {
		colors := make([]string, 0, len(s.clients))
		for c := range s.clients {
			colors = append(colors, c)
		}
		if len(colors) == 0 {
			return nil, "", fmt.Errorf("no chat client available")
		}
		sort.Strings(colors)
		return s.clients[colors[0]], colors[0], nil
	}

	color, ok := s.cfg.ResolveColor(identifier)
	if !ok {
		return nil, "", &registry.UnknownAgentError{Color: identifier}
	}
	client, ok := s.clients[color]
	if !ok {
		return nil, "", fmt.Errorf("no chat client for color %s", color)
	}
	return client, color, nil
}

func (s *Server) channelOr(params Params, color string) (string, error) {
	if ch := params.Get("channel"); ch != "" {
		return ch, nil
	}
	if ch := s.cfg.ChannelFor(color); ch != "" {
		return ch, nil
	}
	return "", badRequest("No channel specified and no default channel configured")
}

// directory lists every configured agent under all the names humans
// use for it, for mention rewriting.
func (s *Server) directory() []relevance.DirectoryEntry {
	var dir []relevance.DirectoryEntry
	for color, agent := range s.cfg.Agents {
		names := []string{"agent-" + color}
		if agent.Name != "" {
			names = append(names, agent.Name)
		}
		if d := agent.Display(); d != "" && d != agent.Name {
			names = append(names, d)
		}
		dir = append(dir, relevance.DirectoryEntry{Names: names, UserID: agent.BotUserID})
	}
	return dir
}

func (s *Server) identityFor(color string) relevance.Identity {
	agent := s.cfg.Agents[color]
	return relevance.Identity{
		Color:          color,
		FriendlyName:   agent.FriendlyName(),
		ConfiguredName: strings.ToLower(agent.Name),
		BotUserID:      agent.BotUserID,
	}
}

func (s *Server) registerHandlers() {
	s.RegisterHandler("slack.send_message", s.opSendMessage)
	s.RegisterHandler("slack.get_messages", s.opGetMessages)
	s.RegisterHandler("slack.get_relevant_messages", s.opGetRelevantMessages)
	s.RegisterHandler("slack.add_reaction", s.opAddReaction)
	s.RegisterHandler("slack.get_channels", s.opGetChannels)
	s.RegisterHandler("slack.upload_file", s.opUploadFile)
	s.RegisterHandler("slack.list_files", s.opListFiles)
	s.RegisterHandler("slack.download_file", s.opDownloadFile)
	s.RegisterHandler("slack.delete_file", s.opDeleteFile)
	s.RegisterHandler("daemon.health_check", s.opHealthCheck)
	s.RegisterHandler("daemon.register_agent", s.opRegisterAgent)
	s.RegisterHandler("daemon.unregister_agent", s.opUnregisterAgent)
	s.RegisterHandler("daemon.list_agents", s.opListAgents)
}

func identifier(params Params) string {
	if v := params.Get("agent_color"); v != "" {
		return v
	}
	return params.Get("agent_name")
}

func (s *Server) opSendMessage(ctx context.Context, params Params) (interface{}, error) {
	text := params.Get("text")
	if text == "" {
		return nil, badRequest("text parameter is required")
	}

	client, color, err := s.clientFor(identifier(params))
	if err != nil {
		return nil, err
	}
	channel, err := s.channelOr(params, color)
	if err != nil {
		return nil, err
	}

	text = relevance.RewriteMentions(text, s.directory())
	text = relevance.MarkdownToMrkdwn(text)

	result, err := client.SendMessage(ctx, text, channel)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Server) opGetMessages(ctx context.Context, params Params) (interface{}, error) {
	client, color, err := s.clientFor(identifier(params))
	if err != nil {
		return nil, err
	}
	channel, err := s.channelOr(params, color)
	if err != nil {
		return nil, err
	}

	msgs, err := client.GetMessages(ctx, channel, params.Int("limit", 50), params.Get("since_timestamp"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"messages": toMarkdown(msgs)}, nil
}

// toMarkdown converts message text from the platform dialect for
// callers that consume standard markdown. Operates on copies.
func toMarkdown(msgs []slackapi.Message) []slackapi.Message {
	out := make([]slackapi.Message, len(msgs))
	for i, m := range msgs {
		m.Text = relevance.MrkdwnToMarkdown(m.Text)
		out[i] = m
	}
	return out
}

func (s *Server) opGetRelevantMessages(ctx context.Context, params Params) (interface{}, error) {
	id := identifier(params)
	if id == "" {
		return nil, badRequest("agent_color or agent_name parameter is required")
	}
	client, color, err := s.clientFor(id)
	if err != nil {
		return nil, err
	}
	channel, err := s.channelOr(params, color)
	if err != nil {
		return nil, err
	}

	limit := params.Int("limit", 50)
	if limit <= 0 {
		limit = 50
	}
	excludeReacted := params.Bool("exclude_reacted", true)

	// Oversample so filtering still leaves enough to fill the limit.
	fetchLimit := limit * 3
	if fetchLimit > relevantFetchCap {
		fetchLimit = relevantFetchCap
	}

	msgs, err := client.GetMessages(ctx, channel, fetchLimit, params.Get("since_timestamp"))
	if err != nil {
		return nil, err
	}

	ident := s.identityFor(color)
	relevant := relevance.Relevant(msgs, ident, excludeReacted)
	if len(relevant) > limit {
		relevant = relevant[:limit]
	}

	return map[string]interface{}{
		"messages":         toMarkdown(relevant),
		"agent_identifier": id,
		"agent_color":      color,
		"total_filtered":   len(relevant),
		"searched_total":   len(msgs),
		"exclude_reacted":  excludeReacted,
		"bot_user_id":      ident.BotUserID,
	}, nil
}

func (s *Server) opAddReaction(ctx context.Context, params Params) (interface{}, error) {
	timestamp := params.Get("timestamp")
	emoji := params.Get("emoji")
	if timestamp == "" || emoji == "" {
		return nil, badRequest("Missing required parameters: channel, timestamp, emoji")
	}

	client, color, err := s.clientFor(identifier(params))
	if err != nil {
		return nil, err
	}
	channel, err := s.channelOr(params, color)
	if err != nil {
		return nil, err
	}

	if err := client.AddReaction(ctx, channel, timestamp, emoji); err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true, "channel": channel, "timestamp": timestamp, "emoji": emoji}, nil
}

func (s *Server) opGetChannels(ctx context.Context, params Params) (interface{}, error) {
	client, _, err := s.clientFor(identifier(params))
	if err != nil {
		return nil, err
	}
	channels, err := client.GetChannels(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"channels": channels}, nil
}

func (s *Server) opUploadFile(ctx context.Context, params Params) (interface{}, error) {
	if len(params.FileData) == 0 {
		return nil, badRequest("No file data provided")
	}
	filename := params.Get("filename")
	if filename == "" {
		return nil, badRequest("No filename provided")
	}

	client, color, err := s.clientFor(identifier(params))
	if err != nil {
		return nil, err
	}
	channel, err := s.channelOr(params, color)
	if err != nil {
		return nil, err
	}

	result, err := client.UploadFile(ctx, params.FileData, filename, params.Get("comment"), channel)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Server) opListFiles(ctx context.Context, params Params) (interface{}, error) {
	client, _, err := s.clientFor(identifier(params))
	if err != nil {
		return nil, err
	}
	files, err := client.ListFiles(ctx, params.Get("channel"), params.Int("limit", 100))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"files": files, "total": len(files)}, nil
}

func (s *Server) opDownloadFile(ctx context.Context, params Params) (interface{}, error) {
	fileID := params.Get("file_id")
	if fileID == "" {
		return nil, badRequest("file_id parameter is required")
	}
	client, _, err := s.clientFor(identifier(params))
	if err != nil {
		return nil, err
	}
	result, err := client.DownloadFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Server) opDeleteFile(ctx context.Context, params Params) (interface{}, error) {
	fileID := params.Get("file_id")
	if fileID == "" {
		return nil, badRequest("file_id parameter is required")
	}
	client, _, err := s.clientFor(identifier(params))
	if err != nil {
		return nil, err
	}
	if err := client.DeleteFile(ctx, fileID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted": true, "file_id": fileID}, nil
}

func (s *Server) opHealthCheck(ctx context.Context, params Params) (interface{}, error) {
	colors := make([]string, 0, len(s.cfg.Agents))
	names := map[string]string{}
	for color, agent := range s.cfg.Agents {
		colors = append(colors, color)
		names[color] = agent.Display()
	}
	sort.Strings(colors)

	return map[string]interface{}{
		"status":          "healthy",
		"version":         Version,
		"uptime_seconds":  int(time.Since(s.startedAt).Seconds()),
		"host":            s.host,
		"port":            s.port,
		"default_channel": s.cfg.Daemon.DefaultChannel,
		"agents":          colors,
		"agent_names":     names,
		"registered":      s.reg.List(),
	}, nil
}

func (s *Server) opRegisterAgent(ctx context.Context, params Params) (interface{}, error) {
	id := identifier(params)
	if id == "" {
		return nil, badRequest("agent_color or agent_name parameter is required")
	}
	port := params.Int("opencode_port", 0)
	if port <= 0 {
		return nil, badRequest("opencode_port parameter is required")
	}

	color, ok := s.cfg.ResolveColor(id)
	if !ok {
		return nil, &registry.UnknownAgentError{Color: id}
	}
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)

	if s.prober != nil {
		if err := s.prober.Probe(ctx, endpoint); err != nil {
			logger.WarnCF("gateway", "Callback endpoint not answering, registering anyway", map[string]interface{}{
				"color":    color,
				"endpoint": endpoint,
			})
		}
	}

	if err := s.reg.Register(color, endpoint); err != nil {
		return nil, err
	}
	agent, _ := s.reg.Get(color)
	return map[string]interface{}{
		"registered": color,
		"endpoint":   endpoint,
		"watermark":  agent.Watermark,
	}, nil
}

func (s *Server) opUnregisterAgent(ctx context.Context, params Params) (interface{}, error) {
	id := identifier(params)
	if id == "" {
		return nil, badRequest("agent_color or agent_name parameter is required")
	}
	color, ok := s.cfg.ResolveColor(id)
	if !ok {
		return nil, &registry.UnknownAgentError{Color: id}
	}
	removed := s.reg.Unregister(color)
	return map[string]interface{}{"unregistered": color, "was_registered": removed}, nil
}

func (s *Server) opListAgents(ctx context.Context, params Params) (interface{}, error) {
	return map[string]interface{}{"agents": s.reg.List()}, nil
}

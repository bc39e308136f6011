package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/colorcrew/slackbridge/pkg/config"
	"github.com/colorcrew/slackbridge/pkg/logger"
	"github.com/colorcrew/slackbridge/pkg/registry"
	"github.com/colorcrew/slackbridge/pkg/slackapi"
)

// ChatClient is the per-agent slice of the platform client the gateway
// forwards to.
type ChatClient interface {
	SendMessage(ctx context.Context, text, channel string) (slackapi.SendResult, error)
	GetMessages(ctx context.Context, channel string, limit int, sinceTS string) ([]slackapi.Message, error)
	AddReaction(ctx context.Context, channel, timestamp, emoji string) error
	GetChannels(ctx context.Context) ([]slackapi.ChannelInfo, error)
	UploadFile(ctx context.Context, data []byte, filename, comment, channel string) (slackapi.UploadResult, error)
	ListFiles(ctx context.Context, channel string, limit int) ([]slackapi.FileInfo, error)
	DownloadFile(ctx context.Context, fileID string) (slackapi.DownloadResult, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// HandlerFunc is one RPC-style operation behind the HTTP surface.
type HandlerFunc func(ctx context.Context, params Params) (interface{}, error)

// BadRequestError marks caller mistakes so they render as 400.
type BadRequestError struct {
	Msg string
}

func (e *BadRequestError) Error() string { return e.Msg }

func badRequest(format string, args ...interface{}) error {
	return &BadRequestError{Msg: fmt.Sprintf(format, args...)}
}

// Server is the HTTP gateway in front of the chat clients, the
// relevance filter and the agent registry. Routes parse transport
// details and dispatch into the handlers map; the map indirection
// keeps wiring mistakes visible as explicit 500s instead of panics.
type Server struct {
	cfg      *config.Config
	reg      *registry.Registry
	clients  map[string]ChatClient
	handlers map[string]HandlerFunc
	prober   Prober

	host      string
	port      int
	startedAt time.Time

	httpServer *http.Server
}

func NewServer(cfg *config.Config, reg *registry.Registry, clients map[string]ChatClient) *Server {
	s := &Server{
		cfg:       cfg,
		reg:       reg,
		clients:   clients,
		handlers:  map[string]HandlerFunc{},
		host:      cfg.Daemon.Host,
		startedAt: time.Now(),
	}
	s.registerHandlers()
	return s
}

// RegisterHandler binds an operation name to its implementation.
func (s *Server) RegisterHandler(name string, h HandlerFunc) {
	s.handlers[name] = h
}

// Start binds the listener and serves until Stop. The port comes from
// config when set, otherwise from directory-hash discovery.
func (s *Server) Start(projectPath string) error {
	port := s.cfg.Daemon.Port
	if port == 0 {
		discovered, err := DiscoverPort(projectPath, s.cfg.Daemon.PortFile)
		if err != nil {
			return err
		}
		port = discovered
	}
	s.port = port

	addr := net.JoinHostPort(s.host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.InfoCF("gateway", "HTTP server started", map[string]interface{}{
		"host": s.host,
		"port": port,
	})

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("gateway", "HTTP server failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	return nil
}

// Stop shuts the HTTP server down, letting in-flight requests finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	logger.InfoC("gateway", "HTTP server stopping")
	return s.httpServer.Shutdown(ctx)
}

// Port reports the bound port, 0 before Start.
func (s *Server) Port() int { return s.port }

// Router builds the chi route table. Exposed so tests can drive the
// full stack through httptest without binding a socket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/send_message", s.handleSendMessage)
	r.Get("/get_messages", s.handleGetMessages)
	r.Get("/get_relevant_messages", s.handleGetRelevantMessages)
	r.Post("/add_reaction", s.handleAddReaction)
	r.Get("/get_channels", s.handleGetChannels)

	r.Post("/upload_file", s.handleUploadFile)
	r.Get("/list_files", s.handleListFiles)
	r.Get("/download_file", s.handleDownloadFile)
	r.Post("/delete_file", s.handleDeleteFile)

	r.Get("/health", s.handleHealth)

	r.Post("/register_agent", s.handleRegisterAgent)
	r.Post("/unregister_agent", s.handleUnregisterAgent)
	r.Get("/list_agents", s.handleListAgents)

	return r
}

// dispatch runs the named handler and renders the response envelope.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, name string, params Params) {
	h, ok := s.handlers[name]
	if !ok {
		writeError(w, http.StatusInternalServerError, "Handler not registered")
		return
	}

	result, err := h(r.Context(), params)
	if err != nil {
		logger.WarnCF("gateway", "Operation failed", map[string]interface{}{
			"operation": name,
			"error":     err.Error(),
		})
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeSuccess(w, result)
}

func statusFor(err error) int {
	var badReq *BadRequestError
	var unknown *registry.UnknownAgentError
	var remote *slackapi.RemoteAPIError
	switch {
	case errors.As(err, &badReq), errors.As(err, &unknown):
		return http.StatusBadRequest
	case errors.As(err, &remote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeSuccess(w http.ResponseWriter, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

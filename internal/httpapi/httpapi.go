// Package httpapi serves the configuration dashboard and the REST/WS
// API. The dashboard is plain HTML forms so it works inside the Home
// Assistant ingress iframe without any frontend build step.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trymwestin/blinkbridge/internal/config"
	"github.com/trymwestin/blinkbridge/internal/core/state"
	"github.com/trymwestin/blinkbridge/internal/imagestore"
	"github.com/trymwestin/blinkbridge/internal/mqtt"
)

// Controller is the subset of bridge control the dashboard needs.
type Controller interface {
	Arm(ctx context.Context, armed bool) error
	Snapshot(ctx context.Context, name string) error
	SubmitPIN(ctx context.Context, pin string) error
	ApplyConfig(ctx context.Context, cfg config.Config) error
	Config() config.Config
}

// MQTTRestarter rebuilds the MQTT publisher after a config change.
type MQTTRestarter interface {
	Restart(ctx context.Context, cfg mqtt.Config) error
}

// Server is the HTTP API server.
type Server struct {
	ctrl    Controller
	store   state.Reader
	bus     *state.EventBus
	images  *imagestore.Store
	mqttSvc MQTTRestarter
	cfgPath string
	version string
	log     *slog.Logger
	mux     *http.ServeMux
}

// NewServer creates a new HTTP API server.
func NewServer(
	ctrl Controller,
	store state.Reader,
	bus *state.EventBus,
	images *imagestore.Store,
	mqttSvc MQTTRestarter,
	cfgPath string,
	version string,
	log *slog.Logger,
) *Server {
	s := &Server{
		ctrl:    ctrl,
		store:   store,
		bus:     bus,
		images:  images,
		mqttSvc: mqttSvc,
		cfgPath: cfgPath,
		version: version,
		log:     log,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleDashboard)

	s.mux.HandleFunc("POST /arm", s.handleArm)
	s.mux.HandleFunc("POST /snap/{name}", s.handleSnap)
	s.mux.HandleFunc("POST /verify_2fa", s.handleVerify2FA)
	s.mux.HandleFunc("POST /save_config", s.handleSaveConfig)

	s.mux.HandleFunc("GET /api/status", s.handleGetStatus)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /ws", s.handleWS)

	s.mux.Handle("GET /images/", http.StripPrefix("/images/", http.FileServer(http.Dir(s.images.Dir()))))
}

// ingressBase returns the path prefix Home Assistant ingress fronts us
// with, empty when accessed directly.
func ingressBase(r *http.Request) string {
	return strings.TrimSuffix(r.Header.Get("X-Ingress-Path"), "/")
}

// redirectHome sends the browser back to the dashboard. Every form post
// lands here so a reload never re-submits.
func (s *Server) redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, ingressBase(r)+"/", http.StatusSeeOther)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// --- Handlers ---

type cameraView struct {
	state.Camera
	Slug     string
	HasImage bool
}

type dashboardData struct {
	Base      string
	Lifecycle state.Lifecycle
	LastError string
	ShowPIN   bool
	Armed     bool
	UpdatedAt time.Time
	Cameras   []cameraView
	Config    config.Config
	Version   string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()

	data := dashboardData{
		Base:      ingressBase(r),
		Lifecycle: snap.Lifecycle,
		LastError: snap.LastError,
		ShowPIN:   snap.Lifecycle == state.LifecycleWaiting2FA,
		Armed:     snap.Status.Armed,
		UpdatedAt: snap.Status.UpdatedAt,
		Config:    s.ctrl.Config(),
		Version:   s.version,
	}
	for _, cam := range snap.Status.Cameras {
		slug := cam.Slug()
		data.Cameras = append(data.Cameras, cameraView{
			Camera:   cam,
			Slug:     slug,
			HasImage: s.images.Has(slug),
		})
	}

	var buf bytes.Buffer
	if err := dashboardTmpl.Execute(&buf, data); err != nil {
		s.log.Error("failed to render dashboard", "error", err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	var armed bool
	switch action := strings.ToLower(strings.TrimSpace(r.FormValue("action"))); action {
	case "arm", "arm_away":
		armed = true
	case "disarm":
		armed = false
	default:
		s.log.Warn("unknown arm action", "action", action)
		s.redirectHome(w, r)
		return
	}

	if err := s.ctrl.Arm(r.Context(), armed); err != nil {
		s.log.Error("failed to change arm state", "armed", armed, "error", err)
	}
	s.redirectHome(w, r)
}

func (s *Server) handleSnap(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.ctrl.Snapshot(r.Context(), name); err != nil {
		s.log.Error("failed to take snapshot", "camera", name, "error", err)
	}
	s.redirectHome(w, r)
}

func (s *Server) handleVerify2FA(w http.ResponseWriter, r *http.Request) {
	pin := strings.TrimSpace(r.FormValue("pin"))
	if pin == "" {
		s.redirectHome(w, r)
		return
	}

	if err := s.ctrl.SubmitPIN(r.Context(), pin); err != nil {
		s.log.Error("PIN verification failed", "error", err)
	}
	s.redirectHome(w, r)
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.ctrl.Config()
	cfg.MQTTBroker = strings.TrimSpace(r.FormValue("mqtt_broker"))
	cfg.MQTTPort = formInt(r, "mqtt_port", cfg.MQTTPort)
	cfg.MQTTUsername = r.FormValue("mqtt_username")
	cfg.MQTTPassword = r.FormValue("mqtt_password")
	cfg.PollInterval = formInt(r, "poll_interval", cfg.PollInterval)
	cfg.BlinkEmail = strings.TrimSpace(r.FormValue("blink_email"))
	cfg.BlinkPassword = r.FormValue("blink_password")

	if err := cfg.Validate(); err != nil {
		s.log.Warn("rejected config", "error", err)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := config.Save(s.cfgPath, cfg); err != nil {
		s.log.Error("failed to save config", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save config")
		return
	}

	if err := s.ctrl.ApplyConfig(r.Context(), cfg); err != nil {
		s.log.Error("failed to apply config", "error", err)
	}

	// The broker may be unreachable; reconnect in the background so the
	// form post returns promptly.
	mqttCfg := mqtt.Config{
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		SWVersion: s.version,
	}
	if cfg.MQTTConfigured() {
		mqttCfg.BrokerURL = cfg.BrokerURL()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.mqttSvc.Restart(ctx, mqttCfg); err != nil {
			s.log.Error("failed to restart MQTT publisher", "error", err)
		}
	}()

	s.log.Info("configuration saved", "path", s.cfgPath)
	s.redirectHome(w, r)
}

func formInt(r *http.Request, key string, fallback int) int {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

type statusResponse struct {
	Lifecycle state.Lifecycle `json:"lifecycle"`
	LastError string          `json:"last_error,omitempty"`
	Armed     bool            `json:"armed"`
	Cameras   []state.Camera  `json:"cameras"`
	UpdatedAt time.Time       `json:"updated_at"`
	Version   string          `json:"version"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	s.writeJSON(w, statusResponse{
		Lifecycle: snap.Lifecycle,
		LastError: snap.LastError,
		Armed:     snap.Status.Armed,
		Cameras:   snap.Status.Cameras,
		UpdatedAt: snap.Status.UpdatedAt,
		Version:   s.version,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

// --- WebSocket event stream ---

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served same-origin or through HA ingress, which
	// rewrites the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsEvent struct {
	Type     string          `json:"type"`
	Snapshot *state.Snapshot `json:"snapshot,omitempty"`
	Status   *state.Status   `json:"status,omitempty"`
}

// handleWS streams lifecycle and status events to the dashboard.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain incoming frames so close and ping control messages are
	// processed; the stream itself is one-way.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ch, unsub := s.bus.Subscribe(32)
	defer unsub()

	snap := s.store.Snapshot()
	if err := conn.WriteJSON(wsEvent{Type: "snapshot", Snapshot: &snap}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			msg := wsEvent{Type: string(evt.Type)}
			switch evt.Type {
			case state.EventLifecycle:
				snap := s.store.Snapshot()
				msg.Snapshot = &snap
			case state.EventStatus:
				if st, ok := evt.Data.(state.Status); ok {
					msg.Status = &st
				}
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

package controlplane

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/streamspace/browser-orchestrator/internal/artifact"
	"github.com/streamspace/browser-orchestrator/internal/eventbus"
	"github.com/streamspace/browser-orchestrator/internal/logging"
	"github.com/streamspace/browser-orchestrator/internal/model"
	"github.com/streamspace/browser-orchestrator/internal/secrets"
	"github.com/streamspace/browser-orchestrator/internal/session"
	"github.com/streamspace/browser-orchestrator/internal/step"
)

// upgrader matches the teacher's websocket_enterprise.go defaults; origin
// checking is left permissive here since the control plane sits behind
// whatever reverse proxy terminates real ingress.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SettingsView is the masked read/write shape for GET/PUT /settings
// (spec.md §6: "sensitive values are masked on read").
type SettingsView struct {
	LLMModel                     string `json:"llm_model"`
	DefaultBrowserChannel        string `json:"default_browser_channel"`
	MaxVisionEscalationsPerScript int   `json:"max_vision_escalations_per_script"`
	APIKeyConfigured             bool   `json:"api_key_configured"`
}

// SettingsStore is the narrow capability Server needs to read/update the
// live configuration surface exposed via /settings. The process entrypoint
// supplies a concrete implementation backed by config.Config plus whatever
// API-key field the deployment wires in.
type SettingsStore interface {
	Current() SettingsView
	Update(v SettingsView) error
	TestAPIKey(key string) error
}

// Server is the Control Plane: the REST surface plus the streaming
// WebSocket hub, routing every request to the Session Manager and Script
// Runner (spec.md §4.7).
type Server struct {
	sessions *session.Manager
	hub      *Hub
	secrets  *secrets.Store
	uploader *artifact.Uploader
	settings SettingsStore
	bus      *eventbus.Bus
	log      zerolog.Logger
}

// NewServer wires a Server. uploader and settings may be nil (health/
// settings endpoints degrade gracefully when absent).
func NewServer(sessions *session.Manager, hub *Hub, secretStore *secrets.Store, uploader *artifact.Uploader, settings SettingsStore) *Server {
	return &Server{
		sessions: sessions,
		hub:      hub,
		secrets:  secretStore,
		uploader: uploader,
		settings: settings,
		log:      logging.Component("controlplane"),
	}
}

// UseEventBus attaches an event bus so every emitted envelope also fans out
// to NATS for out-of-process observers (spec.md §9's degrade-gracefully
// event bus), in addition to the in-process WebSocket hub.
func (srv *Server) UseEventBus(bus *eventbus.Bus) {
	srv.bus = bus
}

// emit fans an event out to the in-process hub and, if configured, the
// event bus.
func (srv *Server) emit(sessionID, eventType string, data interface{}) {
	srv.hub.Emit(sessionID, eventType, data)
	if srv.bus != nil {
		srv.bus.Publish(eventType, sessionID, data)
	}
}

func (srv *Server) emitError(sessionID, message string) {
	srv.hub.EmitError(sessionID, message)
	if srv.bus != nil {
		srv.bus.Publish(EventError, sessionID, map[string]string{"error": message})
	}
}

// Router builds the gin engine with every REST and streaming route
// registered, grounded on the teacher's handler registration style
// (api/internal/handlers).
func (srv *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(rateLimitMiddleware(newIPRateLimiter(5, 10)))

	r.POST("/sessions", srv.handleCreateSession)
	r.DELETE("/sessions/:id", srv.handleCloseSession)
	r.GET("/sessions/:id/screenshot", srv.handleScreenshot)
	r.GET("/health", srv.handleHealth)
	r.GET("/settings", srv.handleGetSettings)
	r.PUT("/settings", srv.handlePutSettings)
	r.POST("/settings/test-api-key", srv.handleTestAPIKey)
	r.POST("/profiles/:name/export", srv.handleExportProfile)
	r.POST("/profiles/import", srv.handleImportProfile)
	r.GET("/ws", srv.handleStream)

	return r
}

type createSessionRequest struct {
	Headless       bool   `json:"headless"`
	ProfileName    string `json:"profile_name"`
	BrowserChannel string `json:"browser_channel"`
}

func (srv *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	opts := model.SessionOptions{
		Headless:       req.Headless,
		BrowserChannel: req.BrowserChannel,
	}
	if req.ProfileName != "" {
		opts.Requirements.ProfileName = req.ProfileName
	}
	sess, err := srv.sessions.Open(c.Request.Context(), opts)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sess.Snapshot())
}

func (srv *Server) handleCloseSession(c *gin.Context) {
	id := c.Param("id")
	if err := srv.sessions.Close(c.Request.Context(), id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (srv *Server) handleScreenshot(c *gin.Context) {
	id := c.Param("id")
	sess, ok := srv.sessions.Lookup(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	result := sess.Runner().RunOne(c.Request.Context(), model.Step{Kind: model.StepScreenshot}, nil, noopSink{})
	if result.Status == model.StepError {
		c.JSON(http.StatusBadGateway, gin.H{"error": result.ErrorMessage})
		return
	}
	var handle, destination string
	if len(result.Artifacts) > 0 {
		handle = result.Artifacts[0].Handle
		destination = result.Artifacts[0].DestinationURI
	}
	c.JSON(http.StatusOK, gin.H{
		"handle":          handle,
		"destination_uri": destination,
	})
}

func (srv *Server) handleHealth(c *gin.Context) {
	live := 0
	srv.sessions.ForEachLive(func(*session.Session) { live++ })
	backlog := 0
	if srv.uploader != nil {
		backlog = srv.uploader.Backlog()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"live_sessions":   live,
		"artifact_backlog": backlog,
		"timestamp":       time.Now(),
	})
}

func (srv *Server) handleGetSettings(c *gin.Context) {
	if srv.settings == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "settings surface not configured"})
		return
	}
	c.JSON(http.StatusOK, srv.settings.Current())
}

func (srv *Server) handlePutSettings(c *gin.Context) {
	if srv.settings == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "settings surface not configured"})
		return
	}
	var v SettingsView
	if err := c.ShouldBindJSON(&v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := srv.settings.Update(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, srv.settings.Current())
}

func (srv *Server) handleTestAPIKey(c *gin.Context) {
	if srv.settings == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "settings surface not configured"})
		return
	}
	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := srv.settings.TestAPIKey(body.APIKey); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// handleStream upgrades to the bidirectional streaming channel (spec.md
// §4.7), registers a Connection with the hub, and runs the read loop that
// dispatches each Inbound message.
func (srv *Server) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		srv.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.New().String()
	sessionID := c.Query("session_id")
	wsConn := NewConnection(connID, sessionID, conn)
	srv.hub.Register(wsConn)
	go wsConn.WritePump()

	defer func() {
		srv.hub.Unregister(wsConn)
		conn.Close()
	}()

	for {
		var in Inbound
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		if in.SessionID == "" {
			in.SessionID = sessionID
		}
		sess, _ := srv.sessions.Lookup(in.SessionID)
		srv.dispatch(c.Request.Context(), sess, in)
	}
}

type exportProfileRequest struct {
	Path string `json:"path"`
}

// handleExportProfile packages a profile's user-data directory into a
// downloadable archive (spec.md §4.1 export), used by operators moving a
// warmed-up profile between hosts.
func (srv *Server) handleExportProfile(c *gin.Context) {
	var req exportProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	uri, err := srv.sessions.Profiles().Export(c.Param("name"), req.Path)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"archive_uri": uri})
}

type importProfileRequest struct {
	ArchiveURI string `json:"archive_uri"`
	NewName    string `json:"new_name"`
}

// handleImportProfile restores a profile from an archive produced by
// handleExportProfile (spec.md §4.1 import).
func (srv *Server) handleImportProfile(c *gin.Context) {
	var req importProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := srv.sessions.Profiles().Import(req.ArchiveURI, req.NewName)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, p)
}

func statusFor(err error) int {
	var merr *model.Error
	if e, ok := err.(*model.Error); ok {
		merr = e
	}
	if merr == nil {
		return http.StatusInternalServerError
	}
	switch merr.Kind {
	case model.ErrNotFound, model.ErrNoSuitableProfile:
		return http.StatusNotFound
	case model.ErrProfileBusy, model.ErrAlreadyExists:
		return http.StatusConflict
	case model.ErrConfiguration, model.ErrSchemaValidation:
		return http.StatusBadRequest
	case model.ErrTimeout, model.ErrDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// noopSink discards step lifecycle events for one-shot REST-triggered steps
// that have no streaming observer attached.
type noopSink struct{}

func (noopSink) Emit(step.Event) {}

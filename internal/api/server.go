// Package api is the HTTP surface: account handling, uploads, meeting
// queries, bot launches, chat, and the bot-service webhook.
package api

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/echonote/echo-note/internal/auth"
	"github.com/echonote/echo-note/internal/chat"
	"github.com/echonote/echo-note/internal/config"
	"github.com/echonote/echo-note/internal/ingest"
	"github.com/echonote/echo-note/internal/observability"
	"github.com/echonote/echo-note/internal/reconcile"
	"github.com/echonote/echo-note/internal/store"
)

// Uploader runs the upload pipeline for one payload.
type Uploader interface {
	Process(ctx context.Context, userID, meetingName, filename string, payload io.Reader) (*ingest.UploadResult, error)
}

// BotLauncher sends a capture bot into a meeting.
type BotLauncher interface {
	Launch(ctx context.Context, meetingURL string) (string, error)
	Configured() bool
}

// ChatService answers a question grounded on a transcript.
type ChatService interface {
	Ask(ctx context.Context, transcriptText, question string, history []chat.Exchange) (string, error)
}

// WebhookSink consumes push notifications from the capture service.
type WebhookSink interface {
	HandlePush(ctx context.Context, event reconcile.PushEvent) error
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	auth     *auth.Manager
	uploader Uploader
	bot      BotLauncher
	chat     ChatService
	webhooks WebhookSink
	logger   zerolog.Logger
}

// NewServer wires the HTTP surface together.
func NewServer(cfg *config.Config, st *store.Store, authMgr *auth.Manager, uploader Uploader, bot BotLauncher, chatSvc ChatService, webhooks WebhookSink) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		auth:     authMgr,
		uploader: uploader,
		bot:      bot,
		chat:     chatSvc,
		webhooks: webhooks,
		logger:   observability.WithComponent("api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.requestLogger())

	r.GET("/health", gin.WrapF(observability.HealthCheckHandler()))
	r.GET("/ready", gin.WrapF(observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"database": func(ctx context.Context) (bool, error) {
			if err := s.store.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
	})))
	if s.cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	api.POST("/signup", s.handleSignup)
	api.POST("/login", s.handleLogin)
	api.POST("/webhooks/bot", s.handleBotWebhook)

	authed := api.Group("")
	authed.Use(s.requireAuth())
	authed.GET("/verify_token", s.handleVerifyToken)
	authed.POST("/upload_audio", s.handleUploadAudio)
	authed.GET("/user_meetings", s.handleUserMeetings)
	authed.GET("/meeting/:id", s.handleGetMeeting)
	authed.POST("/bots", s.handleLaunchBot)
	authed.POST("/chat", s.handleChat)

	return r
}

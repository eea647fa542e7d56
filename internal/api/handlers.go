package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/echonote/echo-note/internal/auth"
	"github.com/echonote/echo-note/internal/chat"
	"github.com/echonote/echo-note/internal/ingest"
	"github.com/echonote/echo-note/internal/meetingbot"
	"github.com/echonote/echo-note/internal/reconcile"
	"github.com/echonote/echo-note/internal/store"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password required"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || strings.TrimSpace(req.Password) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password cannot be empty"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	user := store.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			c.JSON(http.StatusConflict, gin.H{"error": "User already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "User created successfully"})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password required"})
		return
	}

	user, err := s.store.UserByUsername(c.Request.Context(), req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Username does not exist"})
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Wrong password"})
		return
	}

	token, err := s.auth.IssueToken(user.ID, user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"token":   token,
		"user": gin.H{
			"id":       user.ID,
			"username": user.Username,
		},
	})
}

func (s *Server) handleVerifyToken(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"valid": true,
		"user": gin.H{
			"id":       c.GetString(ctxUserID),
			"username": c.GetString(ctxUsername),
		},
	})
}

func (s *Server) handleUploadAudio(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()
	if header.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file selected"})
		return
	}

	meetingName := c.PostForm("meeting_name")
	result, err := s.uploader.Process(c.Request.Context(), c.GetString(ctxUserID), meetingName, header.Filename, file)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidFileType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type"})
			return
		}
		s.logger.Error().Err(err).Str("request_id", c.GetString("request_id")).Msg("Upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed"})
		return
	}

	if result.Duplicate {
		c.JSON(http.StatusOK, gin.H{
			"message":      "This audio file already exists. Showing existing transcript.",
			"meeting_id":   result.MeetingID,
			"meeting_name": result.MeetingName,
			"transcript":   result.Transcript,
			"is_duplicate": true,
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":      "Audio uploaded and transcribed successfully",
		"meeting_id":   result.MeetingID,
		"meeting_name": result.MeetingName,
		"filename":     result.Filename,
		"transcript":   result.Transcript,
		"speakers":     result.Speakers,
	})
}

func (s *Server) handleUserMeetings(c *gin.Context) {
	records, err := s.store.ListMeetings(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load meetings"})
		return
	}

	meetings := make([]gin.H, 0, len(records))
	for _, rec := range records {
		meetings = append(meetings, gin.H{
			"meeting_id":   rec.ID,
			"meeting_name": rec.MeetingName,
			"filename":     rec.Filename,
			"source":       rec.Source,
			"upload_date":  rec.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"meetings": meetings})
}

func (s *Server) handleGetMeeting(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString(ctxUserID)
	meetingID := c.Param("id")

	meeting, err := s.store.GetMeeting(ctx, userID, meetingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Meeting not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load meeting"})
		return
	}

	transcriptText := "No transcript available"
	var speakers []string
	tr, err := s.store.GetTranscript(ctx, userID, meetingID)
	if err == nil {
		transcriptText = tr.Transcript
		speakers = tr.Speakers
	} else if !errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load meeting"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"meeting_id":   meeting.ID,
		"meeting_name": meeting.MeetingName,
		"filename":     meeting.Filename,
		"source":       meeting.Source,
		"upload_date":  meeting.CreatedAt.Format(time.RFC3339),
		"transcript":   transcriptText,
		"speakers":     speakers,
	})
}

type launchBotRequest struct {
	MeetingURL  string `json:"meeting_url"`
	MeetingName string `json:"meeting_name"`
}

func (s *Server) handleLaunchBot(c *gin.Context) {
	var req launchBotRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.MeetingURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Meeting URL required"})
		return
	}
	if !s.bot.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Bot service not configured"})
		return
	}
	if req.MeetingName == "" {
		req.MeetingName = "Untitled Meeting"
	}

	ctx := c.Request.Context()
	jobID, err := s.bot.Launch(ctx, req.MeetingURL)
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", c.GetString("request_id")).Msg("Bot launch failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to launch bot"})
		return
	}

	job := store.BotJob{
		ID:          jobID,
		UserID:      c.GetString(ctxUserID),
		MeetingName: req.MeetingName,
		MeetingURL:  req.MeetingURL,
		State:       store.JobStateCreated,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to register bot job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register bot job"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"job_id":       jobID,
		"meeting_name": req.MeetingName,
		"state":        string(job.State),
	})
}

type chatRequest struct {
	MeetingID   string          `json:"meeting_id"`
	Transcript  string          `json:"transcript"`
	Question    string          `json:"question"`
	ChatHistory []chat.Exchange `json:"chat_history"`
}

// handleChat answers a question about a transcript. The transcript may be
// sent inline or referenced by meeting id.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No question provided"})
		return
	}
	if req.Question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No question provided"})
		return
	}

	ctx := c.Request.Context()
	transcriptText := req.Transcript
	if transcriptText == "" && req.MeetingID != "" {
		tr, err := s.store.GetTranscript(ctx, c.GetString(ctxUserID), req.MeetingID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Meeting not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load transcript"})
			return
		}
		transcriptText = tr.Transcript
	}
	if transcriptText == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No transcript provided"})
		return
	}

	answer, err := s.chat.Ask(ctx, transcriptText, req.Question, req.ChatHistory)
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", c.GetString("request_id")).Msg("Chat request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Chat model unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

// botWebhookRequest tolerates both flat and nested payload shapes from the
// capture service. Unknown fields are ignored.
type botWebhookRequest struct {
	Event string `json:"event"`
	BotID string `json:"bot_id"`
	Data  struct {
		BotID  string `json:"bot_id"`
		Status struct {
			Code string `json:"code"`
		} `json:"status"`
	} `json:"data"`
}

// handleBotWebhook acknowledges every delivery with 200: the capture service
// treats anything else as a failed delivery and retries, and the poll loop
// covers any event that cannot be applied now.
func (s *Server) handleBotWebhook(c *gin.Context) {
	var req botWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Warn().Err(err).Msg("Undecodable bot webhook ignored")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	jobID := req.BotID
	if jobID == "" {
		jobID = req.Data.BotID
	}
	if jobID == "" {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	event := reconcile.PushEvent{JobID: jobID, Status: webhookStatus(req)}
	if err := s.webhooks.HandlePush(c.Request.Context(), event); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Webhook apply failed, poll loop will retry")
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func webhookStatus(req botWebhookRequest) meetingbot.Status {
	code := req.Event
	if req.Data.Status.Code != "" {
		code = req.Data.Status.Code
	}
	switch strings.ToLower(code) {
	case "complete", "completed", "done", "call_ended", "ended":
		return meetingbot.StatusDone
	case "failed", "fatal", "error":
		return meetingbot.StatusFailed
	case "in_call_recording", "in_call", "joined":
		return meetingbot.StatusInCall
	default:
		return meetingbot.StatusJoining
	}
}

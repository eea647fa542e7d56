// Package reconcile drives bot capture jobs to completion. Two independent
// signals feed it: push webhooks from the capture service and a periodic
// poll over the pending job registry. Either path may observe completion
// first; the store's fetched claim keeps transcript persistence exactly-once.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/echonote/echo-note/internal/config"
	"github.com/echonote/echo-note/internal/meetingbot"
	"github.com/echonote/echo-note/internal/observability"
	"github.com/echonote/echo-note/internal/store"
	"github.com/echonote/echo-note/internal/transcript"
)

// BotService is the slice of the capture-service client the engine needs.
type BotService interface {
	Status(ctx context.Context, jobID string) (meetingbot.Status, error)
	FetchTranscript(ctx context.Context, jobID string) ([]transcript.LabeledSegment, error)
}

// PushEvent is one webhook notification from the capture service. Fields
// beyond these are ignored on decode.
type PushEvent struct {
	JobID  string
	Status meetingbot.Status
}

// Engine reconciles the bot job registry against the capture service.
type Engine struct {
	store        *store.Store
	bot          BotService
	pollInterval time.Duration
	logger       zerolog.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(cfg *config.Config, st *store.Store, bot BotService) *Engine {
	return &Engine{
		store:        st,
		bot:          bot,
		pollInterval: time.Duration(cfg.PollInterval) * time.Second,
		logger:       observability.WithComponent("reconcile"),
	}
}

// Run polls pending jobs until the context is cancelled. Ticks never
// overlap: a slow pass simply delays the next one. Tick failures are
// logged and retried on the following tick, never fatal.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	e.logger.Info().Dur("interval", e.pollInterval).Msg("Reconcile loop started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Reconcile loop stopped")
			return
		case <-ticker.C:
			if err := e.PollOnce(ctx); err != nil {
				e.logger.Warn().Err(err).Msg("Poll tick failed")
			}
		}
	}
}

// PollOnce runs one reconciliation pass over all pending jobs. Per-job
// failures are logged and skipped so one bad job never starves the rest.
func (e *Engine) PollOnce(ctx context.Context) error {
	jobs, err := e.store.ListPendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	observability.RecordPollTick(len(jobs))

	for _, job := range jobs {
		if err := e.reconcileJob(ctx, job); err != nil {
			e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Job reconciliation failed, will retry next tick")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (e *Engine) reconcileJob(ctx context.Context, job store.BotJob) error {
	status, err := e.bot.Status(ctx, job.ID)
	if err != nil {
		observability.RecordReconcileAttempt("poll", "status_error")
		return fmt.Errorf("query status: %w", err)
	}
	return e.applyStatus(ctx, job, status, "poll", store.ProvenancePoll)
}

// HandlePush processes one webhook notification. A job id not present in
// the registry is acknowledged without any store mutation; the capture
// service retries deliveries and may reference bots launched elsewhere.
func (e *Engine) HandlePush(ctx context.Context, event PushEvent) error {
	job, err := e.store.GetJob(ctx, event.JobID)
	if err != nil {
		return fmt.Errorf("look up job: %w", err)
	}
	if job == nil {
		observability.RecordReconcileAttempt("webhook", "unknown_job")
		e.logger.Info().Str("job_id", event.JobID).Msg("Webhook for unknown job ignored")
		return nil
	}
	return e.applyStatus(ctx, *job, event.Status, "webhook", store.ProvenanceWebhook)
}

func (e *Engine) applyStatus(ctx context.Context, job store.BotJob, status meetingbot.Status, trigger, provenance string) error {
	switch status {
	case meetingbot.StatusDone:
		return e.fetchAndPersist(ctx, job, trigger, provenance)
	case meetingbot.StatusFailed:
		if err := e.store.UpdateJobState(ctx, job.ID, store.JobStateFailed); err != nil {
			return err
		}
		observability.RecordReconcileAttempt(trigger, "failed")
		e.logger.Info().Str("job_id", job.ID).Msg("Bot job failed")
		return nil
	case meetingbot.StatusInCall:
		if job.State != store.JobStateRunning {
			if err := e.store.UpdateJobState(ctx, job.ID, store.JobStateRunning); err != nil {
				return err
			}
		}
		observability.RecordReconcileAttempt(trigger, "in_call")
		return nil
	default:
		observability.RecordReconcileAttempt(trigger, "waiting")
		return nil
	}
}

// fetchAndPersist pulls the finished transcript and persists it under the
// store's fetched claim. Losing the claim to a concurrent path is success.
// A transcript not ready yet leaves the job pending for the next signal.
func (e *Engine) fetchAndPersist(ctx context.Context, job store.BotJob, trigger, provenance string) error {
	if job.State != store.JobStateDone {
		if err := e.store.UpdateJobState(ctx, job.ID, store.JobStateDone); err != nil {
			return err
		}
	}

	segments, err := e.bot.FetchTranscript(ctx, job.ID)
	if err != nil {
		if errors.Is(err, meetingbot.ErrNoTranscript) {
			observability.RecordReconcileAttempt(trigger, "transcript_pending")
			e.logger.Debug().Str("job_id", job.ID).Msg("Job done, transcript not ready yet")
			return nil
		}
		observability.RecordReconcileAttempt(trigger, "fetch_error")
		return fmt.Errorf("fetch transcript: %w", err)
	}

	text, speakers := transcript.FormatLabeled(segments)
	now := time.Now().UTC()
	meetingID := uuid.New().String()

	rec := store.AudioRecord{
		ID:          meetingID,
		UserID:      job.UserID,
		MeetingName: job.MeetingName,
		Filename:    fmt.Sprintf("meetingbaas_%s.txt", job.ID),
		Source:      store.SourceBotCapture,
		JobID:       job.ID,
		CreatedAt:   now,
	}
	tr := store.TranscriptRecord{
		UserID:     job.UserID,
		MeetingID:  meetingID,
		Transcript: text,
		Speakers:   speakers,
		Provenance: provenance,
		CreatedAt:  now,
	}

	if err := e.store.SaveJobResult(ctx, job.ID, rec, tr); err != nil {
		if errors.Is(err, store.ErrAlreadyFetched) {
			observability.RecordReconcileAttempt(trigger, "already_fetched")
			return nil
		}
		observability.RecordReconcileAttempt(trigger, "persist_error")
		return fmt.Errorf("persist job result: %w", err)
	}

	observability.RecordReconcileAttempt(trigger, "persisted")
	e.logger.Info().
		Str("job_id", job.ID).
		Str("meeting_id", meetingID).
		Str("provenance", provenance).
		Int("speakers", len(speakers)).
		Msg("Bot transcript persisted")
	return nil
}

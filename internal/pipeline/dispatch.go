package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailmaestro/internal/calendar"
	"mailmaestro/internal/classify"
	"mailmaestro/internal/config"
	"mailmaestro/internal/logger"
	"mailmaestro/internal/mail"
	"mailmaestro/internal/notes"
	"mailmaestro/internal/schedule"
	"mailmaestro/pkg/metrics"
)

// Dispatcher executes the side effects for a processed message: drafts for
// recruiters, calendar invites and a deferred notes insert for concerts, a
// label for transactional mail.
type Dispatcher struct {
	mailer    mail.Client
	scheduler *schedule.Scheduler
	notes     notes.Store
	cfg       config.PipelineConfig
	notesCfg  config.NotesConfig
	logger    logger.Logger
}

func NewDispatcher(mailer mail.Client, scheduler *schedule.Scheduler, store notes.Store, cfg config.PipelineConfig, notesCfg config.NotesConfig, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		mailer:    mailer,
		scheduler: scheduler,
		notes:     store,
		cfg:       cfg,
		notesCfg:  notesCfg,
		logger:    log,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, pctx *Context) error {
	switch pctx.Category {
	case classify.CategoryRecruiter:
		return d.dispatchRecruiter(ctx, pctx)
	case classify.CategoryConcert:
		return d.dispatchConcert(ctx, pctx)
	case classify.CategoryTransactional:
		return d.dispatchTransactional(ctx, pctx)
	default:
		return nil
	}
}

func (d *Dispatcher) dispatchRecruiter(ctx context.Context, pctx *Context) error {
	info := pctx.Recruiter
	if info == nil {
		return fmt.Errorf("recruiter dispatch without extracted info")
	}
	if info.Summary == "" {
		// Composition failed earlier; a draft with no body helps nobody.
		d.logger.WarnwCtx(ctx, "skipping draft, no composed reply")
		d.recordAction(pctx.Category, "draft", "skipped")
		return nil
	}

	draft := mail.Draft{
		To:        d.cfg.Recruiter.NotifyAddress,
		Subject:   fmt.Sprintf("Recruiter: %s", info.Company),
		Body:      info.Summary,
		InReplyTo: pctx.Message.ThreadID,
	}
	if err := d.mailer.CreateDraft(ctx, draft); err != nil {
		d.recordAction(pctx.Category, "draft", "error")
		return fmt.Errorf("create recruiter draft: %w", err)
	}
	d.recordAction(pctx.Category, "draft", "ok")
	return nil
}

func (d *Dispatcher) dispatchConcert(ctx context.Context, pctx *Context) error {
	details := pctx.Concert
	if details == nil {
		details = &ConcertDetails{}
		pctx.Concert = details
	}

	start, parseErr := calendar.ParseEventTime(details.DateTime, pctx.Now)
	if parseErr != nil {
		// No usable date means no invite, but the notes insert still runs.
		d.logger.WarnwCtx(ctx, "concert date unusable, skipping invite", "date", details.DateTime, "error", parseErr)
		d.recordAction(pctx.Category, "invite", "skipped")
	} else if err := d.sendInvite(ctx, details, start); err != nil {
		d.recordAction(pctx.Category, "invite", "error")
		return err
	} else {
		d.recordAction(pctx.Category, "invite", "ok")
	}

	d.scheduleNotesInsert(ctx, pctx, start, parseErr == nil)
	return nil
}

func (d *Dispatcher) sendInvite(ctx context.Context, details *ConcertDetails, start time.Time) error {
	summary := details.EventName
	if summary == "" {
		summary = "Concert"
	}
	invite, err := calendar.BuildInvite(summary, details.VenueAddress, start)
	if err != nil {
		return fmt.Errorf("build invite: %w", err)
	}

	body := details.Summary
	if body == "" {
		body = fmt.Sprintf("Calendar invite for %s.", summary)
	}

	msg := mail.OutgoingMessage{
		To:      d.cfg.Concert.InviteRecipient,
		Subject: fmt.Sprintf("Concert: %s", summary),
		Body:    body,
		Attachments: []mail.Attachment{
			{Filename: invite.Filename, ContentType: invite.ContentType, Content: invite.Content},
		},
	}
	if err := d.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send invite: %w", err)
	}
	return nil
}

func (d *Dispatcher) scheduleNotesInsert(ctx context.Context, pctx *Context, start time.Time, dateKnown bool) {
	details := pctx.Concert
	record := notes.ConcertRecord{
		EventName:       details.EventName,
		EventDate:       start,
		DateKnown:       dateKnown,
		VenueAddress:    details.VenueAddress,
		PresaleInfo:     details.PresaleInfo,
		TicketLink:      details.TicketLink,
		AdditionalNotes: details.AdditionalNotes,
		Summary:         details.Summary,
	}

	jobID := "notes:" + pctx.Message.ID
	runAt := time.Now().Add(time.Duration(d.cfg.Concert.NotesDeferSeconds) * time.Second)
	collectionID := d.notesCfg.CollectionID
	log := d.logger

	err := d.scheduler.Schedule(jobID, runAt, func() {
		insertCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.notes.Insert(insertCtx, collectionID, record); err != nil {
			log.Errorw("deferred notes insert failed", "job_id", jobID, "error", err)
			metrics.DispatchActionsTotal.WithLabelValues(classify.CategoryConcert, "notes_insert", "error").Inc()
			return
		}
		metrics.DispatchActionsTotal.WithLabelValues(classify.CategoryConcert, "notes_insert", "ok").Inc()
	})
	if err != nil {
		if errors.Is(err, schedule.ErrDuplicateJob) {
			d.logger.InfowCtx(ctx, "notes insert already scheduled", "job_id", jobID)
			return
		}
		d.logger.ErrorwCtx(ctx, "scheduling notes insert failed", "job_id", jobID, "error", err)
	}
}

func (d *Dispatcher) dispatchTransactional(ctx context.Context, pctx *Context) error {
	if err := d.mailer.AddLabel(ctx, pctx.Message.ID, d.cfg.Transactional.Label); err != nil {
		d.recordAction(pctx.Category, "label", "error")
		return fmt.Errorf("label transactional message: %w", err)
	}
	d.recordAction(pctx.Category, "label", "ok")
	return nil
}

func (d *Dispatcher) recordAction(category, action, status string) {
	metrics.DispatchActionsTotal.WithLabelValues(category, action, status).Inc()
}

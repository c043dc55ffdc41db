package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mailmaestro/internal/classify"
	"mailmaestro/internal/dedup"
	"mailmaestro/internal/logger"
	"mailmaestro/internal/mail"
	"mailmaestro/internal/normalize"
	"mailmaestro/internal/pipeline"
	"mailmaestro/pkg/logging"
	"mailmaestro/pkg/metrics"
)

// Classifier assigns a category to a normalized message.
type Classifier interface {
	Classify(ctx context.Context, msg mail.Message, body, language string) (string, error)
}

// Processor runs a classified message through the stages.
type Processor interface {
	Process(ctx context.Context, pctx *pipeline.Context) error
}

// LanguageDetector names the language of a text.
type LanguageDetector interface {
	Detect(text string) string
}

// ImageReader turns a message's image parts into text.
type ImageReader interface {
	Text(ctx context.Context, images []mail.Attachment) string
}

// Summary is the outcome of one triage run.
type Summary struct {
	Fetched    int
	Processed  int
	Duplicates int
	Unmatched  int
	Failed     int
}

// Orchestrator drives one triage run end to end: fetch unread mail, skip
// what was already handled, classify the rest and push each message through
// the pipeline. One bad message never stops the batch.
type Orchestrator struct {
	mailer     mail.Client
	detector   LanguageDetector
	classifier Classifier
	guard      *dedup.Guard
	processor  Processor
	images     ImageReader

	maxConcurrency int
	markRead       bool
	language       string
	env            string
	logger         logger.Logger
}

type Options struct {
	MaxConcurrency int
	// MarkRead controls whether fully processed messages get the seen flag.
	MarkRead bool
	// Language forces the prompt language. Empty means detect per message.
	Language string
	// Env tags every message context with the deployment environment.
	Env string
	// Images, when set, supplements message bodies with OCR text from
	// inline and attached images before classification.
	Images ImageReader
}

func New(mailer mail.Client, detector LanguageDetector, classifier Classifier, guard *dedup.Guard, processor Processor, opts Options, log logger.Logger) *Orchestrator {
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Orchestrator{
		mailer:         mailer,
		detector:       detector,
		classifier:     classifier,
		guard:          guard,
		processor:      processor,
		images:         opts.Images,
		maxConcurrency: maxConcurrency,
		markRead:       opts.MarkRead,
		language:       opts.Language,
		env:            opts.Env,
		logger:         log,
	}
}

// Run executes one full triage pass. The returned error is reserved for
// failures that prevent the run itself (fetching mail); per-message failures
// are counted in the summary and logged.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx = logging.WithTraceID(ctx, runID)

	messages, err := o.mailer.FetchUnread(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch unread: %w", err)
	}

	summary := Summary{Fetched: len(messages)}
	if len(messages) == 0 {
		o.logger.InfowCtx(ctx, "no unread messages")
		return summary, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxConcurrency)

	for _, msg := range messages {
		msg := msg
		g.Go(func() error {
			status := o.handleMessage(gctx, msg)
			mu.Lock()
			switch status {
			case statusProcessed:
				summary.Processed++
			case statusDuplicate:
				summary.Duplicates++
			case statusUnmatched:
				summary.Unmatched++
			case statusFailed:
				summary.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	// Workers swallow their own errors, Wait only reaps them.
	_ = g.Wait()

	o.logger.InfowCtx(ctx, "triage run finished",
		"fetched", summary.Fetched,
		"processed", summary.Processed,
		"duplicates", summary.Duplicates,
		"unmatched", summary.Unmatched,
		"failed", summary.Failed,
		"duration", time.Since(start),
	)
	return summary, nil
}

type messageStatus int

const (
	statusProcessed messageStatus = iota
	statusDuplicate
	statusUnmatched
	statusFailed
)

func (o *Orchestrator) handleMessage(ctx context.Context, msg mail.Message) messageStatus {
	ctx = logging.WithMessageID(ctx, msg.ID)

	rawBody := msg.Body
	if o.images != nil && len(msg.InlineImages) > 0 {
		if text := o.images.Text(ctx, msg.InlineImages); text != "" {
			rawBody += "\n\n[Image OCR Text]\n" + text
		}
	}
	body := normalize.Normalize(rawBody)

	language := o.language
	if language == "" {
		language = o.detector.Detect(body)
	}

	fingerprint := o.guard.Fingerprint(msg.ID, msg.ThreadID)
	seen, err := o.guard.Seen(ctx, fingerprint)
	if err != nil {
		o.logger.ErrorwCtx(ctx, "duplicate check failed", "error", err)
		metrics.MessagesProcessedTotal.WithLabelValues("failed").Inc()
		return statusFailed
	}
	if seen {
		metrics.MessagesProcessedTotal.WithLabelValues("duplicate").Inc()
		return statusDuplicate
	}

	category, err := o.classifier.Classify(ctx, msg, body, language)
	if err != nil {
		o.logger.ErrorwCtx(ctx, "classification failed", "error", err)
		metrics.MessagesProcessedTotal.WithLabelValues("failed").Inc()
		return statusFailed
	}
	ctx = logging.WithCategory(ctx, category)

	if category == classify.CategoryOther {
		// Unmatched mail stays untouched and unrecorded so a future run
		// with better rules can pick it up again.
		o.logger.InfowCtx(ctx, "message matched no category")
		metrics.MessagesProcessedTotal.WithLabelValues("unmatched").Inc()
		return statusUnmatched
	}

	pctx := &pipeline.Context{
		Message:  msg,
		Category: category,
		Body:     body,
		Language: language,
		Env:      o.env,
		Now:      time.Now(),
	}
	if err := o.processor.Process(ctx, pctx); err != nil {
		o.logger.ErrorwCtx(ctx, "pipeline failed", "error", err)
		metrics.MessagesProcessedTotal.WithLabelValues("failed").Inc()
		return statusFailed
	}

	if err := o.guard.Mark(ctx, fingerprint); err != nil {
		// The side effects already happened. Log loudly but count the
		// message as processed.
		o.logger.ErrorwCtx(ctx, "recording fingerprint failed", "error", err)
	}
	if o.markRead {
		if err := o.mailer.MarkAsRead(ctx, msg.ID); err != nil {
			o.logger.WarnwCtx(ctx, "marking message read failed", "error", err)
		}
	}

	metrics.MessagesProcessedTotal.WithLabelValues("processed").Inc()
	return statusProcessed
}

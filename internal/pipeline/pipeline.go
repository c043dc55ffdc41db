package pipeline

import (
	"context"
	"time"

	"mailmaestro/internal/logger"
	"mailmaestro/pkg/metrics"
)

// Pipeline runs a classified message through extract, validate, compose and
// dispatch, strictly in that order. A hard failure in any stage stops the
// message; later stages never see partial state from a failed one.
type Pipeline struct {
	extractor  *Extractor
	validator  *Validator
	composer   *Composer
	dispatcher *Dispatcher
	logger     logger.Logger
}

func New(extractor *Extractor, validator *Validator, composer *Composer, dispatcher *Dispatcher, log logger.Logger) *Pipeline {
	return &Pipeline{
		extractor:  extractor,
		validator:  validator,
		composer:   composer,
		dispatcher: dispatcher,
		logger:     log,
	}
}

func (p *Pipeline) Process(ctx context.Context, pctx *Context) error {
	if err := p.timedStage(ctx, pctx, "extract", p.extractor.Extract); err != nil {
		return err
	}

	p.timed(pctx, "validate", func() {
		p.validator.Validate(ctx, pctx)
	})

	p.timed(pctx, "compose", func() {
		p.composer.Compose(ctx, pctx)
	})

	if err := p.timedStage(ctx, pctx, "dispatch", p.dispatcher.Dispatch); err != nil {
		return err
	}

	p.logger.DebugwCtx(ctx, "message processed",
		"category", pctx.Category,
		"language", pctx.Language,
		"env", pctx.Env,
	)
	return nil
}

func (p *Pipeline) timedStage(ctx context.Context, pctx *Context, stage string, fn func(context.Context, *Context) error) error {
	start := time.Now()
	err := fn(ctx, pctx)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ObserveStage(stage, pctx.Category, status, time.Since(start))
	if err != nil {
		p.logger.ErrorwCtx(ctx, "stage failed", "stage", stage, "error", err)
	}
	return err
}

func (p *Pipeline) timed(pctx *Context, stage string, fn func()) {
	start := time.Now()
	fn()
	metrics.ObserveStage(stage, pctx.Category, "ok", time.Since(start))
}

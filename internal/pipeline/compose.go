package pipeline

import (
	"context"

	"mailmaestro/internal/classify"
	"mailmaestro/internal/llm"
	"mailmaestro/internal/logger"
	"mailmaestro/internal/prompt"
)

// Composer drafts the outgoing text for a message. Composition failures are
// soft; the summary simply stays empty and the dispatcher decides what to do
// without it.
type Composer struct {
	completer llm.Completer
	prompts   *prompt.Registry
	logger    logger.Logger
}

func NewComposer(completer llm.Completer, prompts *prompt.Registry, log logger.Logger) *Composer {
	return &Composer{completer: completer, prompts: prompts, logger: log}
}

func (c *Composer) Compose(ctx context.Context, pctx *Context) {
	switch pctx.Category {
	case classify.CategoryRecruiter:
		c.composeRecruiter(ctx, pctx)
	case classify.CategoryConcert:
		c.composeConcert(ctx, pctx)
	}
}

func (c *Composer) composeRecruiter(ctx context.Context, pctx *Context) {
	if pctx.Recruiter == nil {
		return
	}
	rendered, err := c.prompts.Render(pctx.Language, "compose_recruiter", map[string]interface{}{
		"Name":    pctx.Recruiter.Name,
		"Company": pctx.Recruiter.Company,
		"Role":    pctx.Recruiter.Role,
		"Subject": pctx.Message.Subject,
	})
	if err != nil {
		c.logger.WarnwCtx(ctx, "compose template failed", "error", err)
		return
	}

	answer, err := c.completer.Complete(ctx, rendered)
	if err != nil {
		c.logger.WarnwCtx(ctx, "recruiter reply composition failed", "error", err)
		return
	}
	pctx.Recruiter.Summary = answer
}

func (c *Composer) composeConcert(ctx context.Context, pctx *Context) {
	if pctx.Concert == nil {
		return
	}
	rendered, err := c.prompts.Render(pctx.Language, "compose_concert", map[string]interface{}{
		"EventName":       pctx.Concert.EventName,
		"DateTime":        pctx.Concert.DateTime,
		"VenueAddress":    pctx.Concert.VenueAddress,
		"PresaleInfo":     pctx.Concert.PresaleInfo,
		"TicketLink":      pctx.Concert.TicketLink,
		"AdditionalNotes": pctx.Concert.AdditionalNotes,
	})
	if err != nil {
		c.logger.WarnwCtx(ctx, "compose template failed", "error", err)
		return
	}

	answer, err := c.completer.Complete(ctx, rendered)
	if err != nil {
		c.logger.WarnwCtx(ctx, "concert summary composition failed", "error", err)
		return
	}
	pctx.Concert.Summary = answer
}

package pipeline

import (
	"context"

	"mailmaestro/internal/classify"
	"mailmaestro/internal/logger"
)

// Validator inspects extracted fields and performs at most one re-extraction
// to backfill whatever is missing. It never fails a message: fields still
// empty after the single retry stay empty.
type Validator struct {
	extractor *Extractor
	logger    logger.Logger
}

func NewValidator(extractor *Extractor, log logger.Logger) *Validator {
	return &Validator{extractor: extractor, logger: log}
}

func (v *Validator) Validate(ctx context.Context, pctx *Context) {
	switch pctx.Category {
	case classify.CategoryRecruiter:
		v.validateRecruiter(ctx, pctx)
	case classify.CategoryConcert:
		v.validateConcert(ctx, pctx)
	}
}

func (v *Validator) validateRecruiter(ctx context.Context, pctx *Context) {
	if pctx.Recruiter == nil {
		pctx.Recruiter = &RecruiterInfo{}
	}
	missing := missingRecruiterFields(pctx.Recruiter)
	if len(missing) == 0 {
		return
	}

	v.logger.InfowCtx(ctx, "re-extracting to backfill missing fields", "fields", missing)
	fresh, err := v.extractor.extractRecruiter(ctx, pctx)
	if err != nil {
		v.logger.WarnwCtx(ctx, "backfill extraction failed", "error", err)
		return
	}

	// Only fill gaps. Fields the first pass produced are kept as-is.
	if pctx.Recruiter.Name == "" {
		pctx.Recruiter.Name = fresh.Name
	}
	if pctx.Recruiter.Company == "" {
		pctx.Recruiter.Company = fresh.Company
	}
	if pctx.Recruiter.Role == "" {
		pctx.Recruiter.Role = fresh.Role
	}
}

func (v *Validator) validateConcert(ctx context.Context, pctx *Context) {
	if pctx.Concert == nil {
		pctx.Concert = &ConcertDetails{}
	}
	missing := missingConcertFields(pctx.Concert)
	if len(missing) == 0 {
		return
	}

	v.logger.InfowCtx(ctx, "re-extracting to backfill missing fields", "fields", missing)
	fresh, err := v.extractor.extractConcert(ctx, pctx)
	if err != nil {
		v.logger.WarnwCtx(ctx, "backfill extraction failed", "error", err)
		return
	}

	c := pctx.Concert
	if c.EventName == "" {
		c.EventName = fresh.EventName
	}
	if c.DateTime == "" {
		c.DateTime = fresh.DateTime
	}
	if c.VenueAddress == "" {
		c.VenueAddress = fresh.VenueAddress
	}
	if c.PresaleInfo == "" {
		c.PresaleInfo = fresh.PresaleInfo
	}
	if c.TicketLink == "" {
		c.TicketLink = fresh.TicketLink
	}
	if c.AdditionalNotes == "" {
		c.AdditionalNotes = fresh.AdditionalNotes
	}
}

func missingRecruiterFields(info *RecruiterInfo) []string {
	var missing []string
	if info.Name == "" {
		missing = append(missing, "name")
	}
	if info.Company == "" {
		missing = append(missing, "company")
	}
	if info.Role == "" {
		missing = append(missing, "role")
	}
	return missing
}

func missingConcertFields(c *ConcertDetails) []string {
	var missing []string
	if c.EventName == "" {
		missing = append(missing, "event_name")
	}
	if c.DateTime == "" {
		missing = append(missing, "date_time")
	}
	if c.VenueAddress == "" {
		missing = append(missing, "venue_address")
	}
	if c.PresaleInfo == "" {
		missing = append(missing, "presale_info")
	}
	if c.TicketLink == "" {
		missing = append(missing, "ticket_link")
	}
	if c.AdditionalNotes == "" {
		missing = append(missing, "additional_notes")
	}
	return missing
}

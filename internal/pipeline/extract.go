package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"mailmaestro/internal/classify"
	"mailmaestro/internal/llm"
	"mailmaestro/internal/logger"
	"mailmaestro/internal/prompt"
	apperrors "mailmaestro/pkg/errors"
)

// Extractor turns email text into structured fields via the language model.
// Recruiter extraction failures are hard and abort the message; concert
// extraction failures are soft and leave the details empty for the validator
// to repair.
type Extractor struct {
	completer llm.Completer
	prompts   *prompt.Registry
	logger    logger.Logger
}

func NewExtractor(completer llm.Completer, prompts *prompt.Registry, log logger.Logger) *Extractor {
	return &Extractor{completer: completer, prompts: prompts, logger: log}
}

func (e *Extractor) Extract(ctx context.Context, pctx *Context) error {
	switch pctx.Category {
	case classify.CategoryRecruiter:
		info, err := e.extractRecruiter(ctx, pctx)
		if err != nil {
			return err
		}
		pctx.Recruiter = info
		return nil
	case classify.CategoryConcert:
		details, err := e.extractConcert(ctx, pctx)
		if err != nil {
			if apperrors.IsSoft(err) {
				e.logger.WarnwCtx(ctx, "concert extraction failed, continuing with empty details", "error", err)
				pctx.Concert = &ConcertDetails{}
				return nil
			}
			return err
		}
		pctx.Concert = details
		return nil
	default:
		return nil
	}
}

func (e *Extractor) extractRecruiter(ctx context.Context, pctx *Context) (*RecruiterInfo, error) {
	rendered, err := e.prompts.Render(pctx.Language, "extract_recruiter", map[string]interface{}{
		"Body": pctx.Body,
	})
	if err != nil {
		return nil, err
	}

	answer, err := e.completer.Complete(ctx, rendered)
	if err != nil {
		return nil, fmt.Errorf("recruiter extraction failed: %w", err)
	}

	return parseRecruiterAnswer(answer)
}

// parseRecruiterAnswer expects exactly "name|company|role". Anything else is
// a hard failure.
func parseRecruiterAnswer(answer string) (*RecruiterInfo, error) {
	parts := strings.Split(strings.TrimSpace(answer), "|")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed recruiter extraction %q: want 3 pipe-separated fields, got %d", answer, len(parts))
	}
	return &RecruiterInfo{
		Name:    strings.TrimSpace(parts[0]),
		Company: strings.TrimSpace(parts[1]),
		Role:    strings.TrimSpace(parts[2]),
	}, nil
}

func (e *Extractor) extractConcert(ctx context.Context, pctx *Context) (*ConcertDetails, error) {
	rendered, err := e.prompts.Render(pctx.Language, "extract_concert", map[string]interface{}{
		"CurrentYear": pctx.Now.Year(),
		"Sender":      pctx.Message.Sender,
		"Body":        pctx.Body,
	})
	if err != nil {
		return nil, err
	}

	answer, err := e.completer.Complete(ctx, rendered)
	if err != nil {
		return nil, apperrors.Soft(fmt.Errorf("concert extraction failed: %w", err))
	}

	details, err := parseConcertAnswer(answer)
	if err != nil {
		return nil, apperrors.Soft(err)
	}
	return details, nil
}

func parseConcertAnswer(answer string) (*ConcertDetails, error) {
	cleaned := stripCodeFence(answer)
	var details ConcertDetails
	if err := json.Unmarshal([]byte(cleaned), &details); err != nil {
		return nil, fmt.Errorf("malformed concert extraction: %w", err)
	}
	return &details, nil
}

// stripCodeFence removes a surrounding markdown code fence, which models add
// around JSON answers more often than not.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

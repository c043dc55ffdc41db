package classify

import (
	"context"
	"strings"

	"mailmaestro/internal/config"
	"mailmaestro/internal/llm"
	"mailmaestro/internal/logger"
	"mailmaestro/internal/mail"
	"mailmaestro/internal/prompt"
	"mailmaestro/pkg/cel"
)

// Categories a message can be routed to. CategoryOther means the message
// matched nothing and is left untouched.
const (
	CategoryRecruiter     = "recruiter"
	CategoryConcert       = "concert"
	CategoryTransactional = "transactional"
	CategoryOther         = "other"
)

var knownCategories = map[string]bool{
	CategoryRecruiter:     true,
	CategoryConcert:       true,
	CategoryTransactional: true,
}

// Classifier assigns a category to a normalized message. Rule-based routes
// are checked first; messages that match no rule are classified by the
// language model.
type Classifier struct {
	routes    []config.RouteRule
	evaluator *cel.Evaluator
	completer llm.Completer
	prompts   *prompt.Registry
	logger    logger.Logger
}

func NewClassifier(routes []config.RouteRule, completer llm.Completer, prompts *prompt.Registry, log logger.Logger) (*Classifier, error) {
	ev, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}
	for _, r := range routes {
		if err := ev.ValidateExpression(r.Expression); err != nil {
			return nil, err
		}
	}
	return &Classifier{
		routes:    routes,
		evaluator: ev,
		completer: completer,
		prompts:   prompts,
		logger:    log,
	}, nil
}

// Classify returns one of the category constants. It never returns an
// unknown category string; anything the model invents collapses to
// CategoryOther.
func (c *Classifier) Classify(ctx context.Context, msg mail.Message, body, language string) (string, error) {
	vars := map[string]interface{}{
		"id":       msg.ID,
		"subject":  msg.Subject,
		"sender":   msg.Sender,
		"body":     body,
		"language": language,
	}

	for _, route := range c.routes {
		matched, err := c.evaluator.Evaluate(ctx, route.Expression, vars)
		if err != nil {
			c.logger.Warnw("route evaluation failed", "route", route.Name, "error", err)
			continue
		}
		if matched {
			c.logger.DebugwCtx(ctx, "message matched route", "route", route.Name, "category", route.Category)
			return route.Category, nil
		}
	}

	rendered, err := c.prompts.Render(language, "classify_email", map[string]interface{}{
		"Subject": msg.Subject,
		"Sender":  msg.Sender,
		"Body":    body,
	})
	if err != nil {
		return "", err
	}

	answer, err := c.completer.Complete(ctx, rendered)
	if err != nil {
		return "", err
	}

	category := strings.ToLower(strings.TrimSpace(answer))
	// Models occasionally wrap the answer in punctuation or a sentence.
	category = strings.Trim(category, ".\"' \n")
	if !knownCategories[category] {
		c.logger.DebugwCtx(ctx, "message classified outside known categories", "answer", answer)
		return CategoryOther, nil
	}
	return category, nil
}

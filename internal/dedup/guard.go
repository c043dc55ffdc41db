package dedup

import (
	"context"
	"time"

	"mailmaestro/internal/logger"
	"mailmaestro/pkg/metrics"
)

// Guard decides whether a message was already processed in a previous run.
type Guard struct {
	hasher *Hasher
	repo   Repository
	logger logger.Logger
}

func NewGuard(hasher *Hasher, repo Repository, log logger.Logger) *Guard {
	return &Guard{
		hasher: hasher,
		repo:   repo,
		logger: log,
	}
}

// Fingerprint returns the stable fingerprint for a message identity.
func (g *Guard) Fingerprint(messageID, threadID string) string {
	return g.hasher.Fingerprint(messageID, threadID)
}

// Seen reports whether the fingerprint is already recorded.
func (g *Guard) Seen(ctx context.Context, fingerprint string) (bool, error) {
	seen, err := g.repo.Seen(ctx, fingerprint)
	if err != nil {
		metrics.DedupChecksTotal.WithLabelValues("error").Inc()
		return false, err
	}
	if seen {
		metrics.DedupChecksTotal.WithLabelValues("duplicate").Inc()
		g.logger.DebugwCtx(ctx, "duplicate message skipped", "fingerprint", fingerprint)
	} else {
		metrics.DedupChecksTotal.WithLabelValues("unique").Inc()
	}
	return seen, nil
}

// Mark records the fingerprint after successful processing. Marking twice is
// harmless.
func (g *Guard) Mark(ctx context.Context, fingerprint string) error {
	return g.repo.Mark(ctx, fingerprint, time.Now().UTC())
}

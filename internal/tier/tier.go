// Package tier routes filings to a processing tier by reported size.
package tier

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ncsr-ingest/internal/config"
	"github.com/sells-group/ncsr-ingest/internal/model"
)

// Router maps a filing's size in MB to a tier and its parse timeout.
// Boundaries are strictly-greater: a filing of exactly SmallMB is standard.
type Router struct {
	smallMB  float64
	mediumMB float64
	largeMB  float64

	timeoutStandard time.Duration
	timeoutLimited  time.Duration
	timeoutMinimal  time.Duration
}

// New builds a Router from the tier configuration. Thresholds must be
// strictly ascending and timeouts positive.
func New(cfg config.TierConfig) (*Router, error) {
	if !(cfg.SmallMB > 0 && cfg.SmallMB < cfg.MediumMB && cfg.MediumMB < cfg.LargeMB) {
		return nil, eris.Errorf("tier: thresholds must be strictly ascending, got %.1f/%.1f/%.1f",
			cfg.SmallMB, cfg.MediumMB, cfg.LargeMB)
	}
	if cfg.TimeoutStandardSecs <= 0 || cfg.TimeoutLimitedSecs <= 0 || cfg.TimeoutMinimalSecs <= 0 {
		return nil, eris.New("tier: timeouts must be positive")
	}
	return &Router{
		smallMB:         cfg.SmallMB,
		mediumMB:        cfg.MediumMB,
		largeMB:         cfg.LargeMB,
		timeoutStandard: time.Duration(cfg.TimeoutStandardSecs) * time.Second,
		timeoutLimited:  time.Duration(cfg.TimeoutLimitedSecs) * time.Second,
		timeoutMinimal:  time.Duration(cfg.TimeoutMinimalSecs) * time.Second,
	}, nil
}

// TierFor returns the processing tier for a filing of the given size.
func (r *Router) TierFor(sizeMB float64) model.Tier {
	switch {
	case sizeMB > r.largeMB:
		return model.TierDeadLetter
	case sizeMB > r.mediumMB:
		return model.TierMinimal
	case sizeMB > r.smallMB:
		return model.TierLimited
	default:
		return model.TierStandard
	}
}

// Timeout returns the parse timeout for a tier. The dead-letter tier is
// never parsed; it gets the minimal timeout so callers need no special case.
func (r *Router) Timeout(t model.Tier) time.Duration {
	switch t {
	case model.TierStandard:
		return r.timeoutStandard
	case model.TierLimited:
		return r.timeoutLimited
	default:
		return r.timeoutMinimal
	}
}

// LargeMB exposes the dead-letter threshold for DLQ entries recorded
// before a fetch is attempted.
func (r *Router) LargeMB() float64 {
	return r.largeMB
}

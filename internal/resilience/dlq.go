package resilience

import (
	"time"

	"github.com/sells-group/ncsr-ingest/internal/model"
)

// DLQEntry is one dead-letter queue row, at most one per filing. It holds a
// weak reference to the filing (id and accession) for display only.
type DLQEntry struct {
	ID              int64             `json:"id"`
	FilingID        int64             `json:"filing_id"`
	AccessionNumber string            `json:"accession_number"`
	FailureReason   string            `json:"failure_reason"`
	FailureType     model.FailureType `json:"failure_type"`
	OriginalTier    model.Tier        `json:"original_tier,omitempty"`
	FileSizeMB      float64           `json:"file_size_mb"`
	AttemptCount    int               `json:"attempt_count"`
	MaxAttempts     int               `json:"max_attempts"`
	RetryEligible   bool              `json:"retry_eligible"`
	LastAttempt     time.Time         `json:"last_attempt"`
	NextRetry       *time.Time        `json:"next_retry,omitempty"`
	RetryAfterHours int               `json:"retry_after_hours"`
	SuggestedTier   *model.Tier       `json:"suggested_tier,omitempty"`
	Priority        int               `json:"priority"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Ready reports whether the entry can be served in a night batch now.
func (e *DLQEntry) Ready(now time.Time) bool {
	return e.RetryEligible &&
		e.NextRetry != nil && !e.NextRetry.After(now) &&
		e.AttemptCount < e.MaxAttempts
}

// Size cutoffs for the retry rules. Filings above ineligibleSizeMB are never
// retried; the rest tighten by failure type and attempt count.
const (
	ineligibleSizeMB    = 100.0
	largeRetrySizeMB    = 50.0
	memoryRetrySizeMB   = 25.0
	parsingMaxAttempts  = 3
	minimalTierSizeMB   = 30.0
	limitedTierSizeMB   = 15.0
	prioritySmallMB     = 5.0
	priorityMediumMB    = 15.0
)

// RetryPolicy computes eligibility, backoff, tier suggestions, and priority
// for dead-lettered filings.
type RetryPolicy struct {
	// MaxAttempts is the hard cap on retry attempts. Default: 5.
	MaxAttempts int

	// BaseBackoffHours is the delay after the first failure. Default: 24.
	BaseBackoffHours int

	// MaxBackoffHours caps the exponential backoff. Default: 192 (8 days).
	MaxBackoffHours int
}

// DefaultRetryPolicy returns the production retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      5,
		BaseBackoffHours: 24,
		MaxBackoffHours:  192,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.BaseBackoffHours <= 0 {
		p.BaseBackoffHours = 24
	}
	if p.MaxBackoffHours <= 0 {
		p.MaxBackoffHours = 192
	}
	return p
}

// Eligible reports whether a filing with the given attempt count, size, and
// failure type may be retried.
func (p RetryPolicy) Eligible(attempts int, sizeMB float64, ft model.FailureType) bool {
	p = p.withDefaults()

	if ft == model.FailureFileTooLarge {
		return false
	}
	if attempts >= p.MaxAttempts {
		return false
	}
	if sizeMB > ineligibleSizeMB {
		return false
	}
	if sizeMB > largeRetrySizeMB && attempts >= 2 {
		return false
	}
	if ft == model.FailureMemory && sizeMB > memoryRetrySizeMB {
		return false
	}
	if ft == model.FailureParsing && attempts >= parsingMaxAttempts {
		return false
	}
	return true
}

// BackoffHours returns the retry delay after the given attempt count:
// 24h, 48h, 96h, 192h, capped at MaxBackoffHours.
func (p RetryPolicy) BackoffHours(attempts int) int {
	p = p.withDefaults()

	hours := p.BaseBackoffHours
	for i := 1; i < attempts && hours < p.MaxBackoffHours; i++ {
		hours *= 2
	}
	if hours > p.MaxBackoffHours {
		hours = p.MaxBackoffHours
	}
	return hours
}

// SuggestTier picks a more conservative tier for the next attempt.
func (p RetryPolicy) SuggestTier(attempts int, sizeMB float64, ft model.FailureType) model.Tier {
	switch {
	case ft == model.FailureMemory || sizeMB > minimalTierSizeMB:
		return model.TierMinimal
	case attempts >= 2 || sizeMB > limitedTierSizeMB:
		return model.TierLimited
	default:
		return model.TierStandard
	}
}

// Priority scores an entry 1 (low) to 5 (high). Small files and transient
// failure types sort first in night batches.
func (p RetryPolicy) Priority(sizeMB float64, ft model.FailureType) int {
	priority := 1

	if sizeMB < prioritySmallMB {
		priority += 2
	} else if sizeMB < priorityMediumMB {
		priority += 1
	}

	switch ft {
	case model.FailureNetwork, model.FailureTemporary:
		priority++
	case model.FailureMemory, model.FailureTimeout:
		priority--
	}

	if priority < 1 {
		priority = 1
	}
	if priority > 5 {
		priority = 5
	}
	return priority
}

// NewEntry builds the first DLQ entry for a filing.
func (p RetryPolicy) NewEntry(filingID int64, accession, reason string, ft model.FailureType, originalTier model.Tier, sizeMB float64, now time.Time) DLQEntry {
	p = p.withDefaults()

	e := DLQEntry{
		FilingID:        filingID,
		AccessionNumber: accession,
		FailureReason:   reason,
		FailureType:     ft,
		OriginalTier:    originalTier,
		FileSizeMB:      sizeMB,
		AttemptCount:    1,
		MaxAttempts:     p.MaxAttempts,
		CreatedAt:       now,
	}
	p.Apply(&e, now)
	return e
}

// Apply reevaluates an entry after its AttemptCount, FailureType, or size
// changed: recomputes priority, eligibility, the next retry time, and the
// suggested tier. Ineligible entries get a null next retry and suggested tier.
func (p RetryPolicy) Apply(e *DLQEntry, now time.Time) {
	p = p.withDefaults()

	e.LastAttempt = now
	e.UpdatedAt = now
	e.Priority = p.Priority(e.FileSizeMB, e.FailureType)
	e.RetryEligible = p.Eligible(e.AttemptCount, e.FileSizeMB, e.FailureType)

	if !e.RetryEligible {
		e.NextRetry = nil
		e.SuggestedTier = nil
		e.RetryAfterHours = 0
		return
	}

	hours := p.BackoffHours(e.AttemptCount)
	next := now.Add(time.Duration(hours) * time.Hour)
	e.NextRetry = &next
	e.RetryAfterHours = hours

	tier := p.SuggestTier(e.AttemptCount, e.FileSizeMB, e.FailureType)
	e.SuggestedTier = &tier
}

package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ncsr-ingest/internal/extract"
	"github.com/sells-group/ncsr-ingest/internal/model"
	"github.com/sells-group/ncsr-ingest/internal/monitoring"
	"github.com/sells-group/ncsr-ingest/internal/parser"
	"github.com/sells-group/ncsr-ingest/internal/resilience"
)

// DOM bounds handed to the parser per tier. The extractor applies the final
// table selection; these only cap how much HTML work happens at all.
const (
	standardDOMTables     = 100
	limitedDOMTables      = 50
	limitedTableHTMLBytes = 100 * 1024
)

// processDescriptor runs one discovered filing through sizing, routing,
// fetching, parsing, and persistence. Per-filing failures land in the DLQ
// and return nil; only parent-context and database errors abort the run.
func (e *Engine) processDescriptor(ctx context.Context, d model.Descriptor, tracker *monitoring.Tracker) error {
	f, err := e.store.GetByAccession(ctx, d.AccessionNumber)
	if err != nil {
		return eris.Wrapf(err, "engine: load filing %s", d.AccessionNumber)
	}
	if f == nil {
		return eris.Errorf("engine: filing %s missing after seed", d.AccessionNumber)
	}

	log := e.log.With(
		zap.String("accession", d.AccessionNumber),
		zap.String("company", d.CompanyName),
	)
	url := d.DocumentURL(e.cfg.SEC.BaseURL)

	// HEAD first: oversized filings route to the DLQ with no body fetch.
	var sizeMB float64
	if length, headErr := e.fetch.Head(ctx, url); headErr == nil && length > 0 {
		sizeMB = bytesToMB(length)
	} else if ctx.Err() != nil {
		return ctx.Err()
	}

	if sizeMB > 0 {
		if err := e.store.SetFileSize(ctx, f.ID, sizeMB); err != nil {
			return eris.Wrapf(err, "engine: record size for %s", d.AccessionNumber)
		}
		if e.router.TierFor(sizeMB) == model.TierDeadLetter {
			return e.deadLetterOversize(ctx, f.ID, d.AccessionNumber, sizeMB, tracker, log)
		}
	}

	if err := e.store.SetStatus(ctx, f.ID, model.StatusProcessing); err != nil {
		return eris.Wrapf(err, "engine: mark processing %s", d.AccessionNumber)
	}

	body, err := e.fetch.Get(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entry := e.policy.NewEntry(f.ID, d.AccessionNumber, err.Error(),
			resilience.Classify(err), "", sizeMB, time.Now().UTC())
		if dlqErr := e.store.AddToDLQ(ctx, entry); dlqErr != nil {
			return eris.Wrapf(dlqErr, "engine: dead-letter %s", d.AccessionNumber)
		}
		tracker.DeadLetter()
		log.Warn("fetch failed, filing queued for retry",
			zap.String("failure_type", string(entry.FailureType)), zap.Error(err))
		return nil
	}

	if sizeMB == 0 {
		sizeMB = bytesToMB(int64(len(body)))
		if err := e.store.SetFileSize(ctx, f.ID, sizeMB); err != nil {
			return eris.Wrapf(err, "engine: record size for %s", d.AccessionNumber)
		}
	}

	t := e.router.TierFor(sizeMB)
	if t == model.TierDeadLetter {
		return e.deadLetterOversize(ctx, f.ID, d.AccessionNumber, sizeMB, tracker, log)
	}

	outcome, err := e.parseAndStore(ctx, f.ID, t, body)
	if err != nil {
		return err
	}

	switch {
	case outcome.timedOut:
		entry := e.policy.NewEntry(f.ID, d.AccessionNumber,
			"parse timed out after "+e.router.Timeout(t).String(),
			model.FailureTimeout, t, sizeMB, time.Now().UTC())
		if dlqErr := e.store.AddToDLQ(ctx, entry); dlqErr != nil {
			return eris.Wrapf(dlqErr, "engine: dead-letter %s", d.AccessionNumber)
		}
		tracker.DeadLetter()
		log.Warn("parse timeout, filing queued for retry",
			zap.String("tier", string(t)), zap.Float64("size_mb", sizeMB))
	case outcome.res.Success:
		tracker.Success(t, outcome.duration)
		log.Info("filing processed",
			zap.String("tier", string(t)),
			zap.String("strategy", string(outcome.res.Strategy)),
			zap.Float64("size_mb", sizeMB),
			zap.Duration("duration", outcome.duration),
		)
	default:
		entry := e.policy.NewEntry(f.ID, d.AccessionNumber, outcome.res.Error,
			model.FailureParsing, t, sizeMB, time.Now().UTC())
		if dlqErr := e.store.AddToDLQ(ctx, entry); dlqErr != nil {
			return eris.Wrapf(dlqErr, "engine: dead-letter %s", d.AccessionNumber)
		}
		tracker.Failure(t, outcome.duration)
		log.Warn("parse failed, filing queued for retry",
			zap.String("tier", string(t)), zap.String("error", outcome.res.Error))
	}
	return nil
}

func (e *Engine) deadLetterOversize(ctx context.Context, filingID int64, accession string, sizeMB float64, tracker *monitoring.Tracker, log *zap.Logger) error {
	entry := e.policy.NewEntry(filingID, accession,
		"file exceeds the dead-letter size threshold",
		model.FailureFileTooLarge, model.TierDeadLetter, sizeMB, time.Now().UTC())
	if err := e.store.AddToDLQ(ctx, entry); err != nil {
		return eris.Wrapf(err, "engine: dead-letter %s", accession)
	}
	tracker.DeadLetter()
	log.Warn("filing too large, dead-lettered without fetch", zap.Float64("size_mb", sizeMB))
	return nil
}

// parseOutcome reports how a parse attempt ended. timedOut is set when the
// tier deadline expired; res is nil in that case and nothing was saved.
type parseOutcome struct {
	res      *parser.ParseResult
	duration time.Duration
	timedOut bool
}

// parseAndStore parses under the tier's deadline, gates the content by
// tier, and persists the result. The save transaction opens only after the
// parse has returned.
func (e *Engine) parseAndStore(ctx context.Context, filingID int64, t model.Tier, body []byte) (*parseOutcome, error) {
	pctx, cancel := context.WithTimeout(ctx, e.router.Timeout(t))
	defer cancel()

	start := time.Now()
	res, err := e.parse(pctx, body, optionsFor(t))
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &parseOutcome{duration: duration, timedOut: true}, nil
	}

	content := extract.Apply(res, t, parser.Decode(body))
	if err := e.store.SaveResult(ctx, filingID, t, res, content, duration); err != nil {
		return nil, eris.Wrapf(err, "engine: save result for filing %d", filingID)
	}
	return &parseOutcome{res: res, duration: duration}, nil
}

func optionsFor(t model.Tier) parser.Options {
	switch t {
	case model.TierLimited:
		return parser.Options{HTML: parser.HTMLOptions{
			MaxTables:    limitedDOMTables,
			MaxTableHTML: limitedTableHTMLBytes,
		}}
	case model.TierMinimal:
		return parser.Options{SkipHTML: true}
	default:
		return parser.Options{HTML: parser.HTMLOptions{MaxTables: standardDOMTables}}
	}
}

func bytesToMB(n int64) float64 {
	return float64(n) / (1 << 20)
}

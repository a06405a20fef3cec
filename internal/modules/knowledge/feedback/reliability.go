package feedback

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hoferino/manda-platform-sub003/internal/domain/events"
	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/observability"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
)

// RejectionRate is the share of reject actions in a window of events.
func RejectionRate(evs []*knowledge.ValidationEvent) float64 {
	if len(evs) == 0 {
		return 0
	}
	rejected := 0
	for _, ev := range evs {
		if ev.Action == knowledge.ActionReject {
			rejected++
		}
	}
	return float64(rejected) / float64(len(evs))
}

// recompute refreshes the reliability flag of one (document, pattern) source
// from its most recent validation window. A source is flagged once the window
// holds at least RejectionMinSample events and its rejection rate exceeds the
// threshold. A newly raised flag emits source.flagged.
func (e *Engine) recompute(dbc dbctx.Context, documentID uuid.UUID, pattern string) (*knowledge.SourceFlag, error) {
	evs, err := e.repos.Validations.RecentForSource(dbc, documentID, pattern, e.cfg.RejectionWindow)
	if err != nil {
		return nil, err
	}
	prev, err := e.repos.Flags.Get(dbc, documentID, pattern)
	if err != nil {
		return nil, err
	}
	rate := RejectionRate(evs)
	flagged := len(evs) >= e.cfg.RejectionMinSample && rate > e.cfg.RejectionThreshold

	flag, err := e.repos.Flags.Upsert(dbc, &knowledge.SourceFlag{
		DocumentID:        documentID,
		ExtractionPattern: pattern,
		SampleSize:        len(evs),
		RejectionRate:     rate,
		Flagged:           flagged,
	})
	if err != nil {
		return nil, err
	}
	if flagged && (prev == nil || !prev.Flagged) {
		if _, err := e.repos.Outbox.Append(dbc, events.SourceFlagged, documentID, events.SourceFlagPayload{
			DocumentID:        documentID,
			ExtractionPattern: pattern,
			RejectionRate:     rate,
			SampleSize:        len(evs),
		}); err != nil {
			return nil, err
		}
		observability.Current().IncSourceFlagged()
		e.log.Warn("source flagged as unreliable",
			"document_id", documentID,
			"extraction_pattern", pattern,
			"rejection_rate", rate,
			"sample_size", len(evs),
		)
	}
	return flag, nil
}

// SweepSourceFlags recomputes every source that has feedback. Flags normally
// move with each validation; the sweep catches configuration changes to the
// window or threshold.
func (e *Engine) SweepSourceFlags(ctx context.Context) (int, error) {
	sources, err := e.repos.Validations.Sources(dbctx.New(ctx))
	if err != nil {
		return 0, err
	}
	flagged := 0
	for _, s := range sources {
		if err := ctx.Err(); err != nil {
			return flagged, err
		}
		var flag *knowledge.SourceFlag
		err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			flag, err = e.recompute(dbctx.Context{Ctx: ctx, Tx: tx}, s.DocumentID, s.ExtractionPattern)
			return err
		})
		if err != nil {
			return flagged, err
		}
		if flag != nil && flag.Flagged {
			flagged++
		}
	}
	e.log.Info("source flag sweep complete", "sources", len(sources), "flagged", flagged)
	return flagged, nil
}

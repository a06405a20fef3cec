// Package feedback applies analyst validation and correction to findings,
// tracks per-source reliability, and flags dependents of changed findings for
// review.
package feedback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/data/repos/outbox"
	"github.com/hoferino/manda-platform-sub003/internal/domain/events"
	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/observability"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type Config struct {
	ValidationBonus    float64
	HumanBaseline      float64
	RejectionThreshold float64
	RejectionMinSample int
	RejectionWindow    int
}

func DefaultConfig() Config {
	return Config{
		ValidationBonus:    0.05,
		HumanBaseline:      0.9,
		RejectionThreshold: 0.5,
		RejectionMinSample: 5,
		RejectionWindow:    50,
	}
}

type Repos struct {
	Findings    knowledgerepo.FindingRepo
	Corrections knowledgerepo.CorrectionRepo
	Validations knowledgerepo.ValidationEventRepo
	Deps        knowledgerepo.DependencyRepo
	Markers     knowledgerepo.ReviewMarkerRepo
	Flags       knowledgerepo.SourceFlagRepo
	Outbox      outbox.OutboxRepo
}

type Engine struct {
	db         *gorm.DB
	log        *logger.Logger
	cfg        Config
	repos      Repos
	propagator *Propagator
}

func NewEngine(db *gorm.DB, baseLog *logger.Logger, cfg Config, repos Repos, propagator *Propagator) *Engine {
	def := DefaultConfig()
	if cfg.RejectionWindow <= 0 {
		cfg.RejectionWindow = def.RejectionWindow
	}
	if cfg.RejectionMinSample <= 0 {
		cfg.RejectionMinSample = def.RejectionMinSample
	}
	if cfg.RejectionThreshold <= 0 {
		cfg.RejectionThreshold = def.RejectionThreshold
	}
	if cfg.HumanBaseline <= 0 {
		cfg.HumanBaseline = def.HumanBaseline
	}
	return &Engine{
		db:         db,
		log:        baseLog.With("service", "FeedbackEngine"),
		cfg:        cfg,
		repos:      repos,
		propagator: propagator,
	}
}

type ValidationResult struct {
	Finding    *knowledge.Finding
	Event      *knowledge.ValidationEvent
	SourceFlag *knowledge.SourceFlag
}

type CorrectionResult struct {
	Finding     *knowledge.Finding
	Correction  *knowledge.Correction
	Propagation *PropagationResult
}

// SubmitValidation records an analyst's validate or reject decision.
// Validation raises confidence by the configured bonus and marks the finding
// validated; rejection marks it rejected and leaves confidence alone. A
// superseded finding keeps its status either way on validate, since
// supersession is a statement about time rather than trust.
func (e *Engine) SubmitValidation(ctx context.Context, findingID uuid.UUID, action knowledge.ValidationAction, actor string) (*ValidationResult, error) {
	actor = strings.TrimSpace(actor)
	if !action.Valid() {
		return nil, fmt.Errorf("validation action %q: %w", action, apperr.ErrInvalidArgument)
	}
	if actor == "" {
		return nil, fmt.Errorf("validation actor required: %w", apperr.ErrInvalidArgument)
	}
	res := &ValidationResult{}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		who := knowledgerepo.Actor{Kind: knowledge.ActorFeedback, ID: actor}
		f, _, err := e.repos.Findings.Transition(dbc, findingID, who, string(action), func(f *knowledge.Finding) error {
			switch action {
			case knowledge.ActionValidate:
				f.Confidence += e.cfg.ValidationBonus
				if f.Status != knowledge.FindingSuperseded {
					f.Status = knowledge.FindingValidated
				}
			case knowledge.ActionReject:
				f.Status = knowledge.FindingRejected
			}
			return nil
		})
		if err != nil {
			return err
		}
		res.Finding = f

		ev, err := e.repos.Validations.Create(dbc, &knowledge.ValidationEvent{
			FindingID:         f.ID,
			DocumentID:        f.DocumentID,
			ExtractionPattern: f.ExtractionPattern,
			Action:            action,
			Actor:             actor,
		})
		if err != nil {
			return err
		}
		res.Event = ev

		eventType := events.FindingValidated
		if action == knowledge.ActionReject {
			eventType = events.FindingRejected
		}
		if _, err := e.repos.Outbox.Append(dbc, eventType, f.ID, events.FindingPayload{
			FindingID:  f.ID,
			DealID:     f.DealID,
			DocumentID: f.DocumentID,
			Status:     string(f.Status),
			Confidence: f.Confidence,
		}); err != nil {
			return err
		}

		flag, err := e.recompute(dbc, f.DocumentID, f.ExtractionPattern)
		if err != nil {
			return err
		}
		res.SourceFlag = flag
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.Current().IncFeedback(string(action))
	e.log.Info("finding feedback recorded", "finding_id", findingID, "action", action, "actor", actor, "status", res.Finding.Status)
	return res, nil
}

// SubmitCorrection replaces a finding's text. The prior text is kept in a
// Correction row, confidence moves halfway towards the human baseline, and
// everything linked to the finding is flagged for review.
func (e *Engine) SubmitCorrection(ctx context.Context, findingID uuid.UUID, newText, actor, reason string) (*CorrectionResult, error) {
	newText = strings.TrimSpace(newText)
	actor = strings.TrimSpace(actor)
	if newText == "" {
		return nil, fmt.Errorf("correction text required: %w", apperr.ErrInvalidArgument)
	}
	if actor == "" {
		return nil, fmt.Errorf("correction actor required: %w", apperr.ErrInvalidArgument)
	}
	res := &CorrectionResult{}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		who := knowledgerepo.Actor{Kind: knowledge.ActorFeedback, ID: actor}
		var prior string
		f, _, err := e.repos.Findings.Transition(dbc, findingID, who, "correction", func(f *knowledge.Finding) error {
			prior = f.Text
			if strings.TrimSpace(f.Text) == newText {
				return fmt.Errorf("correction leaves text unchanged: %w", apperr.ErrInvalidArgument)
			}
			f.Text = newText
			f.Confidence = (f.Confidence + e.cfg.HumanBaseline) / 2
			if f.Status != knowledge.FindingSuperseded {
				f.Status = knowledge.FindingValidated
			}
			return nil
		})
		if err != nil {
			return err
		}
		res.Finding = f

		c, err := e.repos.Corrections.Create(dbc, &knowledge.Correction{
			FindingID:    f.ID,
			OriginalText: prior,
			NewText:      newText,
			Actor:        actor,
			Reason:       strings.TrimSpace(reason),
		})
		if err != nil {
			return err
		}
		res.Correction = c

		if _, err := e.repos.Outbox.Append(dbc, events.FindingCorrected, f.ID, events.FindingPayload{
			FindingID:  f.ID,
			DealID:     f.DealID,
			DocumentID: f.DocumentID,
			Status:     string(f.Status),
			Confidence: f.Confidence,
			Reason:     c.Reason,
		}); err != nil {
			return err
		}

		prop, err := e.propagator.Propagate(dbc, f.ID, knowledge.CauseCorrected, who)
		if err != nil {
			return err
		}
		res.Propagation = prop
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.Current().IncFeedback("correct")
	e.log.Info("finding corrected",
		"finding_id", findingID,
		"actor", actor,
		"flagged_findings", len(res.Propagation.Findings),
		"flagged_dependents", len(res.Propagation.Dependents),
	)
	return res, nil
}

// RegisterDependency records that an external artifact relies on a finding.
func (e *Engine) RegisterDependency(ctx context.Context, findingID uuid.UUID, kind, dependentID string) (*knowledge.FindingDependency, error) {
	kind = strings.TrimSpace(kind)
	dependentID = strings.TrimSpace(dependentID)
	if kind == "" || dependentID == "" {
		return nil, fmt.Errorf("dependent kind and id required: %w", apperr.ErrInvalidArgument)
	}
	dbc := dbctx.New(ctx)
	f, err := e.repos.Findings.GetByID(dbc, findingID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("finding %s: %w", findingID, apperr.ErrNotFound)
	}
	return e.repos.Deps.Register(dbc, findingID, kind, dependentID)
}

func (e *Engine) ListReviewMarkers(ctx context.Context, filter knowledgerepo.ReviewMarkerFilter) ([]*knowledge.ReviewMarker, error) {
	return e.repos.Markers.List(dbctx.New(ctx), filter)
}

func (e *Engine) ResolveReviewMarker(ctx context.Context, id uuid.UUID) error {
	ok, err := e.repos.Markers.Resolve(dbctx.New(ctx), id, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("open review marker %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

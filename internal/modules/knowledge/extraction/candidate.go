// Package extraction is the admission boundary for untrusted extraction
// output. Raw candidates are decoded, schema-checked and normalized into
// FindingCandidate rows; anything malformed is dropped and logged.
package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

// Provider is the extraction capability. Output is untrusted JSON, one
// message per candidate.
type Provider interface {
	Extract(ctx context.Context, chunks []*knowledge.Chunk) ([]json.RawMessage, error)
}

type Source struct {
	ChunkID  string `json:"chunk_id" validate:"required,uuid"`
	Location string `json:"location" validate:"required,notblank"`
}

type RawCandidate struct {
	Text           string   `json:"text" validate:"required,notblank"`
	Domain         string   `json:"domain" validate:"required,notblank"`
	Confidence     *float64 `json:"confidence" validate:"required"`
	DateReferenced string   `json:"date_referenced,omitempty"`
	Source         *Source  `json:"source" validate:"required"`
	FactKey        string   `json:"fact_key,omitempty"`
	Value          string   `json:"value,omitempty"`
	Pattern        string   `json:"pattern,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		err := validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
		if err != nil {
			panic(fmt.Sprintf("register notblank validation: %v", err))
		}
	})
	return validate
}

// Validate decodes and checks one raw candidate against the chunks of the
// document being extracted. Confidence outside [0,1] is clamped; a missing
// confidence is rejected.
func Validate(idx int, raw json.RawMessage, documentID uuid.UUID, chunks map[uuid.UUID]*knowledge.Chunk) (*knowledge.FindingCandidate, error) {
	var rc RawCandidate
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	if err := dec.Decode(&rc); err != nil {
		return nil, &apperr.MalformedExtractionError{Index: idx, Reason: "invalid json: " + err.Error()}
	}
	if err := validatorInstance().Struct(rc); err != nil {
		return nil, &apperr.MalformedExtractionError{Index: idx, Reason: describe(err)}
	}
	chunkID, _ := uuid.Parse(rc.Source.ChunkID)
	chunk, ok := chunks[chunkID]
	if !ok {
		return nil, &apperr.MalformedExtractionError{Index: idx, Reason: fmt.Sprintf("unknown chunk %s", rc.Source.ChunkID)}
	}
	text := collapseSpace(rc.Text)
	return &knowledge.FindingCandidate{
		DocumentID:        documentID,
		CandidateKey:      CandidateKey(chunk.ID, text),
		ChunkID:           chunk.ID,
		Location:          strings.TrimSpace(rc.Source.Location),
		Text:              text,
		Domain:            NormalizeDomain(rc.Domain),
		FactKey:           NormalizeFactKey(rc.FactKey),
		Value:             strings.TrimSpace(rc.Value),
		Confidence:        knowledge.ClampConfidence(*rc.Confidence),
		DateReferenced:    strings.TrimSpace(rc.DateReferenced),
		ExtractionPattern: strings.TrimSpace(rc.Pattern),
	}, nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Namespace()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// Result is the outcome of admitting one provider batch.
type Result struct {
	Admitted []*knowledge.FindingCandidate
	Rejected []*apperr.MalformedExtractionError
}

// Admit validates every raw candidate. A malformed entry never aborts the
// batch; duplicates of an admitted candidate key keep the first occurrence.
func Admit(log *logger.Logger, documentID uuid.UUID, chunks []*knowledge.Chunk, raws []json.RawMessage) Result {
	byID := make(map[uuid.UUID]*knowledge.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	var res Result
	seen := map[string]struct{}{}
	for i, raw := range raws {
		c, err := Validate(i, raw, documentID, byID)
		if err != nil {
			me, _ := err.(*apperr.MalformedExtractionError)
			res.Rejected = append(res.Rejected, me)
			log.Warn("discarding malformed extraction candidate", "document_id", documentID, "index", i, "reason", me.Reason)
			continue
		}
		if _, dup := seen[c.CandidateKey]; dup {
			continue
		}
		seen[c.CandidateKey] = struct{}{}
		res.Admitted = append(res.Admitted, c)
	}
	return res
}

// CandidateKey is the natural key of a candidate within its document.
func CandidateKey(chunkID uuid.UUID, text string) string {
	sum := sha256.Sum256([]byte(chunkID.String() + "|" + strings.ToLower(collapseSpace(text))))
	return hex.EncodeToString(sum[:])
}

func NormalizeDomain(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeFactKey lowercases and snake-cases a fact key.
func NormalizeFactKey(s string) string {
	f := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return strings.Join(f, "_")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

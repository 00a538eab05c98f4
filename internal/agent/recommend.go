package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nugget/talentscout/internal/mcp"
)

// RecommendToolName is the built-in tool the model uses to file a
// candidate recommendation.
const RecommendToolName = "record_recommendation"

// builtinServer is the owner reported for in-process tools.
const builtinServer = "builtin"

// Recommendation is a structured candidate recommendation filed by the
// model during a task.
type Recommendation struct {
	Candidate string `json:"candidate" jsonschema:"description=Full name of the candidate,minLength=1"`
	Company   string `json:"company,omitempty" jsonschema:"description=Company the candidate works or worked at"`
	Role      string `json:"role,omitempty" jsonschema:"description=Role the candidate is recommended for"`
	Rationale string `json:"rationale" jsonschema:"description=Why this candidate and why now,minLength=1"`
	Score     int    `json:"score,omitempty" jsonschema:"description=Match strength from 1 (weak) to 10 (strong),minimum=1,maximum=10"`
	Outreach  string `json:"outreach,omitempty" jsonschema:"description=Personalized outreach message draft"`
}

// validate checks fields the schema cannot enforce on its own.
func (r *Recommendation) validate() error {
	r.Candidate = strings.TrimSpace(r.Candidate)
	r.Rationale = strings.TrimSpace(r.Rationale)

	var errs []error
	if r.Candidate == "" {
		errs = append(errs, errors.New("candidate is required"))
	}
	if r.Rationale == "" {
		errs = append(errs, errors.New("rationale is required"))
	}
	if r.Score != 0 && (r.Score < 1 || r.Score > 10) {
		errs = append(errs, fmt.Errorf("score %d out of range 1-10", r.Score))
	}
	return errors.Join(errs...)
}

// recorder collects recommendations filed during one run.
type recorder struct {
	mu   sync.Mutex
	recs []Recommendation
}

func (r *recorder) all() []Recommendation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recommendation(nil), r.recs...)
}

// function exposes the recorder as the record_recommendation tool.
func (r *recorder) function() *mcp.Function {
	return mcp.NewFunction(
		RecommendToolName,
		"Record a recruiting recommendation for a specific candidate. Call once per candidate worth contacting.",
		mcp.ReflectSchema[Recommendation](),
		builtinServer,
		r.call,
	)
}

func (r *recorder) call(_ context.Context, args map[string]any) string {
	rec, err := decodeRecommendation(args)
	if err != nil {
		return "Invalid recommendation: " + err.Error()
	}

	r.mu.Lock()
	r.recs = append(r.recs, rec)
	r.mu.Unlock()

	msg := "Recommendation recorded for " + rec.Candidate
	if rec.Company != "" {
		msg += " (" + rec.Company + ")"
	}
	return msg + "."
}

// decodeRecommendation converts tool arguments into a validated
// Recommendation.
func decodeRecommendation(args map[string]any) (Recommendation, error) {
	var rec Recommendation
	data, err := json.Marshal(args)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, err
	}
	return rec, rec.validate()
}

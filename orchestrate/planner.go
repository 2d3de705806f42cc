package orchestrate

import (
	"context"

	"github.com/Coldaine/repo-analysis-suite/review"
)

// Planner decides which specialists review a change.
type Planner interface {
	Plan(ctx context.Context, state *review.ReviewState) (review.Plan, error)
}

// DefaultRoster is the standing set of specialists for every change.
var DefaultRoster = []string{"alignment", "testing", "security"}

// FixedPlanner always plans the same roster.
type FixedPlanner struct {
	Specialists []string
}

// NewFixedPlanner creates a planner for the given roster, defaulting to
// DefaultRoster.
func NewFixedPlanner(specialists ...string) *FixedPlanner {
	if len(specialists) == 0 {
		specialists = DefaultRoster
	}
	return &FixedPlanner{Specialists: specialists}
}

// Plan returns the fixed roster.
func (p *FixedPlanner) Plan(_ context.Context, _ *review.ReviewState) (review.Plan, error) {
	return review.Plan{Specialists: append([]string(nil), p.Specialists...)}, nil
}

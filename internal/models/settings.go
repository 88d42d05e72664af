package models

import "time"

// Plan is a subscription tier. Higher plans include everything lower plans can use.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanPro      Plan = "pro"
	PlanBusiness Plan = "business"
)

var planRank = map[Plan]int{
	PlanFree:     0,
	PlanPro:      1,
	PlanBusiness: 2,
}

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	_, ok := planRank[p]
	return ok
}

// Includes reports whether a user on plan p may use features gated at required.
func (p Plan) Includes(required Plan) bool {
	have, ok := planRank[p]
	if !ok {
		return false
	}
	need, ok := planRank[required]
	if !ok {
		return false
	}
	return have >= need
}

// AgentSettings is the per-user model configuration shared by all agents.
type AgentSettings struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

// ModelTier is a selectable model and the plan needed to use it.
type ModelTier struct {
	ID    string `mapstructure:"id" json:"id"`
	Label string `mapstructure:"label" json:"label"`
	Plan  Plan   `mapstructure:"plan" json:"plan"`
}

// ActivityEntry is one line of a user's activity feed.
type ActivityEntry struct {
	Summary   string    `json:"summary"`
	Icon      string    `json:"icon"`
	CreatedAt time.Time `json:"created_at"`
}

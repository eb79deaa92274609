package models

import (
	"encoding/json"
	"time"
)

// CampaignPhase is the lifecycle stage of a campaign
type CampaignPhase string

const (
	PhasePlanning        CampaignPhase = "planning"
	PhaseContentCreation CampaignPhase = "content_creation"
	PhaseScheduled       CampaignPhase = "scheduled"
	PhaseActive          CampaignPhase = "active"
	PhaseAnalyzing       CampaignPhase = "analyzing"
	PhaseCompleted       CampaignPhase = "completed"
)

// Valid reports whether p is a known campaign phase
func (p CampaignPhase) Valid() bool {
	switch p {
	case PhasePlanning, PhaseContentCreation, PhaseScheduled, PhaseActive, PhaseAnalyzing, PhaseCompleted:
		return true
	}
	return false
}

// Campaign is a marketing campaign planned as a graph of posts
type Campaign struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Phase          CampaignPhase `json:"phase"`
	CurrentVersion int           `json:"current_version"`
	Strategy       string        `json:"strategy"`
	Metadata       CampaignMeta  `json:"metadata"`
	Insights       []Insight     `json:"insights"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// CampaignMeta is the free-form metadata stored alongside the strategy.
// Known keys are typed; anything else survives a round trip in Extra.
type CampaignMeta struct {
	Goals            string         `json:"goals,omitempty"`
	TotalNodes       int            `json:"total_nodes"`
	TotalConnections int            `json:"total_connections"`
	Extra            map[string]any `json:"-"`
}

// MarshalJSON flattens Extra next to the typed keys
func (m CampaignMeta) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Goals != "" {
		out["goals"] = m.Goals
	}
	out["total_nodes"] = m.TotalNodes
	out["total_connections"] = m.TotalConnections
	return json.Marshal(out)
}

// UnmarshalJSON splits typed keys from the rest
func (m *CampaignMeta) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = CampaignMeta{}
	for k, v := range raw {
		switch k {
		case "goals":
			m.Goals, _ = v.(string)
		case "total_nodes":
			if f, ok := v.(float64); ok {
				m.TotalNodes = int(f)
			}
		case "total_connections":
			if f, ok := v.(float64); ok {
				m.TotalConnections = int(f)
			}
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[k] = v
		}
	}
	return nil
}

// Insight is an append-only note recorded on a campaign
type Insight struct {
	Kind      string    `json:"kind"`
	PostID    string    `json:"post_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Insight kinds
const (
	InsightRegeneration = "content_regenerated"
	InsightStrategy     = "strategy_regenerated"
)

// Package card defines the unit of work driven through an Artemis pipeline
// (spec.md §3) and the narrow Kanban-collaborator contract the core
// consumes but never implements.
package card

import "time"

// Priority is the card's urgency, used by the Workflow Planner's
// complexity scoring (spec.md §4.H).
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// StoryPoints is restricted to a fibonacci-like closed set, validated
// by IsValid against ValidStoryPoints.
type StoryPoints int

// ValidStoryPoints is the closed set of valid story point values.
var ValidStoryPoints = []StoryPoints{1, 2, 3, 5, 8, 13}

// IsValid reports whether p is one of the recognized story point values.
func (p StoryPoints) IsValid() bool {
	for _, v := range ValidStoryPoints {
		if v == p {
			return true
		}
	}
	return false
}

// AcceptanceCriterionStatus tracks whether a criterion has been verified.
type AcceptanceCriterionStatus string

const (
	CriterionPending  AcceptanceCriterionStatus = "pending"
	CriterionVerified AcceptanceCriterionStatus = "verified"
)

// AcceptanceCriterion is one line item of a card's acceptance criteria.
type AcceptanceCriterion struct {
	Text       string                    `json:"text"`
	Status     AcceptanceCriterionStatus `json:"status"`
	VerifiedBy string                    `json:"verified_by,omitempty"`
}

// HistoryEntry is one append-only record of card movement or annotation.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Column    string    `json:"column"`
	Actor     string    `json:"actor"`
	Comment   string    `json:"comment,omitempty"`
}

// Card is the unit of work driven through a pipeline run. Kanban board
// persistence is out of scope (spec.md §1); this type is the shape the
// core reads and the handful of fields it writes back through Store.
type Card struct {
	ID                 string                `json:"id"`
	Title              string                `json:"title"`
	Description        string                `json:"description"`
	Priority           Priority              `json:"priority"`
	StoryPoints        StoryPoints           `json:"story_points"`
	Size               string                `json:"size,omitempty"`
	Labels             []string              `json:"labels,omitempty"`
	AcceptanceCriteria []AcceptanceCriterion `json:"acceptance_criteria,omitempty"`
	Column             string                `json:"column"`
	Blocked            bool                  `json:"blocked"`
	BlockedReason      string                `json:"blocked_reason,omitempty"`
	TestStatus         string                `json:"test_status,omitempty"`
	DefinitionOfDone   []string              `json:"definition_of_done,omitempty"`
	History            []HistoryEntry        `json:"history,omitempty"`
}

// AppendHistory records a monotonic history entry (spec.md §3 invariant:
// history only ever grows).
func (c *Card) AppendHistory(action, actor, comment string) {
	c.History = append(c.History, HistoryEntry{
		Timestamp: time.Now(),
		Action:    action,
		Column:    c.Column,
		Actor:     actor,
		Comment:   comment,
	})
}

// Store is the narrow Kanban-board contract the core consumes: find,
// move, and update a card. The board itself (a simple JSON-backed card
// store) is an external collaborator (spec.md §1) never implemented here.
type Store interface {
	FindCard(id string) (*Card, error)
	MoveCard(id, toColumn, actor string) error
	UpdateCard(id string, updates map[string]any) error
}

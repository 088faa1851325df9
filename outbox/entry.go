// Package outbox queues triggered contract calls for the external chain
// dispatcher. Rules and the execution log are never persisted here.
package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/campustrust/governance/contenthash"
	"github.com/campustrust/governance/rules"
	"github.com/google/uuid"
)

// Status of an entry
type Status string

const (
	StatusPending    Status = "pending"
	StatusDispatched Status = "dispatched"
)

var (
	ErrNotFound  = errors.New("outbox entry not found")
	ErrDuplicate = errors.New("outbox entry already exists")
)

// Entry is one contract call awaiting dispatch
type Entry struct {
	ID           string          `json:"id"`
	RuleName     string          `json:"rule_name"`
	ActionType   string          `json:"action_type"`
	Action       json.RawMessage `json:"action"`
	ContentHash  string          `json:"content_hash"`
	TriggeredAt  time.Time       `json:"triggered_at"`
	Status       Status          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	DispatchedAt *time.Time      `json:"dispatched_at,omitempty"`
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Action = append(json.RawMessage(nil), e.Action...)
	if e.DispatchedAt != nil {
		t := *e.DispatchedAt
		c.DispatchedAt = &t
	}
	return &c
}

// hashedPayload is the content hashed for each entry
type hashedPayload struct {
	Rule        string          `json:"rule"`
	Action      json.RawMessage `json:"action"`
	TriggeredAt int64           `json:"triggered_at"`
}

// FromTriggered builds pending entries for the contract-call actions in
// triggered. Notifications and untyped actions are skipped.
func FromTriggered(triggered []rules.TriggeredAction) ([]*Entry, error) {
	entries := make([]*Entry, 0, len(triggered))
	for _, t := range triggered {
		if t.Action == nil || t.Action.ActionType() != rules.ActionContractCall {
			continue
		}

		action, err := json.Marshal(t.Action)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal action for rule %s: %w", t.RuleName, err)
		}

		hash, err := contenthash.Hash(hashedPayload{
			Rule:        t.RuleName,
			Action:      action,
			TriggeredAt: t.TriggeredAt.Unix(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to hash action for rule %s: %w", t.RuleName, err)
		}

		entries = append(entries, &Entry{
			ID:          uuid.NewString(),
			RuleName:    t.RuleName,
			ActionType:  rules.ActionContractCall,
			Action:      action,
			ContentHash: hash,
			TriggeredAt: t.TriggeredAt,
			Status:      StatusPending,
		})
	}
	return entries, nil
}

package bugtrack

import (
	"encoding/json"
	"fmt"
)

// ExplainRequest is a self-contained decision request used by the admin
// endpoint and the CLI. Record is the JSON snapshot of the target; when it is
// empty the check is made against the entity class.
type ExplainRequest struct {
	UserID        string          `json:"user_id"`
	Roles         []string        `json:"roles,omitempty"`
	DeveloperID   string          `json:"developer_id,omitempty"`
	PortedGameIDs []string        `json:"ported_game_ids,omitempty"`
	Action        string          `json:"action"`
	Entity        string          `json:"entity"`
	Record        json.RawMessage `json:"record,omitempty"`
}

// Principal builds the principal described by the request.
func (req *ExplainRequest) Principal() *Principal {
	if req.UserID == "" && len(req.Roles) == 0 {
		return Anonymous()
	}
	u := &User{ID: req.UserID, Roles: req.Roles, DeveloperID: req.DeveloperID}
	ports := make([]*Port, 0, len(req.PortedGameIDs))
	for _, id := range req.PortedGameIDs {
		ports = append(ports, &Port{GameID: id, PorterID: req.UserID})
	}
	return NewPrincipal(u, ports...)
}

// Target decodes the record snapshot, or returns the entity class.
func (req *ExplainRequest) Target() (Target, error) {
	entity, err := ParseEntityType(req.Entity)
	if err != nil {
		return nil, err
	}
	if len(req.Record) == 0 || string(req.Record) == "null" {
		return entity, nil
	}
	rec, err := NewRecord(entity)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(req.Record, rec); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", entity, err)
	}
	return rec, nil
}

// ExplainRequest evaluates req with a trace. An unknown action is reported as
// a denial, not an error.
func (e *Engine) ExplainRequest(req *ExplainRequest) (Decision, error) {
	target, err := req.Target()
	if err != nil {
		return Decision{}, err
	}
	return e.Explain(req.Principal(), Action(req.Action), target), nil
}

package fiscal

import "time"

// Operator identifies who closed (or opened) a shift.
type Operator struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SystemOperator is used when a close is triggered without a user.
var SystemOperator = Operator{ID: "sys", Name: "System"}

func (o Operator) OrSystem() Operator {
	if o.ID == "" && o.Name == "" {
		return SystemOperator
	}
	if o.ID == "" {
		o.ID = SystemOperator.ID
	}
	return o
}

// Shift is one register session. Opening is snapshotted when the shift
// opens and is what the Z-report uses, never the live balance.
type Shift struct {
	ID         ShiftID         `json:"id"`
	RegisterID string          `json:"registerId"`
	Operator   Operator        `json:"operator"`
	OpenedAt   time.Time       `json:"openedAt"`
	Opening    OpeningBalances `json:"opening"`
	ClosedBy   ClosureID       `json:"closedBy,omitempty"`
	ClosedAt   *time.Time      `json:"closedAt,omitempty"`
}

func (s Shift) IsOpen() bool { return s.ClosedBy == "" }

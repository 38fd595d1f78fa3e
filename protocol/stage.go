package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StageKind enumerates the lifecycle stages an order moves through.
type StageKind uint8

const (
	KindUnknown StageKind = iota
	KindPending
	KindConfirmed
	KindCutting
	KindPacking
	KindOutForDelivery
	KindDelivered
	KindCancelled
)

var kindNames = map[StageKind]string{
	KindPending:        "PENDING",
	KindConfirmed:      "CONFIRMED",
	KindCutting:        "CUTTING",
	KindPacking:        "PACKING",
	KindOutForDelivery: "OUT_FOR_DELIVERY",
	KindDelivered:      "DELIVERED",
	KindCancelled:      "CANCELLED",
}

var kindsByName = func() map[string]StageKind {
	m := make(map[string]StageKind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

// Stage is an order lifecycle stage. Values the server sends that this build
// does not know decode to KindUnknown and keep their raw text, so newer
// servers never break older clients.
type Stage struct {
	Kind StageKind
	raw  string
}

// Known stages.
var (
	StagePending        = Stage{Kind: KindPending}
	StageConfirmed      = Stage{Kind: KindConfirmed}
	StageCutting        = Stage{Kind: KindCutting}
	StagePacking        = Stage{Kind: KindPacking}
	StageOutForDelivery = Stage{Kind: KindOutForDelivery}
	StageDelivered      = Stage{Kind: KindDelivered}
	StageCancelled      = Stage{Kind: KindCancelled}
)

// ParseStage maps a wire value to a Stage. Matching is case-insensitive;
// anything unrecognised becomes an unknown stage carrying s.
func ParseStage(s string) Stage {
	if k, ok := kindsByName[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return Stage{Kind: k}
	}
	return Stage{Kind: KindUnknown, raw: s}
}

// String returns the wire value.
func (s Stage) String() string {
	if n, ok := kindNames[s.Kind]; ok {
		return n
	}
	return s.raw
}

// IsZero reports whether no stage was set at all.
func (s Stage) IsZero() bool { return s.Kind == KindUnknown && s.raw == "" }

// Known reports whether s is one of the enumerated stages.
func (s Stage) Known() bool { return s.Kind != KindUnknown }

// IsTerminal reports whether no further transitions are expected.
func (s Stage) IsTerminal() bool {
	return s.Kind == KindDelivered || s.Kind == KindCancelled
}

// validTransitions is the forward path for manual overrides.
var validTransitions = map[StageKind][]StageKind{
	KindPending:        {KindConfirmed, KindCancelled},
	KindConfirmed:      {KindCutting, KindCancelled},
	KindCutting:        {KindPacking, KindCancelled},
	KindPacking:        {KindOutForDelivery, KindCancelled},
	KindOutForDelivery: {KindDelivered},
}

// CanTransition reports whether an order may move from one stage to another.
func CanTransition(from, to Stage) bool {
	for _, k := range validTransitions[from.Kind] {
		if k == to.Kind {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the stage as its wire string.
func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts only a JSON string.
func (s *Stage) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("stage must be a string: %w", err)
	}
	*s = ParseStage(v)
	return nil
}

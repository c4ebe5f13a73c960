package types

import (
	"encoding/json"
	"fmt"
)

// FieldPath names one updatable field of a LoadRecord. The set of paths is
// closed: updates against unknown paths or with the wrong value type are
// rejected before they ever reach persistence.
type FieldPath string

const (
	PathState               FieldPath = "state"
	PathStatus              FieldPath = "status"
	PathEquipmentType       FieldPath = "equipmentType"
	PathCommodity           FieldPath = "details.commodity"
	PathWeight              FieldPath = "details.weightPounds"
	PathLength              FieldPath = "details.lengthFeet"
	PathPickupWindow        FieldPath = "details.pickupWindow"
	PathDeliveryWindow      FieldPath = "details.deliveryWindow"
	PathSpecialNotes        FieldPath = "details.specialNotes"
	PathRateCurrent         FieldPath = "rate.current"
	PathRateCommitted       FieldPath = "rate.committed"
	PathRateAIIdentified    FieldPath = "rate.aiIdentified"
	PathInfoRequestFinished FieldPath = "infoRequestFinished"
	PathDraftAttempts       FieldPath = "draftAttempts"
	PathWarnings            FieldPath = "warnings"
	PathCriticalQuestions   FieldPath = "criticalQuestions"
)

// FieldUpdate is one proposed path -> value change.
type FieldUpdate struct {
	Path  FieldPath
	Value any
}

// UpdateSet is an ordered set of field updates. Adding the same path twice
// keeps the latest value; adding a value equal to what the record already
// holds is a no-op, so replaying a message yields an empty set.
type UpdateSet struct {
	updates []FieldUpdate
	index   map[FieldPath]int
}

// NewUpdateSet returns an empty update set.
func NewUpdateSet() *UpdateSet {
	return &UpdateSet{index: make(map[FieldPath]int)}
}

// Set records an update for path, replacing any earlier value.
func (u *UpdateSet) Set(path FieldPath, value any) {
	if u.index == nil {
		u.index = make(map[FieldPath]int)
	}
	if i, ok := u.index[path]; ok {
		u.updates[i].Value = value
		return
	}
	u.index[path] = len(u.updates)
	u.updates = append(u.updates, FieldUpdate{Path: path, Value: value})
}

// Get returns the pending value for path, if one was recorded.
func (u *UpdateSet) Get(path FieldPath) (any, bool) {
	if u == nil || u.index == nil {
		return nil, false
	}
	i, ok := u.index[path]
	if !ok {
		return nil, false
	}
	return u.updates[i].Value, true
}

// Len returns the number of pending updates.
func (u *UpdateSet) Len() int {
	if u == nil {
		return 0
	}
	return len(u.updates)
}

// Updates returns the pending updates in insertion order.
func (u *UpdateSet) Updates() []FieldUpdate {
	if u == nil {
		return nil
	}
	out := make([]FieldUpdate, len(u.updates))
	copy(out, u.updates)
	return out
}

// MarshalJSON renders the set as a flat path -> value object for the result
// envelope.
func (u *UpdateSet) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, u.Len())
	if u != nil {
		for _, up := range u.updates {
			m[string(up.Path)] = up.Value
		}
	}
	return json.Marshal(m)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// Apply validates every update against the LoadRecord schema and applies it
// to the in-memory record. The whole set is validated before anything is
// written, so a bad update leaves the record untouched.
func (u *UpdateSet) Apply(load *LoadRecord) error {
	if u == nil {
		return nil
	}
	for _, up := range u.updates {
		if err := validateUpdate(up); err != nil {
			return err
		}
	}
	for _, up := range u.updates {
		applyUpdate(load, up)
	}
	return nil
}

func validateUpdate(up FieldUpdate) error {
	bad := func(want string) error {
		return &ValidationError{
			Field:  string(up.Path),
			Reason: fmt.Sprintf("expected %s value, got %T", want, up.Value),
		}
	}
	switch up.Path {
	case PathState:
		if _, ok := up.Value.(LoadState); !ok {
			return bad("LoadState")
		}
	case PathStatus:
		if _, ok := up.Value.(NegotiationStatus); !ok {
			return bad("NegotiationStatus")
		}
	case PathEquipmentType, PathCommodity, PathPickupWindow, PathDeliveryWindow, PathSpecialNotes:
		if _, ok := up.Value.(string); !ok {
			return bad("string")
		}
	case PathWeight, PathLength, PathDraftAttempts:
		if _, ok := asInt(up.Value); !ok {
			return bad("int")
		}
	case PathRateCurrent, PathRateCommitted:
		if _, ok := asFloat(up.Value); !ok {
			return bad("number")
		}
	case PathRateAIIdentified, PathInfoRequestFinished:
		if _, ok := up.Value.(bool); !ok {
			return bad("bool")
		}
	case PathWarnings, PathCriticalQuestions:
		if _, ok := up.Value.([]string); !ok {
			return bad("[]string")
		}
	default:
		return &ValidationError{Field: string(up.Path), Reason: "unknown field path"}
	}
	return nil
}

func applyUpdate(load *LoadRecord, up FieldUpdate) {
	switch up.Path {
	case PathState:
		load.State = up.Value.(LoadState)
	case PathStatus:
		load.Status = up.Value.(NegotiationStatus)
	case PathEquipmentType:
		load.EquipmentType = up.Value.(string)
	case PathCommodity:
		load.Details.Commodity = up.Value.(string)
	case PathWeight:
		load.Details.WeightPounds, _ = asInt(up.Value)
	case PathLength:
		load.Details.LengthFeet, _ = asInt(up.Value)
	case PathPickupWindow:
		load.Details.PickupWindow = up.Value.(string)
	case PathDeliveryWindow:
		load.Details.DeliveryWindow = up.Value.(string)
	case PathSpecialNotes:
		load.Details.SpecialNotes = up.Value.(string)
	case PathRateCurrent:
		load.Rate.Current, _ = asFloat(up.Value)
	case PathRateCommitted:
		load.Rate.Committed, _ = asFloat(up.Value)
	case PathRateAIIdentified:
		load.Rate.AIIdentified = up.Value.(bool)
	case PathInfoRequestFinished:
		load.InfoRequestFinished = up.Value.(bool)
	case PathDraftAttempts:
		load.DraftAttempts, _ = asInt(up.Value)
	case PathWarnings:
		load.Warnings = up.Value.([]string)
	case PathCriticalQuestions:
		load.CriticalQuestions = up.Value.([]string)
	}
}

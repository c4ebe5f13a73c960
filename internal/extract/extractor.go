// Package extract turns one broker message into a partial field set and
// tracks which checklist fields are still missing from the load record.
package extract

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"loadpilot/internal/llm"
	"loadpilot/internal/types"
)

const extractorSystemPrompt = `You are a truck industry expert that analyzes replies received from brokers and understands all the industry jargon.

Extract only fields explicitly stated in the broker's reply:
- commodity: the goods being shipped (e.g. "auto parts"). "FAK" means "freight of all kinds".
- weightPounds: numeric weight in pounds. "40k" means 40000. Convert kg to lbs.
- lengthFeet: load length in feet, only when stated for the load itself.
- pickupWindow: pickup date/time as stated, keep FCFS/appt markers and relative times as-is.
- deliveryWindow: delivery date/time, only with clear delivery context ("delivery by", "drop", "unload").
- offeringRate: the rate the broker is paying, whole dollars. "$1,500.00" means 1500, "2k" in payment context means 2000.
- equipmentType: trailer/equipment type if stated.
- specialNotes: only requirements that would make the load undeliverable if unmet (tarps, liftgate, lumper fee, door clearance). If the broker explicitly says there are none, use "No special handling".

NEVER invent or assume values. Omit any field the message does not mention.
A number is a rate when it has a currency marker or payment context, a weight when it has weight units or load context.`

var extractorSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"commodity":      map[string]any{"type": "string"},
		"weightPounds":   map[string]any{"type": "integer"},
		"lengthFeet":     map[string]any{"type": "integer"},
		"pickupWindow":   map[string]any{"type": "string"},
		"deliveryWindow": map[string]any{"type": "string"},
		"offeringRate":   map[string]any{"type": "number"},
		"equipmentType":  map[string]any{"type": "string"},
		"specialNotes":   map[string]any{"type": "string"},
	},
}

// Fields is the partial field set pulled from one broker message. Zero
// values mean "not mentioned".
type Fields struct {
	Commodity      string  `json:"commodity,omitempty"`
	WeightPounds   int     `json:"weightPounds,omitempty"`
	LengthFeet     int     `json:"lengthFeet,omitempty"`
	PickupWindow   string  `json:"pickupWindow,omitempty"`
	DeliveryWindow string  `json:"deliveryWindow,omitempty"`
	OfferingRate   float64 `json:"offeringRate,omitempty"`
	EquipmentType  string  `json:"equipmentType,omitempty"`
	SpecialNotes   string  `json:"specialNotes,omitempty"`
}

// FieldExtractor is the stateless translation step from broker prose to
// typed fields.
type FieldExtractor struct {
	client llm.Client
	logger *zap.Logger
}

// NewFieldExtractor wires the extractor to the completion service.
func NewFieldExtractor(client llm.Client, logger *zap.Logger) *FieldExtractor {
	return &FieldExtractor{client: client, logger: logger}
}

// Extract runs the completion call for one message. Conversation context is
// included so short replies ("40k, tmr 2pm") can be interpreted.
func (e *FieldExtractor) Extract(ctx context.Context, content string, history []types.Message) (Fields, error) {
	prompt := fmt.Sprintf("Current time: %s\n\nCONVERSATION CONTEXT (reference only):\n%s\n\nLATEST BROKER REPLY TO ANALYZE:\n%s",
		time.Now().Format("2006-01-02 15:04"), renderHistory(history), content)

	raw, err := e.client.Complete(ctx, llm.Request{
		System:      extractorSystemPrompt,
		Prompt:      prompt,
		Schema:      extractorSchema,
		Temperature: 0.3,
	})
	if err != nil {
		return Fields{}, &types.ExternalServiceError{Service: "completion", Err: err}
	}

	var fields Fields
	if err := llm.Decode(raw, &fields); err != nil {
		return Fields{}, &types.ExternalServiceError{Service: "completion", Err: err}
	}

	e.logger.Debug("extracted fields from broker reply",
		zap.String("commodity", fields.Commodity),
		zap.Int("weight", fields.WeightPounds),
		zap.Float64("rate", fields.OfferingRate))
	return fields, nil
}

// Merge records each extracted value as a field update and writes it to the
// in-memory load. Values equal to what the record already holds produce no
// update, so replaying a message yields an empty set.
func (f Fields) Merge(load *types.LoadRecord, updates *types.UpdateSet) {
	set := func(path types.FieldPath, value any, differs bool) {
		if differs {
			updates.Set(path, value)
		}
	}
	set(types.PathCommodity, f.Commodity, f.Commodity != "" && f.Commodity != load.Details.Commodity)
	set(types.PathWeight, f.WeightPounds, f.WeightPounds != 0 && f.WeightPounds != load.Details.WeightPounds)
	set(types.PathLength, f.LengthFeet, f.LengthFeet != 0 && f.LengthFeet != load.Details.LengthFeet)
	set(types.PathPickupWindow, f.PickupWindow, f.PickupWindow != "" && f.PickupWindow != load.Details.PickupWindow)
	set(types.PathDeliveryWindow, f.DeliveryWindow, f.DeliveryWindow != "" && f.DeliveryWindow != load.Details.DeliveryWindow)
	set(types.PathSpecialNotes, f.SpecialNotes, f.SpecialNotes != "" && f.SpecialNotes != load.Details.SpecialNotes)
	set(types.PathEquipmentType, f.EquipmentType, f.EquipmentType != "" && f.EquipmentType != load.EquipmentType)
	if f.OfferingRate > 0 && f.OfferingRate != load.Rate.Current {
		updates.Set(types.PathRateCurrent, f.OfferingRate)
		updates.Set(types.PathRateAIIdentified, true)
	}
	// Every value set above is already the exact type the path's validator
	// requires, so Apply cannot fail.
	_ = updates.Apply(load)
}

func renderHistory(history []types.Message) string {
	out := ""
	for _, m := range history {
		role := "Broker"
		if m.Role == types.RoleDispatcher {
			role = "Dispatcher"
		}
		out += role + ": " + m.Body + "\n"
	}
	return out
}

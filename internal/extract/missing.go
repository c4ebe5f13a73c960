package extract

import "loadpilot/internal/types"

// Checklist field names, in the order info-request emails ask for them.
const (
	FieldWeight       = "weight"
	FieldLength       = "length"
	FieldCommodity    = "commodity"
	FieldPickup       = "pickup date and time"
	FieldDelivery     = "delivery date and time"
	FieldOfferingRate = "offering rate"
	FieldSpecialNotes = "special notes"
)

// MissingFields returns the checklist fields the load record still lacks,
// in ask order. The rate counts as present only once the broker has stated
// it; a posting rate alone does not satisfy the checklist.
func MissingFields(load *types.LoadRecord) []string {
	var missing []string
	if load.Details.WeightPounds == 0 {
		missing = append(missing, FieldWeight)
	}
	if load.Details.LengthFeet == 0 {
		missing = append(missing, FieldLength)
	}
	if load.Details.Commodity == "" {
		missing = append(missing, FieldCommodity)
	}
	if load.Details.PickupWindow == "" {
		missing = append(missing, FieldPickup)
	}
	if load.Details.DeliveryWindow == "" {
		missing = append(missing, FieldDelivery)
	}
	if !load.Rate.AIIdentified {
		missing = append(missing, FieldOfferingRate)
	}
	if load.Details.SpecialNotes == "" {
		missing = append(missing, FieldSpecialNotes)
	}
	return missing
}

// InfoComplete reports whether every checklist field is present.
func InfoComplete(load *types.LoadRecord) bool {
	return len(MissingFields(load)) == 0
}

package negotiation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"loadpilot/internal/llm"
	"loadpilot/internal/types"
)

// Verdict classifies the broker's response to an outstanding bid.
type Verdict string

const (
	// VerdictAccepted means the broker agreed to the dispatcher's rate.
	VerdictAccepted Verdict = "accepted"
	// VerdictRejected means the broker declined, with or without a
	// counter-rate of their own.
	VerdictRejected Verdict = "rejected"
	// VerdictOnlyQuestion means the broker neither accepted nor declined,
	// they just asked something.
	VerdictOnlyQuestion Verdict = "only_question_asked"
)

const classifierSystemPrompt = `You classify a broker's reply to a trucking rate offer the dispatcher just sent.

- "accepted": the broker clearly agrees to the dispatcher's offered rate ("works for me", "book it", "send the RC").
- "rejected": the broker declines or pushes back, including naming a different rate ("can't do 1800", "best I can do is 1500", "too high").
- "only_question_asked": the broker neither accepts nor declines, only asks a question.

When the broker states a rate THEY are willing to pay, return it in "rate" as whole dollars ("1.5k" means 1500). Return 0 when no broker rate is stated. The dispatcher's own rate is never the broker's rate.`

var classifierSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"classification": map[string]any{"type": "string", "enum": []string{"accepted", "rejected", "only_question_asked"}},
		"rate":           map[string]any{"type": "number"},
	},
	"required": []string{"classification"},
}

// Classification is the classifier's structured output. Rate is the
// broker's stated rate, zero when none was given.
type Classification struct {
	Verdict Verdict `json:"classification"`
	Rate    float64 `json:"rate"`
}

// Classifier reads the broker's answer to a pending bid.
type Classifier struct {
	client llm.Client
	logger *zap.Logger
}

func NewClassifier(client llm.Client, logger *zap.Logger) *Classifier {
	return &Classifier{client: client, logger: logger}
}

// Classify evaluates the broker's message against the rate the dispatcher
// last offered.
func (c *Classifier) Classify(ctx context.Context, content string, offeredRate float64) (Classification, error) {
	prompt := fmt.Sprintf("THE DISPATCHER'S LAST OFFERED RATE: $%.0f\n\nBROKER REPLY:\n%s", offeredRate, content)

	raw, err := c.client.Complete(ctx, llm.Request{
		System:      classifierSystemPrompt,
		Prompt:      prompt,
		Schema:      classifierSchema,
		Temperature: 0,
	})
	if err != nil {
		return Classification{}, &types.ExternalServiceError{Service: "completion", Err: err}
	}

	var out Classification
	if err := llm.Decode(raw, &out); err != nil {
		return Classification{}, &types.ExternalServiceError{Service: "completion", Err: err}
	}

	switch out.Verdict {
	case VerdictAccepted, VerdictRejected, VerdictOnlyQuestion:
	default:
		return Classification{}, &types.ExternalServiceError{
			Service: "completion",
			Err:     fmt.Errorf("unknown classification %q", out.Verdict),
		}
	}

	c.logger.Debug("classified broker response",
		zap.String("verdict", string(out.Verdict)),
		zap.Float64("broker_rate", out.Rate))
	return out, nil
}

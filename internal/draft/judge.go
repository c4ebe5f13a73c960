package draft

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"loadpilot/internal/llm"
	"loadpilot/internal/types"
)

const judgeSystemPrompt = `You review a draft email a truck dispatcher is about to send a broker. Approve it only if ALL of these hold:

1. It accomplishes exactly the stated goal, nothing more.
2. Every number (rate, weight, dates) matches the provided facts. No invented details.
3. It sounds like a human dispatcher: no markdown, no placeholders like [NAME], no mention of automation.
4. It is concise and professional.

When rejecting, state concretely what to fix.`

var judgeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"approved": map[string]any{"type": "boolean"},
		"feedback": map[string]any{"type": "string"},
	},
	"required": []string{"approved"},
}

// Review is the judge's verdict on one draft.
type Review struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
}

// Judge quality-gates drafts before they leave the system.
type Judge struct {
	client llm.Client
	logger *zap.Logger
}

func NewJudge(client llm.Client, logger *zap.Logger) *Judge {
	return &Judge{client: client, logger: logger}
}

func (j *Judge) Review(ctx context.Context, inst Instruction, body string) (Review, error) {
	prompt := fmt.Sprintf("GOAL OF THE EMAIL:\n%s\n\nFACTS THE EMAIL MAY USE:\n%s\n\nDRAFT TO REVIEW:\n%s",
		inst.Goal, inst.Context, body)

	raw, err := j.client.Complete(ctx, llm.Request{
		System:      judgeSystemPrompt,
		Prompt:      prompt,
		Schema:      judgeSchema,
		Temperature: 0,
	})
	if err != nil {
		return Review{}, &types.ExternalServiceError{Service: "completion", Err: err}
	}

	var review Review
	if err := llm.Decode(raw, &review); err != nil {
		return Review{}, &types.ExternalServiceError{Service: "completion", Err: err}
	}
	if !review.Approved {
		j.logger.Debug("judge rejected draft", zap.String("feedback", review.Feedback))
	}
	return review, nil
}

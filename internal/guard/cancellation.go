// Package guard holds the pre-flight checks that run before any workflow
// stage: load cancellation detection and the reply-necessity gate.
package guard

import (
	"context"

	"go.uber.org/zap"

	"loadpilot/internal/llm"
	"loadpilot/internal/types"
)

const cancellationSystemPrompt = `You analyze a broker's email in a freight negotiation and decide whether the load itself is gone.

A load is cancelled when the broker says it is covered, booked, no longer available, cancelled, or already given to another carrier ("load covered", "it's gone", "truck found", "already booked").

A load is NOT cancelled when the broker merely rejects a rate, asks a question, goes silent, or negotiates. Rejecting the dispatcher's offer is negotiation, not cancellation.

Quote the exact phrase that proves cancellation. If there is no such phrase, the load is not cancelled.`

var cancellationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"is_cancelled": map[string]any{"type": "boolean"},
		"proof":        map[string]any{"type": "string"},
	},
	"required": []string{"is_cancelled"},
}

// CancellationVerdict is the outcome of the cancellation check. Proof holds
// the broker's own words when IsCancelled is true.
type CancellationVerdict struct {
	IsCancelled bool   `json:"is_cancelled"`
	Proof       string `json:"proof"`
}

// CancellationGuard detects loads the broker has withdrawn.
type CancellationGuard struct {
	client llm.Client
	logger *zap.Logger
}

func NewCancellationGuard(client llm.Client, logger *zap.Logger) *CancellationGuard {
	return &CancellationGuard{client: client, logger: logger}
}

// Check inspects the broker's latest message for withdrawal language.
func (g *CancellationGuard) Check(ctx context.Context, content string) (CancellationVerdict, error) {
	raw, err := g.client.Complete(ctx, llm.Request{
		System:      cancellationSystemPrompt,
		Prompt:      "BROKER MESSAGE:\n" + content,
		Schema:      cancellationSchema,
		Temperature: 0,
	})
	if err != nil {
		return CancellationVerdict{}, &types.ExternalServiceError{Service: "completion", Err: err}
	}

	var verdict CancellationVerdict
	if err := llm.Decode(raw, &verdict); err != nil {
		return CancellationVerdict{}, &types.ExternalServiceError{Service: "completion", Err: err}
	}
	if verdict.IsCancelled {
		g.logger.Info("load cancelled by broker", zap.String("proof", verdict.Proof))
	}
	return verdict, nil
}

package guard

import (
	"context"

	"go.uber.org/zap"

	"loadpilot/internal/llm"
	"loadpilot/internal/types"
)

// GateDecision says what to do with a broker message during the
// info-gathering phase.
type GateDecision string

const (
	// DecisionNoReply drops the message silently (acknowledgments, noise).
	DecisionNoReply GateDecision = "no_reply"
	// DecisionReply continues the automated exchange.
	DecisionReply GateDecision = "reply"
	// DecisionEscalate hands the thread to a human: the broker asked
	// something only a dispatcher can answer.
	DecisionEscalate GateDecision = "escalate"
)

const necessitySystemPrompt = `You triage broker emails for an automated freight dispatcher. Decide whether the latest broker message needs an answer.

Decide "no_reply" for pure acknowledgments and pleasantries that contain no new request and no new load information ("thanks", "got it", "sounds good", "ok").

Decide "escalate" when the broker asks something the automation cannot answer: driver name or phone number, truck's current location, ETA, MC/DOT paperwork beyond what was already shared, insurance certificates, or anything requiring a human commitment. List each such question verbatim.

Decide "reply" for everything else: the broker provided load details, asked about the load or the offer, or the exchange should simply continue.`

var necessitySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"decision":  map[string]any{"type": "string", "enum": []string{"no_reply", "reply", "escalate"}},
		"questions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"decision"},
}

// GateVerdict carries the triage decision. Questions holds the broker's
// unanswerable questions when the decision is escalate.
type GateVerdict struct {
	Decision  GateDecision `json:"decision"`
	Questions []string     `json:"questions"`
}

// ReplyNecessityGate triages info-phase broker messages so the automation
// neither answers noise nor bluffs through questions it cannot answer.
type ReplyNecessityGate struct {
	client llm.Client
	logger *zap.Logger
}

func NewReplyNecessityGate(client llm.Client, logger *zap.Logger) *ReplyNecessityGate {
	return &ReplyNecessityGate{client: client, logger: logger}
}

func (g *ReplyNecessityGate) Check(ctx context.Context, content string, history []types.Message) (GateVerdict, error) {
	prompt := "CONVERSATION SO FAR:\n"
	for _, m := range history {
		role := "Broker"
		if m.Role == types.RoleDispatcher {
			role = "Dispatcher"
		}
		prompt += role + ": " + m.Body + "\n"
	}
	prompt += "\nLATEST BROKER MESSAGE:\n" + content

	raw, err := g.client.Complete(ctx, llm.Request{
		System:      necessitySystemPrompt,
		Prompt:      prompt,
		Schema:      necessitySchema,
		Temperature: 0,
	})
	if err != nil {
		return GateVerdict{}, &types.ExternalServiceError{Service: "completion", Err: err}
	}

	var verdict GateVerdict
	if err := llm.Decode(raw, &verdict); err != nil {
		return GateVerdict{}, &types.ExternalServiceError{Service: "completion", Err: err}
	}

	switch verdict.Decision {
	case DecisionNoReply, DecisionReply, DecisionEscalate:
	default:
		// An unrecognized decision falls back to replying rather than
		// dropping a broker message on the floor.
		g.logger.Warn("gate returned unknown decision", zap.String("decision", string(verdict.Decision)))
		verdict.Decision = DecisionReply
	}
	if verdict.Decision == DecisionEscalate {
		g.logger.Info("escalating thread to human dispatcher",
			zap.Strings("questions", verdict.Questions))
	}
	return verdict, nil
}

// Package draft produces outgoing email text and quality-checks it before
// anything is sent, retrying a bounded number of times on judge feedback.
package draft

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"loadpilot/internal/llm"
	"loadpilot/internal/types"
)

const drafterSystemPrompt = `You write short professional emails on behalf of a truck dispatcher negotiating freight with brokers.

Rules:
- Plain text, no markdown, no subject line, no signature block beyond the dispatcher's name and company.
- Two to five sentences. Brokers skim; get to the point.
- Never invent load details, rates, or commitments not present in the instruction.
- Never mention automation, AI, or internal systems.
- Match the tone of a busy but courteous dispatcher.`

// Instruction tells the drafter what the email must accomplish.
type Instruction struct {
	// Goal is the single thing this email must do, e.g. "ask for the
	// missing fields" or "offer $1800 for the load".
	Goal string
	// Context carries the load facts and conversation the drafter may use.
	Context string
	// Company identifies the sender.
	Company types.CompanyProfile
}

// Drafter writes one candidate email per call.
type Drafter struct {
	client llm.Client
	logger *zap.Logger
}

func NewDrafter(client llm.Client, logger *zap.Logger) *Drafter {
	return &Drafter{client: client, logger: logger}
}

// Draft produces a candidate email body. Feedback from a prior rejected
// attempt, when present, is given to the model to correct.
func (d *Drafter) Draft(ctx context.Context, inst Instruction, feedback string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are writing as %s of %s (MC# %s).\n\n", "the dispatcher", inst.Company.Name, inst.Company.MCNumber)
	fmt.Fprintf(&b, "GOAL OF THIS EMAIL:\n%s\n\n", inst.Goal)
	fmt.Fprintf(&b, "FACTS YOU MAY USE:\n%s\n", inst.Context)
	if feedback != "" {
		fmt.Fprintf(&b, "\nYOUR PREVIOUS DRAFT WAS REJECTED. Fix this:\n%s\n", feedback)
	}
	b.WriteString("\nWrite only the email body.")

	body, err := d.client.Complete(ctx, llm.Request{
		System:      drafterSystemPrompt,
		Prompt:      b.String(),
		Temperature: 0.7,
	})
	if err != nil {
		return "", &types.ExternalServiceError{Service: "completion", Err: err}
	}
	return strings.TrimSpace(body), nil
}

package draft

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loadpilot/internal/llm"
	"loadpilot/internal/types"
)

type mockClient struct {
	CompleteFunc func(ctx context.Context, req llm.Request) (string, error)
}

func (m *mockClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	return m.CompleteFunc(ctx, req)
}

var testInstruction = Instruction{
	Goal:    "offer $1800 for the load",
	Context: "Ottawa, IL to Millwood, WV, 42000 lbs steel coils",
	Company: types.CompanyProfile{Name: "Apex Logistics", MCNumber: "123456"},
}

func TestWriter(t *testing.T) {
	t.Run("first draft approved", func(t *testing.T) {
		client := &mockClient{CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
			if req.Schema != nil { // judge call
				return `{"approved": true}`, nil
			}
			return "We can do this load for $1800. Let me know.", nil
		}}
		w := NewWriter(NewDrafter(client, zap.NewNop()), NewJudge(client, zap.NewNop()), 3, zap.NewNop())

		body, attempts, err := w.Write(context.Background(), testInstruction)
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)
		assert.Contains(t, body, "$1800")
	})

	t.Run("feedback reaches the retry", func(t *testing.T) {
		drafts := 0
		client := &mockClient{CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
			if req.Schema != nil {
				if drafts == 1 {
					return `{"approved": false, "feedback": "wrong rate, it must be 1800"}`, nil
				}
				return `{"approved": true}`, nil
			}
			drafts++
			if drafts > 1 {
				assert.Contains(t, req.Prompt, "wrong rate, it must be 1800")
			}
			return fmt.Sprintf("draft number %d", drafts), nil
		}}
		w := NewWriter(NewDrafter(client, zap.NewNop()), NewJudge(client, zap.NewNop()), 3, zap.NewNop())

		body, attempts, err := w.Write(context.Background(), testInstruction)
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.Equal(t, "draft number 2", body)
	})

	t.Run("always-rejecting judge terminates at the budget", func(t *testing.T) {
		drafts := 0
		client := &mockClient{CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
			if req.Schema != nil {
				return `{"approved": false, "feedback": "no"}`, nil
			}
			drafts++
			return "another try", nil
		}}
		w := NewWriter(NewDrafter(client, zap.NewNop()), NewJudge(client, zap.NewNop()), 3, zap.NewNop())

		body, attempts, err := w.Write(context.Background(), testInstruction)
		require.ErrorIs(t, err, ErrExhausted)
		assert.Empty(t, body)
		assert.Equal(t, 4, attempts, "one initial attempt plus three retries")
		assert.Equal(t, 4, drafts)
	})

	t.Run("draft failure surfaces immediately", func(t *testing.T) {
		client := &mockClient{CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
			return "", fmt.Errorf("quota exceeded")
		}}
		w := NewWriter(NewDrafter(client, zap.NewNop()), NewJudge(client, zap.NewNop()), 3, zap.NewNop())

		_, _, err := w.Write(context.Background(), testInstruction)
		var ext *types.ExternalServiceError
		require.ErrorAs(t, err, &ext)
	})
}

func TestDrafterPrompt(t *testing.T) {
	client := &mockClient{CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
		assert.Contains(t, req.Prompt, "Apex Logistics")
		assert.Contains(t, req.Prompt, "offer $1800")
		assert.False(t, strings.Contains(req.Prompt, "PREVIOUS DRAFT"), "no feedback section on first attempt")
		return "body", nil
	}}
	d := NewDrafter(client, zap.NewNop())
	_, err := d.Draft(context.Background(), testInstruction, "")
	require.NoError(t, err)
}

package requirements

import (
	"context"
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

var truck = types.TruckProfile{
	MaxWeightPounds:      45000,
	MaxLengthFeet:        53,
	PermittedCommodities: []string{"automotive", "dry goods"},
	SecurityFeatures:     []string{"straps", "e-track"},
}

func okClient() *mockClient {
	return &mockClient{CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
		return `{"ok": true}`, nil
	}}
}

func TestChecker(t *testing.T) {
	t.Run("compliant load yields no warnings", func(t *testing.T) {
		load := &types.LoadRecord{Details: types.LoadDetails{
			WeightPounds: 40000,
			LengthFeet:   48,
			Commodity:    "auto parts",
			SpecialNotes: "No special handling",
		}}
		warnings, err := NewChecker(okClient(), zap.NewNop()).Check(context.Background(), load, truck)
		require.NoError(t, err)
		assert.Empty(t, warnings)
	})

	t.Run("overweight and overlength both warned", func(t *testing.T) {
		load := &types.LoadRecord{Details: types.LoadDetails{
			WeightPounds: 48000,
			LengthFeet:   60,
		}}
		warnings, err := NewChecker(okClient(), zap.NewNop()).Check(context.Background(), load, truck)
		require.NoError(t, err)
		require.Len(t, warnings, 2)
	})

	t.Run("forbidden commodity warned", func(t *testing.T) {
		client := &mockClient{CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
			if strings.Contains(req.Prompt, "COMMODITY:") {
				return `{"ok": false, "reason": "hazmat not in permitted categories"}`, nil
			}
			return `{"ok": true}`, nil
		}}
		load := &types.LoadRecord{Details: types.LoadDetails{Commodity: "class 8 hazmat"}}
		warnings, err := NewChecker(client, zap.NewNop()).Check(context.Background(), load, truck)
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "hazmat")
	})

	t.Run("unmet special requirements warned", func(t *testing.T) {
		client := &mockClient{CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
			return `{"ok": false, "reason": "no tarps on truck"}`, nil
		}}
		load := &types.LoadRecord{Details: types.LoadDetails{SpecialNotes: "tarps required"}}
		warnings, err := NewChecker(client, zap.NewNop()).Check(context.Background(), load, truck)
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "tarps")
	})

	t.Run("no special handling skips the semantic check", func(t *testing.T) {
		calls := 0
		client := &mockClient{CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
			calls++
			return `{"ok": true}`, nil
		}}
		load := &types.LoadRecord{Details: types.LoadDetails{SpecialNotes: "No special handling"}}
		_, err := NewChecker(client, zap.NewNop()).Check(context.Background(), load, truck)
		require.NoError(t, err)
		assert.Zero(t, calls)
	})
}

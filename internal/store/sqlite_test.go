package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadpilot/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "loads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedLoad() *types.LoadRecord {
	return &types.LoadRecord{
		ID:          "L-100",
		Origin:      "Ottawa, IL",
		Destination: "Millwood, WV",
		State:       types.LoadStateActive,
		Status:      types.StatusNotStarted,
		Rate:        types.RateInfo{MinimumRate: 1500, MaximumRate: 1900},
	}
}

func TestLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutLoad(ctx, seedLoad()))

	got, err := s.GetLoad(ctx, "L-100")
	require.NoError(t, err)
	assert.Equal(t, "Ottawa, IL", got.Origin)
	assert.Equal(t, types.StatusNotStarted, got.Status)

	_, err = s.GetLoad(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrLoadNotFound)
}

func TestApplyFieldUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutLoad(ctx, seedLoad()))

	t.Run("valid set persists", func(t *testing.T) {
		updates := types.NewUpdateSet()
		updates.Set(types.PathWeight, 42000)
		updates.Set(types.PathStatus, types.StatusGatheringInfo)

		got, err := s.ApplyFieldUpdates(ctx, "L-100", updates)
		require.NoError(t, err)
		assert.Equal(t, 42000, got.Details.WeightPounds)

		reread, err := s.GetLoad(ctx, "L-100")
		require.NoError(t, err)
		assert.Equal(t, types.StatusGatheringInfo, reread.Status)
	})

	t.Run("one bad update rejects the whole set", func(t *testing.T) {
		updates := types.NewUpdateSet()
		updates.Set(types.PathCommodity, "steel coils")
		updates.Set(types.PathWeight, "not a number")

		_, err := s.ApplyFieldUpdates(ctx, "L-100", updates)
		require.Error(t, err)

		got, err := s.GetLoad(ctx, "L-100")
		require.NoError(t, err)
		assert.Empty(t, got.Details.Commodity, "rejected set must not partially apply")
	})
}

func TestOfferHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutLoad(ctx, seedLoad()))

	require.NoError(t, s.AppendOffer(ctx, "L-100", types.BidOffer{Amount: 1800, Offerer: types.OffererDispatcher}))
	require.NoError(t, s.AppendOffer(ctx, "L-100", types.BidOffer{Amount: 1500, Offerer: types.OffererBroker}))

	got, err := s.GetLoad(ctx, "L-100")
	require.NoError(t, err)
	require.Len(t, got.Offers, 2)
	assert.Equal(t, 1800.0, got.Offers[0].Amount)
	assert.Equal(t, types.OffererBroker, got.Offers[1].Offerer)
}

func TestConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.AppendMessage(ctx, types.Message{
		ThreadID: "T-1", Role: types.RoleDispatcher, Body: "what's the weight?", SentAt: base,
	}))
	require.NoError(t, s.AppendMessage(ctx, types.Message{
		ThreadID: "T-1", Role: types.RoleBroker, Body: "40k", SentAt: base.Add(time.Minute),
	}))
	require.NoError(t, s.AppendMessage(ctx, types.Message{
		ThreadID: "T-2", Role: types.RoleBroker, Body: "other thread", SentAt: base,
	}))

	msgs, err := s.Conversation(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "what's the weight?", msgs[0].Body)
	assert.Equal(t, types.RoleBroker, msgs[1].Role)
	assert.NotEmpty(t, msgs[0].ID, "ids are assigned on append")
}

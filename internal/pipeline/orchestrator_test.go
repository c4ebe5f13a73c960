package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"loadpilot/internal/delivery"
	"loadpilot/internal/draft"
	"loadpilot/internal/extract"
	"loadpilot/internal/guard"
	"loadpilot/internal/llm"
	"loadpilot/internal/negotiation"
	"loadpilot/internal/requirements"
	"loadpilot/internal/types"
)

func TestMain(m *testing.M) {
	// The genai dependency pulls in opencensus, whose init starts a
	// background stats worker that never exits.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// scriptedClient routes completion calls to canned responses by stage,
// keyed on distinctive fragments of each stage's system prompt.
type scriptedClient struct {
	cancellation string
	extraction   string
	gate         string
	classify     string
	judge        string
	draftBody    string
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		cancellation: `{"is_cancelled": false}`,
		extraction:   `{}`,
		gate:         `{"decision": "reply"}`,
		classify:     `{"classification": "only_question_asked"}`,
		judge:        `{"approved": true}`,
		draftBody:    "Thanks, details below.",
	}
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	switch {
	case strings.Contains(req.System, "load itself is gone"):
		return c.cancellation, nil
	case strings.Contains(req.System, "industry jargon"):
		return c.extraction, nil
	case strings.Contains(req.System, "triage broker emails"):
		return c.gate, nil
	case strings.Contains(req.System, "classify a broker's reply"):
		return c.classify, nil
	case strings.Contains(req.System, "permitted commodity"), strings.Contains(req.System, "special handling requirements"):
		return `{"ok": true}`, nil
	case strings.Contains(req.System, "review a draft"):
		return c.judge, nil
	default: // drafter
		return c.draftBody, nil
	}
}

// memStore is an in-memory Persistence used to observe side effects.
type memStore struct {
	loads    map[string]*types.LoadRecord
	messages []types.Message
}

func newMemStore() *memStore {
	return &memStore{loads: make(map[string]*types.LoadRecord)}
}

func (s *memStore) GetLoad(ctx context.Context, id string) (*types.LoadRecord, error) {
	load, ok := s.loads[id]
	if !ok {
		return nil, types.ErrLoadNotFound
	}
	copied := *load
	return &copied, nil
}

func (s *memStore) PutLoad(ctx context.Context, load *types.LoadRecord) error {
	copied := *load
	s.loads[load.ID] = &copied
	return nil
}

func (s *memStore) ApplyFieldUpdates(ctx context.Context, id string, updates *types.UpdateSet) (*types.LoadRecord, error) {
	load, ok := s.loads[id]
	if !ok {
		return nil, types.ErrLoadNotFound
	}
	if err := updates.Apply(load); err != nil {
		return nil, err
	}
	copied := *load
	return &copied, nil
}

func (s *memStore) AppendOffer(ctx context.Context, loadID string, offer types.BidOffer) error {
	load, ok := s.loads[loadID]
	if !ok {
		return types.ErrLoadNotFound
	}
	load.Offers = append(load.Offers, offer)
	return nil
}

func (s *memStore) Conversation(ctx context.Context, threadID string) ([]types.Message, error) {
	var out []types.Message
	for _, m := range s.messages {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) AppendMessage(ctx context.Context, msg types.Message) error {
	s.messages = append(s.messages, msg)
	return nil
}

func (s *memStore) Close() error { return nil }

type mockSender struct {
	replies []delivery.OutboundEmail
	drafts  []delivery.OutboundEmail
	fail    error
}

func (m *mockSender) SendReply(ctx context.Context, email delivery.OutboundEmail) error {
	if m.fail != nil {
		return m.fail
	}
	m.replies = append(m.replies, email)
	return nil
}

func (m *mockSender) SendDraft(ctx context.Context, email delivery.OutboundEmail) error {
	if m.fail != nil {
		return m.fail
	}
	m.drafts = append(m.drafts, email)
	return nil
}

type fixture struct {
	orch   *Orchestrator
	store  *memStore
	sender *mockSender
	client *scriptedClient
}

func newFixture(t *testing.T, maxRetries int) *fixture {
	t.Helper()
	client := newScriptedClient()
	st := newMemStore()
	sender := &mockSender{}
	logger := zap.NewNop()

	orch := NewOrchestrator(Deps{
		Store:      st,
		Sender:     sender,
		Cancel:     guard.NewCancellationGuard(client, logger),
		Gate:       guard.NewReplyNecessityGate(client, logger),
		Extractor:  extract.NewFieldExtractor(client, logger),
		Classifier: negotiation.NewClassifier(client, logger),
		Checker:    requirements.NewChecker(client, logger),
		Writer: draft.NewWriter(
			draft.NewDrafter(client, logger),
			draft.NewJudge(client, logger),
			maxRetries, logger),
		FallbackPolicy: types.NegotiationPolicy{
			FirstBidThresholdPct:  75,
			SecondBidThresholdPct: 50,
			RoundingUnit:          25,
		},
		Logger: logger,
	})
	return &fixture{orch: orch, store: st, sender: sender, client: client}
}

func request(body string) *types.InboundRequest {
	return &types.InboundRequest{
		ThreadID: "T-1",
		LoadID:   "L-1",
		Truck:    types.TruckProfile{MaxWeightPounds: 45000, MaxLengthFeet: 53},
		Load: types.LoadRecord{
			Origin:      "Ottawa, IL",
			Destination: "Millwood, WV",
			Rate:        types.RateInfo{MinimumRate: 1500, MaximumRate: 1900},
		},
		LatestMessage: types.Message{Role: types.RoleBroker, Body: body, SentAt: time.Now()},
	}
}

func completeDetails() types.LoadDetails {
	return types.LoadDetails{
		Commodity:      "steel coils",
		WeightPounds:   42000,
		LengthFeet:     48,
		PickupWindow:   "07/21 0800",
		DeliveryWindow: "07/23 by 1700",
		SpecialNotes:   "No special handling",
	}
}

func seed(f *fixture, mutate func(*types.LoadRecord)) {
	load := &types.LoadRecord{
		ID:          "L-1",
		Origin:      "Ottawa, IL",
		Destination: "Millwood, WV",
		State:       types.LoadStateActive,
		Status:      types.StatusNotStarted,
		Rate:        types.RateInfo{MinimumRate: 1500, MaximumRate: 1900},
	}
	if mutate != nil {
		mutate(load)
	}
	f.store.loads["L-1"] = load
}

func TestInfoGathering(t *testing.T) {
	f := newFixture(t, 3)
	f.client.extraction = `{"weightPounds": 42000, "commodity": "steel coils"}`

	res, err := f.orch.Process(context.Background(), request("it's 42k of steel coils"))
	require.NoError(t, err)

	assert.Equal(t, types.StatusGatheringInfo, res.Status)
	assert.NotEmpty(t, res.EmailToSend)
	require.Len(t, f.sender.replies, 1, "info requests go out directly, not as drafts")
	assert.Empty(t, f.sender.drafts)

	stored := f.store.loads["L-1"]
	assert.Equal(t, 42000, stored.Details.WeightPounds)
	assert.Equal(t, types.StatusGatheringInfo, stored.Status)
}

func TestFirstBidOffered(t *testing.T) {
	f := newFixture(t, 3)
	seed(f, func(l *types.LoadRecord) {
		l.Status = types.StatusGatheringInfo
		l.Details = completeDetails()
		l.Details.PickupWindow = ""
	})
	f.client.extraction = `{"pickupWindow": "07/21 0800", "offeringRate": 1600}`

	res, err := f.orch.Process(context.Background(), request("pickup is 7/21 8am, we're paying 1600"))
	require.NoError(t, err)

	assert.Equal(t, types.StatusOfferedFirstBid, res.Status)
	require.Len(t, f.sender.drafts, 1, "negotiation emails wait for human review")

	stored := f.store.loads["L-1"]
	assert.True(t, stored.InfoRequestFinished)
	offer, ok := stored.LastOfferBy(types.OffererDispatcher)
	require.True(t, ok)
	assert.Equal(t, 1800.0, offer.Amount, "three quarters of the 1500-1900 range, rounded to 25")
	broker, ok := stored.LastOfferBy(types.OffererBroker)
	require.True(t, ok)
	assert.Equal(t, 1600.0, broker.Amount)
}

func TestBrokerAccepts(t *testing.T) {
	f := newFixture(t, 3)
	seed(f, func(l *types.LoadRecord) {
		l.Status = types.StatusOfferedFirstBid
		l.Details = completeDetails()
		l.Offers = []types.BidOffer{{Amount: 1750, Offerer: types.OffererDispatcher}}
	})
	f.client.classify = `{"classification": "accepted"}`

	res, err := f.orch.Process(context.Background(), request("1750 works, send the RC"))
	require.NoError(t, err)

	assert.Equal(t, types.StatusFirstBidAccepted, res.Status)
	require.Len(t, f.sender.drafts, 1)

	stored := f.store.loads["L-1"]
	assert.Equal(t, 1750.0, stored.Rate.Committed)
	assert.False(t, stored.Processable(), "accepted negotiation is closed to further processing")
}

func TestBrokerRejectsWithCounter(t *testing.T) {
	f := newFixture(t, 3)
	seed(f, func(l *types.LoadRecord) {
		l.Status = types.StatusOfferedFirstBid
		l.Details = completeDetails()
		l.Offers = []types.BidOffer{{Amount: 1800, Offerer: types.OffererDispatcher}}
	})
	f.client.classify = `{"classification": "rejected", "rate": 1500}`

	res, err := f.orch.Process(context.Background(), request("best I can do is 1500"))
	require.NoError(t, err)

	assert.Equal(t, types.StatusOfferedSecondBid, res.Status)
	require.Len(t, f.sender.drafts, 1)

	stored := f.store.loads["L-1"]
	assert.Equal(t, 1500.0, stored.Rate.Current)
	counter, ok := stored.LastOfferBy(types.OffererDispatcher)
	require.True(t, ok)
	assert.Equal(t, 1650.0, counter.Amount, "1500 plus the 150 bracket increment")
}

func TestDeadlockBlocks(t *testing.T) {
	f := newFixture(t, 3)
	seed(f, func(l *types.LoadRecord) {
		l.Status = types.StatusOfferedFirstBid
		l.Details = completeDetails()
		l.Rate = types.RateInfo{MinimumRate: 1500, MaximumRate: 1700}
		l.Offers = []types.BidOffer{{Amount: 1700, Offerer: types.OffererDispatcher}}
	})
	f.client.classify = `{"classification": "rejected", "rate": 1700}`

	res, err := f.orch.Process(context.Background(), request("I'll pay 1700 and not a dollar more"))
	require.NoError(t, err)

	assert.Equal(t, types.StatusBlocked, res.Status)
	assert.Empty(t, res.EmailToSend)
	assert.Empty(t, f.sender.drafts)
}

func TestSecondRejectionTerminates(t *testing.T) {
	f := newFixture(t, 3)
	seed(f, func(l *types.LoadRecord) {
		l.Status = types.StatusOfferedSecondBid
		l.Details = completeDetails()
		l.Offers = []types.BidOffer{{Amount: 1650, Offerer: types.OffererDispatcher}}
	})
	f.client.classify = `{"classification": "rejected"}`

	res, err := f.orch.Process(context.Background(), request("no, pass"))
	require.NoError(t, err)

	assert.Equal(t, types.StatusSecondBidRejected, res.Status)
	assert.Empty(t, res.EmailToSend, "no counter after the second rejection")
	assert.False(t, f.store.loads["L-1"].Processable())
}

func TestCancellation(t *testing.T) {
	f := newFixture(t, 3)
	seed(f, nil)
	f.client.cancellation = `{"is_cancelled": true, "proof": "load covered"}`

	res, err := f.orch.Process(context.Background(), request("load covered, thanks anyway"))
	require.NoError(t, err)

	assert.Equal(t, types.StatusBlocked, res.Status)
	assert.Empty(t, res.EmailToSend)
	stored := f.store.loads["L-1"]
	assert.Equal(t, types.LoadStateCancelled, stored.State)
}

func TestEscalationOnCriticalQuestion(t *testing.T) {
	f := newFixture(t, 3)
	seed(f, nil)
	f.client.gate = `{"decision": "escalate", "questions": ["what's the driver's number?"]}`

	res, err := f.orch.Process(context.Background(), request("what's the driver's number?"))
	require.NoError(t, err)

	assert.Equal(t, types.StatusBlocked, res.Status)
	assert.Empty(t, res.EmailToSend)
	assert.Equal(t, []string{"what's the driver's number?"}, f.store.loads["L-1"].CriticalQuestions)
}

func TestSilentDrop(t *testing.T) {
	f := newFixture(t, 3)
	seed(f, nil)
	f.client.gate = `{"decision": "no_reply"}`

	res, err := f.orch.Process(context.Background(), request("ok thanks!"))
	require.NoError(t, err)

	assert.Empty(t, res.EmailToSend)
	assert.Empty(t, f.sender.replies)
	assert.Empty(t, f.sender.drafts)
	assert.Equal(t, types.StatusNotStarted, res.Status)
}

func TestTerminalReplay(t *testing.T) {
	f := newFixture(t, 3)
	seed(f, func(l *types.LoadRecord) {
		l.Status = types.StatusFirstBidAccepted
	})

	res, err := f.orch.Process(context.Background(), request("1750 works, send the RC"))
	require.NoError(t, err)

	assert.Zero(t, res.FieldUpdates.Len())
	assert.Empty(t, res.EmailToSend)
	assert.Contains(t, res.Message, "already closed")
	assert.Empty(t, f.store.messages, "dropped messages are not recorded")
}

func TestReplayedMessageIsNoOp(t *testing.T) {
	f := newFixture(t, 3)
	f.client.extraction = `{"weightPounds": 42000, "commodity": "steel coils"}`
	req := request("it's 42k of steel coils")

	first, err := f.orch.Process(context.Background(), req)
	require.NoError(t, err)
	require.NotZero(t, first.FieldUpdates.Len())
	require.Len(t, f.sender.replies, 1)
	attempts := f.store.loads["L-1"].DraftAttempts

	second, err := f.orch.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Zero(t, second.FieldUpdates.Len(), "replay must produce no field updates")
	assert.Empty(t, second.EmailToSend)
	assert.Contains(t, second.Message, "already processed")
	assert.Len(t, f.sender.replies, 1, "replay must not send a duplicate email")
	assert.Equal(t, attempts, f.store.loads["L-1"].DraftAttempts)
}

func TestDraftExhaustionBlocks(t *testing.T) {
	f := newFixture(t, 2)
	seed(f, nil)
	f.client.judge = `{"approved": false, "feedback": "no"}`

	res, err := f.orch.Process(context.Background(), request("got a load out of Ottawa"))
	require.NoError(t, err)

	assert.Equal(t, types.StatusBlocked, res.Status)
	assert.Empty(t, res.EmailToSend)
	assert.Equal(t, 3, f.store.loads["L-1"].DraftAttempts, "initial attempt plus two retries")
}

func TestDeliveryFailureLeavesRecordUntouched(t *testing.T) {
	f := newFixture(t, 3)
	seed(f, nil)
	f.sender.fail = fmt.Errorf("smtp relay down")
	f.client.extraction = `{"weightPounds": 42000}`

	_, err := f.orch.Process(context.Background(), request("42k lbs"))
	require.Error(t, err)

	stored := f.store.loads["L-1"]
	assert.Zero(t, stored.Details.WeightPounds, "failed send must not persist updates")
	assert.Equal(t, types.StatusNotStarted, stored.Status)
	assert.Empty(t, f.store.messages)
}

func TestRequirementsWarningHandsOff(t *testing.T) {
	f := newFixture(t, 3)
	seed(f, func(l *types.LoadRecord) {
		l.Status = types.StatusGatheringInfo
		l.Details = completeDetails()
	})
	req := request("that's everything")
	req.Truck = types.TruckProfile{MaxWeightPounds: 40000}
	f.client.extraction = `{"offeringRate": 1600}`

	res, err := f.orch.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, res.EmailToSend)
	stored := f.store.loads["L-1"]
	require.NotEmpty(t, stored.Warnings)
	assert.Contains(t, stored.Warnings[0], "exceeds truck capacity")
	assert.False(t, stored.Processable())
}

func TestValidationRejectsBadRequest(t *testing.T) {
	f := newFixture(t, 3)
	_, err := f.orch.Process(context.Background(), &types.InboundRequest{ThreadID: "T-1"})
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
}

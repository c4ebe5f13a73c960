// Package pipeline is the workflow orchestrator: one invocation handles one
// inbound broker message end to end, from cancellation check through field
// extraction, gating, negotiation, and outbound delivery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"loadpilot/internal/delivery"
	"loadpilot/internal/draft"
	"loadpilot/internal/extract"
	"loadpilot/internal/guard"
	"loadpilot/internal/mail"
	"loadpilot/internal/negotiation"
	"loadpilot/internal/requirements"
	"loadpilot/internal/store"
	"loadpilot/internal/types"
)

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Store      store.Persistence
	Sender     delivery.Sender
	Cancel     *guard.CancellationGuard
	Gate       *guard.ReplyNecessityGate
	Extractor  *extract.FieldExtractor
	Classifier *negotiation.Classifier
	Checker    *requirements.Checker
	Writer     *draft.Writer
	// FallbackPolicy is used when the company profile carries no usable
	// negotiation policy of its own.
	FallbackPolicy types.NegotiationPolicy
	Logger         *zap.Logger
}

// Orchestrator drives the load workflow. Safe for concurrent use;
// invocations for the same thread are serialized internally.
type Orchestrator struct {
	deps    Deps
	threads *keyedMutex
}

func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, threads: newKeyedMutex()}
}

// emailKind selects the delivery channel: informational replies go out
// directly, anything that commits to a rate waits for human review.
type emailKind int

const (
	emailNone emailKind = iota
	emailReply
	emailDraft
)

// plan accumulates the invocation's decisions before any side effect runs.
type plan struct {
	updates *types.UpdateSet
	status  types.NegotiationStatus
	email   string
	kind    emailKind
	offers  []types.BidOffer
	message string
}

// Process handles one inbound broker message and returns the result
// envelope. On error no field updates are applied and no email is sent.
func (o *Orchestrator) Process(ctx context.Context, req *types.InboundRequest) (*types.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := o.threads.Lock(req.ThreadID)
	defer unlock()

	logger := o.deps.Logger.With(
		zap.String("thread_id", req.ThreadID),
		zap.String("load_id", req.LoadID))

	load, err := o.loadRecord(ctx, req)
	if err != nil {
		return nil, err
	}

	if !load.Processable() {
		logger.Info("load not processable, dropping message",
			zap.String("state", string(load.State)),
			zap.String("status", string(load.Status)))
		return &types.Result{
			FieldUpdates: *types.NewUpdateSet(),
			Status:       load.Status,
			Message:      notProcessableReason(load),
		}, nil
	}

	stored, err := o.deps.Store.Conversation(ctx, req.ThreadID)
	if err != nil {
		return nil, err
	}
	if isReplay(stored, req.LatestMessage) {
		logger.Info("message already processed, dropping replay")
		return &types.Result{
			FieldUpdates: *types.NewUpdateSet(),
			Status:       load.Status,
			Message:      "message already processed",
		}, nil
	}

	history := req.ConversationHistory
	if len(history) == 0 {
		history = stored
	}
	content := mail.Content(req.LatestMessage.Subject, req.LatestMessage.Body)

	p, err := o.decide(ctx, req, load, history, content, logger)
	if err != nil {
		return nil, err
	}
	if err := o.commit(ctx, req, p); err != nil {
		return nil, err
	}

	return &types.Result{
		FieldUpdates: *p.updates,
		EmailToSend:  p.email,
		Status:       p.status,
		Message:      p.message,
	}, nil
}

// decide runs the stages and fills in a plan without touching storage or
// delivery.
func (o *Orchestrator) decide(ctx context.Context, req *types.InboundRequest, load *types.LoadRecord, history []types.Message, content string, logger *zap.Logger) (*plan, error) {
	p := &plan{updates: types.NewUpdateSet(), status: load.Status}

	verdict, err := o.deps.Cancel.Check(ctx, content)
	if err != nil {
		return nil, err
	}
	if verdict.IsCancelled {
		p.updates.Set(types.PathState, types.LoadStateCancelled)
		p.updates.Set(types.PathStatus, types.StatusBlocked)
		p.status = types.StatusBlocked
		p.message = "load cancelled by broker: " + verdict.Proof
		return p, nil
	}

	fields, err := o.deps.Extractor.Extract(ctx, content, history)
	if err != nil {
		return nil, err
	}
	fields.Merge(load, p.updates)

	switch load.Status {
	case types.StatusNotStarted, types.StatusGatheringInfo, types.StatusCollectedInfo:
		return p, o.decideInfoPhase(ctx, req, load, history, content, p, logger)
	case types.StatusOfferedFirstBid, types.StatusOfferedSecondBid:
		return p, o.decideNegotiationPhase(ctx, req, load, content, p, logger)
	default:
		return nil, fmt.Errorf("unexpected negotiation status %s", load.Status)
	}
}

func (o *Orchestrator) decideInfoPhase(ctx context.Context, req *types.InboundRequest, load *types.LoadRecord, history []types.Message, content string, p *plan, logger *zap.Logger) error {
	// A rate stated during info gathering is the broker's opening offer.
	if rate, ok := p.updates.Get(types.PathRateCurrent); ok {
		if amount, isFloat := rate.(float64); isFloat {
			p.offers = append(p.offers, types.BidOffer{
				Amount:    amount,
				Offerer:   types.OffererBroker,
				OfferedAt: time.Now().UTC(),
			})
		}
	}

	gate, err := o.deps.Gate.Check(ctx, content, history)
	if err != nil {
		return err
	}
	switch gate.Decision {
	case guard.DecisionNoReply:
		p.message = "no reply needed"
		return nil
	case guard.DecisionEscalate:
		p.updates.Set(types.PathCriticalQuestions, gate.Questions)
		return o.advance(load, p, types.StatusBlocked,
			"broker asked questions requiring a human dispatcher")
	}

	if missing := extract.MissingFields(load); len(missing) > 0 {
		if err := o.advance(load, p, types.StatusGatheringInfo, ""); err != nil {
			return err
		}
		body, err := o.write(ctx, p, draft.Instruction{
			Goal:    "Ask the broker for the load details still missing: " + strings.Join(missing, ", ") + ". Ask for all of them in one email.",
			Context: loadContext(load),
			Company: req.Company,
		}, load)
		if err != nil || body == "" {
			return err
		}
		p.email = body
		p.kind = emailReply
		p.message = "requested missing load details"
		return nil
	}

	// Checklist complete: close out the info phase and move to bidding.
	if err := o.advance(load, p, types.StatusCollectedInfo, ""); err != nil {
		return err
	}
	if !load.InfoRequestFinished {
		p.updates.Set(types.PathInfoRequestFinished, true)
	}

	warnings, err := o.deps.Checker.Check(ctx, load, req.Truck)
	if err != nil {
		return err
	}
	if len(warnings) > 0 {
		p.updates.Set(types.PathWarnings, warnings)
		p.message = "load does not fit the truck, handing off: " + strings.Join(warnings, "; ")
		return nil
	}

	policy := o.policyFor(req.Company)
	ladder, err := negotiation.NewLadder(policy)
	if err != nil || !load.Rate.HasRange() {
		logger.Warn("no usable rate range or policy, staying out of negotiation")
		p.message = "load details collected; no rate range to negotiate"
		return nil
	}
	offer, err := ladder.OfferForStep(negotiation.StepFirstBid, load.Rate)
	if err != nil {
		return err
	}

	body, err := o.write(ctx, p, draft.Instruction{
		Goal:    fmt.Sprintf("Offer $%.0f to haul the load and ask the broker to confirm.", offer),
		Context: loadContext(load),
		Company: req.Company,
	}, load)
	if err != nil || body == "" {
		return err
	}
	if err := o.advance(load, p, types.StatusOfferedFirstBid, ""); err != nil {
		return err
	}
	p.offers = append(p.offers, types.BidOffer{Amount: offer, Offerer: types.OffererDispatcher, OfferedAt: time.Now().UTC()})
	p.email = body
	p.kind = emailDraft
	p.message = fmt.Sprintf("offered $%.0f (first bid)", offer)
	return nil
}

func (o *Orchestrator) decideNegotiationPhase(ctx context.Context, req *types.InboundRequest, load *types.LoadRecord, content string, p *plan, logger *zap.Logger) error {
	lastOffer, ok := load.LastOfferBy(types.OffererDispatcher)
	if !ok {
		return fmt.Errorf("load %s is in %s with no dispatcher offer on record", load.ID, load.Status)
	}

	cls, err := o.deps.Classifier.Classify(ctx, content, lastOffer.Amount)
	if err != nil {
		return err
	}
	if cls.Rate > 0 {
		p.updates.Set(types.PathRateCurrent, cls.Rate)
		p.updates.Set(types.PathRateAIIdentified, true)
		p.offers = append(p.offers, types.BidOffer{Amount: cls.Rate, Offerer: types.OffererBroker, OfferedAt: time.Now().UTC()})
	}

	firstRound := load.Status == types.StatusOfferedFirstBid

	switch cls.Verdict {
	case negotiation.VerdictAccepted:
		body, err := o.write(ctx, p, draft.Instruction{
			Goal:    fmt.Sprintf("Confirm the agreed rate of $%.0f and ask the broker to send the rate confirmation.", lastOffer.Amount),
			Context: loadContext(load),
			Company: req.Company,
		}, load)
		if err != nil || body == "" {
			return err
		}
		accepted := types.StatusFirstBidAccepted
		if !firstRound {
			accepted = types.StatusSecondBidAccepted
		}
		if err := o.advance(load, p, accepted, ""); err != nil {
			return err
		}
		p.updates.Set(types.PathRateCommitted, lastOffer.Amount)
		p.email = body
		p.kind = emailDraft
		p.message = fmt.Sprintf("broker accepted $%.0f", lastOffer.Amount)
		return nil

	case negotiation.VerdictOnlyQuestion:
		body, err := o.write(ctx, p, draft.Instruction{
			Goal:    "Answer the broker's question using only the known load facts. Do not change or restate the offered rate beyond what was already sent.",
			Context: loadContext(load) + "\nOur outstanding offer: $" + fmt.Sprintf("%.0f", lastOffer.Amount),
			Company: req.Company,
		}, load)
		if err != nil || body == "" {
			return err
		}
		p.email = body
		p.kind = emailDraft
		p.message = "answered broker question, offer unchanged"
		return nil

	case negotiation.VerdictRejected:
		if !firstRound {
			if err := o.advance(load, p, types.StatusSecondBidRejected,
				"broker rejected the final offer"); err != nil {
				return err
			}
			return nil
		}
		if err := o.advance(load, p, types.StatusFirstBidRejected, ""); err != nil {
			return err
		}

		counter, err := o.counterOffer(cls.Rate, load, req.Company)
		if err != nil {
			return err
		}
		if negotiation.Deadlocked(cls.Rate, counter) {
			logger.Info("negotiation deadlocked",
				zap.Float64("broker_rate", cls.Rate),
				zap.Float64("next_proposed", counter))
			return o.advance(load, p, types.StatusBlocked,
				fmt.Sprintf("broker's rate $%.0f already meets or beats our next proposal $%.0f", cls.Rate, counter))
		}

		body, err := o.write(ctx, p, draft.Instruction{
			Goal:    fmt.Sprintf("Counter the broker at $%.0f and ask them to confirm.", counter),
			Context: loadContext(load),
			Company: req.Company,
		}, load)
		if err != nil || body == "" {
			return err
		}
		if err := o.advance(load, p, types.StatusOfferedSecondBid, ""); err != nil {
			return err
		}
		p.offers = append(p.offers, types.BidOffer{Amount: counter, Offerer: types.OffererDispatcher, OfferedAt: time.Now().UTC()})
		p.email = body
		p.kind = emailDraft
		p.message = fmt.Sprintf("countered at $%.0f (second bid)", counter)
		return nil
	}
	return fmt.Errorf("unhandled classification %q", cls.Verdict)
}

// counterOffer picks the second bid: a bracket counter to the broker's
// quoted rate when one exists, the policy ladder's second step otherwise.
func (o *Orchestrator) counterOffer(brokerRate float64, load *types.LoadRecord, company types.CompanyProfile) (float64, error) {
	if brokerRate > 0 {
		return negotiation.CounterOffer(brokerRate, load.Rate), nil
	}
	ladder, err := negotiation.NewLadder(o.policyFor(company))
	if err != nil {
		return 0, err
	}
	return ladder.OfferForStep(negotiation.StepSecondBid, load.Rate)
}

// write runs the draft loop and records the attempt count. Exhaustion
// blocks the session instead of sending nothing silently.
func (o *Orchestrator) write(ctx context.Context, p *plan, inst draft.Instruction, load *types.LoadRecord) (string, error) {
	body, attempts, err := o.deps.Writer.Write(ctx, inst)
	p.updates.Set(types.PathDraftAttempts, load.DraftAttempts+attempts)
	if errors.Is(err, draft.ErrExhausted) {
		p.email = ""
		p.kind = emailNone
		if aerr := o.advance(load, p, types.StatusBlocked,
			"no acceptable draft produced, human follow-up required"); aerr != nil {
			return "", aerr
		}
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return body, nil
}

// advance moves the in-memory status, records the field update, and keeps
// the plan's final status in sync. An empty message leaves p.message alone.
func (o *Orchestrator) advance(load *types.LoadRecord, p *plan, to types.NegotiationStatus, message string) error {
	next, err := load.Status.Advance(to)
	if err != nil {
		return err
	}
	if next != load.Status {
		load.Status = next
		p.updates.Set(types.PathStatus, next)
	}
	p.status = next
	if message != "" {
		p.message = message
	}
	return nil
}

// commit performs the plan's side effects: outbound email first, then the
// durable writes. A delivery failure leaves the record untouched so the
// message can be reprocessed.
func (o *Orchestrator) commit(ctx context.Context, req *types.InboundRequest, p *plan) error {
	if p.email != "" {
		email := delivery.OutboundEmail{
			ThreadID: req.ThreadID,
			LoadID:   req.LoadID,
			Subject:  replySubject(req.LatestMessage.Subject),
			Body:     p.email,
		}
		var err error
		if p.kind == emailDraft {
			err = o.deps.Sender.SendDraft(ctx, email)
		} else {
			err = o.deps.Sender.SendReply(ctx, email)
		}
		if err != nil {
			return err
		}
	}

	if p.updates.Len() > 0 {
		if _, err := o.deps.Store.ApplyFieldUpdates(ctx, req.LoadID, p.updates); err != nil {
			return err
		}
	}
	for _, offer := range p.offers {
		if err := o.deps.Store.AppendOffer(ctx, req.LoadID, offer); err != nil {
			return err
		}
	}

	inbound := req.LatestMessage
	inbound.ThreadID = req.ThreadID
	inbound.LoadID = req.LoadID
	inbound.Role = types.RoleBroker
	if err := o.deps.Store.AppendMessage(ctx, inbound); err != nil {
		return err
	}
	if p.email != "" {
		if err := o.deps.Store.AppendMessage(ctx, types.Message{
			ThreadID: req.ThreadID,
			LoadID:   req.LoadID,
			Role:     types.RoleDispatcher,
			Subject:  replySubject(req.LatestMessage.Subject),
			Body:     p.email,
			SentAt:   time.Now().UTC(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// loadRecord fetches the durable record, seeding it from the request on
// first contact.
func (o *Orchestrator) loadRecord(ctx context.Context, req *types.InboundRequest) (*types.LoadRecord, error) {
	load, err := o.deps.Store.GetLoad(ctx, req.LoadID)
	if err == nil {
		return load, nil
	}
	if !errors.Is(err, types.ErrLoadNotFound) {
		return nil, err
	}

	seed := req.Load
	seed.ID = req.LoadID
	if seed.State == "" {
		seed.State = types.LoadStateActive
	}
	if seed.Status == "" {
		seed.Status = types.StatusNotStarted
	}
	if err := o.deps.Store.PutLoad(ctx, &seed); err != nil {
		return nil, err
	}
	return &seed, nil
}

// isReplay reports whether the inbound message is the thread's most recent
// broker message on record, i.e. it has already been processed. Matching is
// by message id when both sides carry one, by body otherwise.
func isReplay(stored []types.Message, latest types.Message) bool {
	for i := len(stored) - 1; i >= 0; i-- {
		if stored[i].Role != types.RoleBroker {
			continue
		}
		if latest.ID != "" && stored[i].ID == latest.ID {
			return true
		}
		return stored[i].Body == latest.Body
	}
	return false
}

func (o *Orchestrator) policyFor(company types.CompanyProfile) types.NegotiationPolicy {
	if company.Policy.Valid() {
		return company.Policy
	}
	return o.deps.FallbackPolicy
}

func notProcessableReason(load *types.LoadRecord) string {
	switch {
	case load.State == types.LoadStateCancelled:
		return "load is cancelled"
	case load.State == types.LoadStateClosed:
		return "load is closed"
	case len(load.Warnings) > 0:
		return "load has unresolved warnings"
	case len(load.CriticalQuestions) > 0:
		return "load has unanswered critical questions"
	default:
		return "negotiation already closed"
	}
}

// loadContext renders the facts a drafter may use. Unknown fields are
// omitted so the model cannot echo placeholders.
func loadContext(load *types.LoadRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lane: %s to %s\n", load.Origin, load.Destination)
	if load.EquipmentType != "" {
		fmt.Fprintf(&b, "Equipment: %s\n", load.EquipmentType)
	}
	if load.ReferenceID != "" {
		fmt.Fprintf(&b, "Reference: %s\n", load.ReferenceID)
	}
	d := load.Details
	if d.Commodity != "" {
		fmt.Fprintf(&b, "Commodity: %s\n", d.Commodity)
	}
	if d.WeightPounds > 0 {
		fmt.Fprintf(&b, "Weight: %d lbs\n", d.WeightPounds)
	}
	if d.LengthFeet > 0 {
		fmt.Fprintf(&b, "Length: %d ft\n", d.LengthFeet)
	}
	if d.PickupWindow != "" {
		fmt.Fprintf(&b, "Pickup: %s\n", d.PickupWindow)
	}
	if d.DeliveryWindow != "" {
		fmt.Fprintf(&b, "Delivery: %s\n", d.DeliveryWindow)
	}
	if d.SpecialNotes != "" {
		fmt.Fprintf(&b, "Special notes: %s\n", d.SpecialNotes)
	}
	return strings.TrimSpace(b.String())
}

func replySubject(subject string) string {
	if subject == "" || strings.HasPrefix(strings.ToUpper(subject), "RE:") {
		return subject
	}
	return "RE: " + subject
}

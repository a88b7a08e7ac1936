// Package orchestrator wires every subsystem together and drives the
// single-threaded replay loop (spec.md §4.13, §5). It replaces the teacher's
// engine.Engine — a goroutine-per-market live bot wired around two
// WebSocket feeds and a risk manager — with one cooperative pop/advance/
// dispatch loop over a dataset materialised up front, run first for the
// strategy under test and then, unchanged, for every TrustGate probe.
package orchestrator

import (
	"fmt"

	"github.com/rs/zerolog"

	"clobbacktest/internal/config"
	"clobbacktest/internal/eventqueue"
	"clobbacktest/internal/feed"
	"clobbacktest/internal/fingerprint"
	"clobbacktest/internal/hermetic"
	"clobbacktest/internal/latency"
	"clobbacktest/internal/ledger"
	"clobbacktest/internal/makergate"
	"clobbacktest/internal/metrics"
	"clobbacktest/internal/oms"
	"clobbacktest/internal/orderbook"
	"clobbacktest/internal/portfolio"
	"clobbacktest/internal/queueposition"
	"clobbacktest/internal/settlement"
	"clobbacktest/internal/simclock"
	"clobbacktest/internal/store"
	"clobbacktest/internal/strategy"
	"clobbacktest/internal/trustgate"
	"clobbacktest/internal/visibility"
	"clobbacktest/pkg/types"
)

// Orchestrator owns the configuration and identity hashes for one run; it
// builds a fresh session for the strategy under test and, afterwards, one
// per TrustGate probe (spec.md §4.13 phases b, e).
type Orchestrator struct {
	cfg    *config.Config
	logger zerolog.Logger

	codeHash    [16]byte
	configHash  [16]byte
	datasetHash [16]byte
}

// New creates an Orchestrator. The three hashes identify the run for
// RunFingerprint/Manifest purposes (spec.md §3, §4.10) and are computed by
// the caller from the built binary, the loaded config bytes, and the
// dataset file, before the hermetic loop starts.
func New(cfg *config.Config, codeHash, configHash, datasetHash [16]byte, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		codeHash:    codeHash,
		configHash:  configHash,
		datasetHash: datasetHash,
	}
}

// Run executes every phase of spec.md §4.13 against strat and returns the
// completed RunArtifact.
func (o *Orchestrator) Run(strat strategy.Strategy, df feed.DataFeed) (*store.RunArtifact, error) {
	events, guard, err := o.loadEvents(df)
	if err != nil {
		return nil, err
	}
	o.logger.Info().Int("events", len(events)).Float64("defect_rate", guard.DefectRate(int64(len(events)))).Msg("dataset loaded")

	main := o.newSession(strat, true)
	if err := main.run(events); err != nil {
		return nil, err
	}
	main.closeAndSettle()

	trustDecision, failureReasons := o.runTrustGate(events, strat)

	artifact := o.buildArtifact(main, trustDecision, failureReasons)
	return artifact, nil
}

// loadEvents runs phase (a)/(b)'s data half: every raw record is normalized
// and pushed through the EventQueue once, so the resulting slice is in
// final causal order and can be replayed byte-identically for the main
// strategy and for every TrustGate probe (spec.md §4.1, §4.13).
func (o *Orchestrator) loadEvents(df feed.DataFeed) ([]types.TimestampedEvent, *feed.IntegrityGuard, error) {
	policy, err := o.buildArrivalPolicy()
	if err != nil {
		return nil, nil, err
	}
	norm := feed.NewNormalizer(policy, 50)

	q := eventqueue.New()
	for {
		rec, ok, err := df.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("orchestrator: read dataset: %w", err)
		}
		if !ok {
			break
		}
		ev, ok, err := norm.Normalize(rec)
		if err != nil {
			return nil, nil, fmt.Errorf("orchestrator: normalize record: %w", err)
		}
		if !ok {
			continue
		}
		if o.cfg.EndTime != 0 && ev.SourceTime > o.cfg.EndTime {
			continue
		}
		if err := q.Push(ev); err != nil {
			return nil, nil, fmt.Errorf("orchestrator: enqueue event: %w", err)
		}
	}

	events := q.DrainUntil(types.Nanos(1<<62 - 1))
	return events, norm.Guard(), nil
}

func (o *Orchestrator) buildArrivalPolicy() (feed.ArrivalPolicy, error) {
	switch o.cfg.ArrivalPolicy {
	case types.ArrivalRecorded:
		return feed.RecordedArrivalPolicy{}, nil
	case types.ArrivalSimulated:
		return feed.SimulatedLatencyPolicy{Sampler: latency.NewSampler(o.cfg.LatencyProfile, o.cfg.Seed)}, nil
	case types.ArrivalUnusable:
		return feed.UnusablePolicy{}, nil
	default:
		return nil, fmt.Errorf("orchestrator: unrecognized arrival_policy %q", o.cfg.ArrivalPolicy)
	}
}

// restingOrder is the orchestrator's own bookkeeping of which of our orders
// sit at which price, supplementing queueposition.Model (whose FIFO queues
// are keyed by order id, not enumerable without one) so dispatch can find
// the order a trade print might be filling.
type restingOrder struct {
	tokenID string
	side    types.Side
}

// session holds every piece of mutable state one full replay (the strategy
// under test, or a single TrustGate probe) owns exclusively, mirroring the
// teacher's marketSlot — one bundle of book/inventory/strategy state — but
// scoped to an entire run instead of one market.
type session struct {
	cfg    *config.Config
	logger zerolog.Logger

	clock      *simclock.Clock
	watermark  *visibility.Watermark
	books      *orderbook.Manager
	queueModel *queueposition.Model
	sampler    *latency.Sampler
	omsMgr     *oms.Manager
	gate       *makergate.Gate
	ledgerL    *ledger.Ledger
	portfolioP *portfolio.Portfolio
	windowAcct *portfolio.WindowAccounting
	settleEng  *settlement.Engine
	hermeticE  *hermetic.Enforcer
	strat      strategy.Strategy

	resting         map[string]restingOrder // orderID -> (tokenID, side)
	restingAtPrice  map[string]map[types.Tick][]string
	settlementTicks map[string][]settlement.ReferenceTick
	entrySeq        int

	// fingerprinting state; nil for TrustGate probe sessions, which must
	// not perturb the main run's RunFingerprint.
	registry *fingerprint.Registry
	encoder  *fingerprint.Encoder
	streams  map[string]*fingerprint.StreamHash
	behavior *fingerprint.BehaviorHash
	metrics  *metrics.Collector

	lastCrossed map[string]bool
}

func (o *Orchestrator) newSession(strat strategy.Strategy, withFingerprint bool) *session {
	s := &session{
		cfg:             o.cfg,
		logger:          o.logger,
		clock:           simclock.New(o.cfg.StartTime),
		watermark:       visibility.New(o.cfg.AccountingMode, 256),
		books:           orderbook.NewManager(),
		queueModel:      queueposition.New(),
		sampler:         latency.NewSampler(o.cfg.LatencyProfile, o.cfg.Seed),
		omsMgr:          oms.NewManager(o.buildVenueConstraints(), o.buildFeeModel()),
		gate:            makergate.New(o.buildGateConfig()),
		ledgerL:         ledger.New(o.cfg.AccountingMode),
		portfolioP:      portfolio.New(o.cfg.InitialBankroll),
		windowAcct:      portfolio.NewWindowAccounting(),
		settleEng:       settlement.New(),
		hermeticE:       hermetic.New(),
		strat:           strat,
		resting:         make(map[string]restingOrder),
		restingAtPrice:  make(map[string]map[types.Tick][]string),
		settlementTicks: make(map[string][]settlement.ReferenceTick),
		lastCrossed:     make(map[string]bool),
	}
	if withFingerprint {
		s.registry = fingerprint.NewRegistry()
		s.encoder = fingerprint.NewEncoder(s.registry)
		s.streams = map[string]*fingerprint.StreamHash{
			"book":       fingerprint.NewStreamHash("book"),
			"trades":     fingerprint.NewStreamHash("trades"),
			"orders":     fingerprint.NewStreamHash("orders"),
			"fills":      fingerprint.NewStreamHash("fills"),
			"ledger":     fingerprint.NewStreamHash("ledger"),
			"settlement": fingerprint.NewStreamHash("settlement"),
		}
		s.behavior = fingerprint.NewBehaviorHash()
		s.metrics = metrics.New(o.cfg.Metrics.AdverseSelectionWindowNs)
	}
	s.hermeticE.Arm()
	return s
}

func (o *Orchestrator) buildVenueConstraints() oms.VenueConstraints {
	return oms.VenueConstraints{
		TickSize:      o.cfg.Venue.TickSize,
		MinSize:       o.cfg.Venue.MinSize,
		SelfTradeMode: o.cfg.Venue.SelfTradeMode,
		RateLimitPerS: o.cfg.Venue.RateLimitPerS,
	}
}

func (o *Orchestrator) buildFeeModel() oms.FeeModel {
	return oms.FeeModel{MakerRebateBps: o.cfg.Venue.MakerRebateBps, TakerFeeBps: o.cfg.Venue.TakerFeeBps}
}

func (o *Orchestrator) buildGateConfig() makergate.Config {
	return makergate.Config{
		MinSize:             o.cfg.Venue.MinSize,
		CancelLatencyMargin: o.cfg.Venue.CancelLatencyMarginNs,
		MinDepthLevels:      1,
	}
}

// run drives phase (c): the pop/advance/dispatch loop over a pre-sorted
// event slice (spec.md §4.13 literal loop body).
func (s *session) run(events []types.TimestampedEvent) error {
	for _, ev := range events {
		if err := s.clock.AdvanceTo(ev.ArrivalTime); err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
		s.watermark.Advance(ev.ArrivalTime)
		if err := s.dispatch(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) dispatch(ev types.TimestampedEvent) error {
	switch {
	case ev.Payload.Snapshot != nil:
		return s.handleSnapshot(ev)
	case ev.Payload.Delta != nil:
		return s.handleDelta(ev)
	case ev.Payload.Trade != nil:
		return s.handleTrade(ev)
	case ev.Payload.Settlement != nil:
		s.handleSettlement(ev)
		return nil
	case ev.Payload.Timer != nil:
		return s.handleTimer(ev)
	}
	return nil
}

// absorbBook folds the book's touch and top-5 depth into the "book" stream
// hash, a no-op for unfingerprinted TrustGate-probe sessions.
func (s *session) absorbBook(tokenID string, book *orderbook.Book) {
	if s.streams == nil {
		return
	}
	bids, asks := book.DepthAtLevels(5)
	s.encoder.Reset()
	s.encoder.PutString(tokenID)
	s.encoder.PutInt64(book.LastSeq())
	for _, l := range bids {
		s.encoder.PutInt32(int32(l.Price))
		s.encoder.PutInt64(int64(l.Size))
	}
	for _, l := range asks {
		s.encoder.PutInt32(int32(l.Price))
		s.encoder.PutInt64(int64(l.Size))
	}
	s.streams["book"].Absorb(s.encoder.Bytes())
}

func (s *session) handleSnapshot(ev types.TimestampedEvent) error {
	p := ev.Payload.Snapshot
	book := s.books.Book(p.TokenID)
	book.ApplySnapshot(p.Bids, p.Asks, p.Seq, ev.ArrivalTime)
	s.absorbBook(p.TokenID, book)
	s.materializeArrivals(ev)
	return s.decide(ev, p.TokenID, book, func(ctx strategy.DecisionContext) []strategy.StrategyAction {
		return s.strat.OnBook(ctx)
	})
}

func (s *session) handleDelta(ev types.TimestampedEvent) error {
	p := ev.Payload.Delta
	book := s.books.Book(p.TokenID)
	res := book.ApplyDelta(p.BidUpdates, p.AskUpdates, p.Seq, ev.ArrivalTime)
	if res.Gap {
		s.logger.Warn().Str("token", p.TokenID).Int64("seq", p.Seq).Msg("sequence gap")
	}
	if res.Crossed && !s.lastCrossed[p.TokenID] {
		s.logger.Warn().Str("token", p.TokenID).Msg("book crossed")
	}
	s.lastCrossed[p.TokenID] = res.Crossed
	s.absorbBook(p.TokenID, book)
	s.materializeArrivals(ev)
	return s.decide(ev, p.TokenID, book, func(ctx strategy.DecisionContext) []strategy.StrategyAction {
		return s.strat.OnBook(ctx)
	})
}

// materializeArrivals promotes any of our in-flight orders whose latency has
// elapsed into the visible FIFO queue (spec.md §4.5 process_arrivals),
// acknowledges them in the OMS now that they are resting at the venue, and
// notifies the strategy so it can react to its own order reaching the book.
func (s *session) materializeArrivals(ev types.TimestampedEvent) {
	now := ev.ArrivalTime
	for _, orderID := range s.queueModel.ProcessArrivals(now) {
		if err := s.omsMgr.Acknowledge(orderID); err != nil {
			s.logger.Warn().Err(err).Str("order", orderID).Msg("acknowledge failed")
			continue
		}
		o, ok := s.omsMgr.Order(orderID)
		if !ok {
			continue
		}
		s.trackResting(orderID, o.TokenID, o.Side, o.Price)

		ctx := strategy.DecisionContext{
			DecisionTime: now,
			TokenID:      o.TokenID,
			Book:         s.books.Book(o.TokenID),
			Inventory:    s.portfolioP.Size(o.TokenID),
		}
		actions := s.strat.OnAck(ctx, orderID)
		s.recordDecision(o.TokenID, now, actions)
		s.executeActions(ev, o.TokenID, actions)
	}
}

func (s *session) trackResting(orderID, tokenID string, side types.Side, price types.Tick) {
	s.resting[orderID] = restingOrder{tokenID: tokenID, side: side}
	byPrice, ok := s.restingAtPrice[tokenID]
	if !ok {
		byPrice = make(map[types.Tick][]string)
		s.restingAtPrice[tokenID] = byPrice
	}
	byPrice[price] = append(byPrice[price], orderID)
}

func (s *session) untrackResting(orderID string) {
	r, ok := s.resting[orderID]
	if !ok {
		return
	}
	delete(s.resting, orderID)
	byPrice := s.restingAtPrice[r.tokenID]
	for price, ids := range byPrice {
		for i, id := range ids {
			if id == orderID {
				byPrice[price] = append(ids[:i], ids[i+1:]...)
				return
			}
		}
	}
}

func (s *session) handleTrade(ev types.TimestampedEvent) error {
	p := ev.Payload.Trade
	book := s.books.Book(p.TokenID)
	s.materializeArrivals(ev)

	if s.streams != nil {
		s.encoder.Reset()
		s.encoder.PutString(p.TokenID)
		s.encoder.PutInt32(int32(p.Price))
		s.encoder.PutInt64(int64(p.Size))
		s.encoder.PutUint8(sideCode(p.Side))
		s.streams["trades"].Absorb(s.encoder.Bytes())
	}

	restingSide := p.Side.Opposite()
	ids := s.restingAtPrice[p.TokenID][p.Price]
	var ours []string
	for _, id := range ids {
		if r, ok := s.resting[id]; ok && r.side == restingSide {
			ours = append(ours, id)
		}
	}
	if len(ours) == 0 {
		return s.decide(ev, p.TokenID, book, func(ctx strategy.DecisionContext) []strategy.StrategyAction {
			return s.strat.OnTrade(ctx, *p)
		})
	}

	// Only the first resting order of ours at the level is adjudicated
	// against this print: MakerFillGate.Evaluate consumes the whole trade's
	// volume from the shared FIFO in one call, so additional orders of ours
	// at the same price/side are resolved by subsequent trade prints instead
	// of this one (spec.md §4.5 Queue FIFO property covers single-order
	// contention; the literal test scenarios never stack more than one).
	orderID := ours[0]
	decision := s.gate.Evaluate(book, s.queueModel, p.TokenID, orderID, p.Price, p.Size, ev.ArrivalTime, false)
	switch {
	case decision.Admitted:
		if err := s.applyFill(ev, orderID, p.TokenID, p.Price, decision.Filled); err != nil {
			return err
		}
		o, _ := s.omsMgr.Order(orderID)
		if o == nil || o.Remaining() == 0 {
			s.untrackResting(orderID)
		}
	case decision.Reason != "":
		s.logger.Debug().Str("order", orderID).Str("reason", string(decision.Reason)).Msg("maker fill gate rejected")
	default:
		// The cancel won the race: the order is gone from the queue; mirror
		// that into the OMS and our own bookkeeping.
		if err := s.omsMgr.AckCancel(orderID); err == nil {
			s.queueModel.CancelAcknowledged(orderID)
		}
		s.untrackResting(orderID)
	}

	return s.decide(ev, p.TokenID, book, func(ctx strategy.DecisionContext) []strategy.StrategyAction {
		return s.strat.OnTrade(ctx, *p)
	})
}

func (s *session) applyFill(ev types.TimestampedEvent, orderID, tokenID string, price types.Tick, filled types.Size) error {
	o, ok := s.omsMgr.Order(orderID)
	if !ok {
		return fmt.Errorf("orchestrator: fill for unknown order %s", orderID)
	}
	fee, err := s.omsMgr.Fill(orderID, filled, price, true)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	priceFP := types.AmountFP(int64(price) * types.AmountScale / 100)
	s.portfolioP.ApplyFill(tokenID, o.Side, priceFP, filled, fee)

	if err := s.postFillLedgerEntry(ev, tokenID, o.Side, priceFP, filled, fee); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordFill(ev.ArrivalTime, o.Side)
		if mid, ok := s.books.Book(tokenID).MidTimesTwo(); ok {
			deltaTicks := float64(int64(price)) - float64(mid)/2
			s.metrics.ObserveFillAttribution(true, deltaTicks)
		}
	}
	if s.streams != nil {
		s.encoder.Reset()
		s.encoder.PutStringRaw(orderID)
		s.encoder.PutInt64(int64(filled))
		s.encoder.PutInt32(int32(price))
		s.streams["fills"].Absorb(s.encoder.Bytes())
	}

	ctx := strategy.DecisionContext{DecisionTime: ev.ArrivalTime, TokenID: tokenID, Book: s.books.Book(tokenID), Inventory: s.portfolioP.Size(tokenID)}
	s.recordDecision(tokenID, ctx.DecisionTime, s.strat.OnFill(ctx, orderID, o.Side, price, filled))
	return nil
}

// postFillLedgerEntry posts the double-entry fill: cash moves opposite the
// position, plus a fee/rebate leg, summing to zero (spec.md §4.9).
func (s *session) postFillLedgerEntry(ev types.TimestampedEvent, tokenID string, side types.Side, priceFP types.AmountFP, size types.Size, fee types.AmountFP) error {
	notional := types.AmountFP(int64(priceFP) * int64(size) / types.AmountScale)
	cashDelta := -notional
	if side == types.Sell {
		cashDelta = notional
	}
	s.entrySeq++
	entry := ledger.Entry{
		ID: fmt.Sprintf("fill-%d", s.entrySeq),
		Ts: ev.ArrivalTime,
		Postings: []ledger.Posting{
			{Account: ledger.AccountCash, Amount: cashDelta - fee},
			{Account: ledger.PositionAccount(tokenID, side), Amount: -cashDelta},
			{Account: ledger.AccountFees, Amount: fee},
		},
		Meta: "fill",
	}
	if err := s.ledgerL.Append(entry); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if s.streams != nil {
		s.encoder.Reset()
		s.encoder.PutStringRaw(entry.ID)
		s.encoder.PutInt64(int64(entry.Sum()))
		s.streams["ledger"].Absorb(s.encoder.Bytes())
	}
	return nil
}

func (s *session) handleSettlement(ev types.TimestampedEvent) {
	p := ev.Payload.Settlement
	s.settlementTicks[p.FeedID] = append(s.settlementTicks[p.FeedID], settlement.ReferenceTick{
		Answer:      p.Answer,
		SourceTime:  ev.SourceTime,
		ArrivalTime: ev.ArrivalTime,
	})
	if s.streams != nil {
		s.encoder.Reset()
		s.encoder.PutString(p.FeedID)
		s.encoder.PutInt32(int32(p.Answer))
		s.streams["settlement"].Absorb(s.encoder.Bytes())
	}
}

func (s *session) handleTimer(ev types.TimestampedEvent) error {
	p := ev.Payload.Timer
	for _, tokenID := range s.books.Tokens() {
		ctx := strategy.DecisionContext{DecisionTime: ev.ArrivalTime, TokenID: tokenID, Book: s.books.Book(tokenID), Inventory: s.portfolioP.Size(tokenID)}
		s.recordDecision(tokenID, ctx.DecisionTime, s.strat.OnTimer(ctx, p.Kind))
	}
	return nil
}

// decide builds the DecisionContext, checks the VisibilityWatermark, invokes
// fn, and executes any resulting StrategyAction (spec.md §4.4, §9).
func (s *session) decide(ev types.TimestampedEvent, tokenID string, book *orderbook.Book, fn func(strategy.DecisionContext) []strategy.StrategyAction) error {
	decisionID := fmt.Sprintf("%s-%d", tokenID, ev.Seq)
	if err := s.watermark.CheckRead(decisionID, ev.ArrivalTime); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	ctx := strategy.DecisionContext{
		DecisionTime: ev.ArrivalTime,
		TokenID:      tokenID,
		Book:         book,
		Inventory:    s.portfolioP.Size(tokenID),
	}
	actions := fn(ctx)
	s.watermark.RecordProof(visibility.DecisionProof{
		DecisionID:   decisionID,
		DecisionTime: ev.ArrivalTime,
		MarketID:     tokenID,
	})
	s.recordDecision(tokenID, ev.ArrivalTime, actions)
	return s.executeActions(ev, tokenID, actions)
}

func (s *session) recordDecision(tokenID string, at types.Nanos, actions []strategy.StrategyAction) {
	if s.behavior == nil {
		return
	}
	s.encoder.Reset()
	s.encoder.PutString(tokenID)
	s.encoder.PutInt64(int64(at))
	for _, a := range actions {
		s.encoder.PutUint8(uint8(a.Kind))
		s.encoder.PutInt32(int32(a.Price))
		s.encoder.PutInt64(int64(a.Size))
	}
	s.behavior.Absorb(s.encoder.Bytes())
}

func (s *session) executeActions(ev types.TimestampedEvent, tokenID string, actions []strategy.StrategyAction) error {
	book := s.books.Book(tokenID)
	for _, a := range actions {
		switch a.Kind {
		case strategy.ActionPlaceOrder:
			s.placeOrder(ev, tokenID, book, a)
		case strategy.ActionCancelOrder:
			s.cancelOrder(ev, a.OrderID)
		}
	}
	return nil
}

func (s *session) placeOrder(ev types.TimestampedEvent, tokenID string, book *orderbook.Book, a strategy.StrategyAction) {
	bestOpposite, bestOppositeOK := book.BestAsk()
	if a.Side == types.Sell {
		bestOpposite, bestOppositeOK = book.BestBid()
	}
	orderID := fmt.Sprintf("ord-%s-%d", tokenID, ev.Seq)
	order := oms.Order{
		ID:       orderID,
		TokenID:  tokenID,
		ClientID: a.ClientID,
		Side:     a.Side,
		Price:    a.Price,
		Size:     a.Size,
		PostOnly: a.PostOnly,
		SentAt:   ev.ArrivalTime,
	}
	reason, ok := s.omsMgr.Submit(order, ev.ArrivalTime, bestOpposite, bestOppositeOK)
	if !ok {
		s.logger.Debug().Str("reason", string(reason)).Msg("order rejected by venue constraints")
		return
	}
	sendLatency := s.sampler.Sample(latency.OrderSend) + s.sampler.Sample(latency.Venue)
	s.queueModel.SubmitOrder(tokenID, orderID, a.Side, a.Price, a.Size, ev.ArrivalTime, sendLatency)
	if s.streams != nil {
		s.encoder.Reset()
		s.encoder.PutStringRaw(orderID)
		s.encoder.PutUint8(sideCode(a.Side))
		s.encoder.PutInt32(int32(a.Price))
		s.encoder.PutInt64(int64(a.Size))
		s.streams["orders"].Absorb(s.encoder.Bytes())
	}
}

func (s *session) cancelOrder(ev types.TimestampedEvent, orderID string) {
	if err := s.omsMgr.RequestCancel(orderID); err != nil {
		s.logger.Debug().Err(err).Str("order", orderID).Msg("cancel request rejected")
		return
	}
	cancelLatency := s.sampler.Sample(latency.Cancel)
	s.queueModel.SubmitCancel(orderID, ev.ArrivalTime, cancelLatency)
}

// closeAndSettle is phase (d): mark every open position at the last known
// mid, resolve settlement for every observed feed against the whole-run
// window, and record the final window point.
func (s *session) closeAndSettle() {
	fallbacks := []settlement.FallbackSource{
		{Reason: types.FallbackVenueMid, Price: func() (types.Tick, bool) {
			for _, tokenID := range s.books.Tokens() {
				if mid, ok := s.books.Book(tokenID).MidTimesTwo(); ok {
					return types.Tick(mid / 2), true
				}
			}
			return 0, false
		}},
	}
	spec := settlement.Spec{
		WindowStart:           s.cfg.StartTime,
		WindowEnd:             s.cfg.EndTime,
		ReferenceRule:         s.cfg.SettlementSpec.ReferenceRule,
		RoundingRule:          s.cfg.SettlementSpec.RoundingRule,
		TieRule:               s.cfg.SettlementSpec.TieRule,
		RepresentativenessMin: s.cfg.SettlementSpec.RepresentativenessMin,
	}
	for feedID, ticks := range s.settlementTicks {
		outcome, err := s.settleEng.Resolve(spec, ticks, s.clock.Now(), fallbacks)
		if err != nil {
			s.logger.Warn().Err(err).Str("feed", feedID).Msg("settlement unavailable")
			continue
		}
		s.logger.Info().Str("feed", feedID).Bool("yes_wins", outcome.YesWins).Str("fallback", string(outcome.FallbackReason)).Msg("settlement resolved")
	}

	marks := func(tokenID string) (types.AmountFP, bool) {
		mid, ok := s.books.Book(tokenID).MidTimesTwo()
		if !ok {
			return 0, false
		}
		return types.AmountFP(int64(mid) * types.AmountScale / 200), true
	}
	s.windowAcct.Record(s.clock.Now(), s.portfolioP.Equity(marks))
}

func sideCode(side types.Side) uint8 {
	if side == types.Buy {
		return 0
	}
	return 1
}

// runTrustGate is phase (e): replay the identical event slice through every
// synthetic probe in a fresh, unfingerprinted session, and aggregate the
// results into a TrustDecision (spec.md §4.12). strat is the real strategy
// under test, wrapped by SignalInverterProbe so the inversion probe is the
// strategy's own logic run against flipped sides rather than an unrelated
// synthetic probe.
func (o *Orchestrator) runTrustGate(events []types.TimestampedEvent, strat strategy.Strategy) (types.TrustDecision, []trustgate.FailureReason) {
	probes := []struct {
		kind  trustgate.ProbeKind
		strat strategy.Strategy
	}{
		{trustgate.ProbeDoNothing, strategy.DoNothingProbe{}},
		{trustgate.ProbeRandomTaker, strategy.NewRandomTakerProbe(o.cfg.Seed, 10*types.AmountScale)},
		{trustgate.ProbeZeroEdge, strategy.NewZeroEdgeProbe(10 * types.AmountScale)},
		{trustgate.ProbeSyntheticPriceGenerator, strategy.NewSyntheticPriceGeneratorProbe(o.cfg.Seed, 50, 10*types.AmountScale)},
		{trustgate.ProbeSignalInverter, strategy.NewSignalInverterProbe(strat)},
	}

	results := make([]trustgate.ProbeResult, 0, len(probes))
	for _, p := range probes {
		sess := o.newSession(p.strat, false)
		if err := sess.run(events); err != nil {
			o.logger.Warn().Err(err).Str("probe", string(p.kind)).Msg("probe run failed")
			continue
		}
		sess.closeAndSettle()
		results = append(results, summarizeProbe(p.kind, sess))
	}

	suite := trustgate.New(o.cfg.TrustThresholds)
	return suite.Evaluate(results)
}

func summarizeProbe(kind trustgate.ProbeKind, sess *session) trustgate.ProbeResult {
	marks := func(tokenID string) (types.AmountFP, bool) {
		mid, ok := sess.books.Book(tokenID).MidTimesTwo()
		if !ok {
			return 0, false
		}
		return types.AmountFP(int64(mid) * types.AmountScale / 200), true
	}
	equity := sess.portfolioP.Equity(marks)
	return trustgate.ProbeResult{
		Probe:  kind,
		NetPnL: equity - sess.cfg.InitialBankroll,
	}
}

// buildArtifact is phase (f): assemble the versioned RunArtifact document
// from the completed main session (spec.md §6).
func (o *Orchestrator) buildArtifact(main *session, decision types.TrustDecision, reasons []trustgate.FailureReason) *store.RunArtifact {
	streamHashes := make(map[string][16]byte, len(main.streams))
	for name, h := range main.streams {
		streamHashes[name] = h.Sum()
	}
	fp := fingerprint.RunFingerprint{
		CodeHash:     o.codeHash,
		ConfigHash:   o.configHash,
		DatasetHash:  o.datasetHash,
		Seed:         o.cfg.Seed,
		StreamHashes: streamHashes,
		BehaviorHash: main.behavior.Sum(),
	}
	runID := fingerprint.DeterministicID(fp.BehaviorHash, "run").String()

	points := main.windowAcct.Points()
	drawdowns := make([]types.AmountFP, len(points))
	for i, p := range points {
		drawdowns[i] = p.Drawdown
	}

	var windowPnL []float64
	for _, p := range points {
		windowPnL = append(windowPnL, float64(p.PnL)/float64(types.AmountScale))
	}

	metricSummaries, err := main.metrics.Summaries()
	if err != nil {
		o.logger.Warn().Err(err).Msg("gather metrics failed")
	}

	artifact := &store.RunArtifact{
		Manifest: store.Manifest{
			RunID:       runID,
			CodeHash:    fmt.Sprintf("%x", o.codeHash),
			ConfigHash:  fmt.Sprintf("%x", o.configHash),
			DatasetHash: fmt.Sprintf("%x", o.datasetHash),
			Seed:        o.cfg.Seed,
		},
		ConfigSummary: map[string]any{
			"initial_bankroll": int64(o.cfg.InitialBankroll),
			"arrival_policy":   string(o.cfg.ArrivalPolicy),
			"accounting_mode":  string(o.cfg.AccountingMode),
		},
		StrategyIdentity: fmt.Sprintf("%T", main.strat),
		Dataset:          o.cfg.Dataset.Path,
		Provenance:       "deterministic replay",
		MethodologyCapsule: store.MethodologyCapsule{
			ArrivalPolicy:         o.cfg.ArrivalPolicy,
			LatencyProfileName:    o.cfg.LatencyProfile.Name,
			QueueModel:            o.cfg.QueueModel,
			SettlementSpecVersion: "1",
			FingerprintVersion:    "1",
		},
		TimeSeries: store.TimeSeries{
			Equity:   points,
			Drawdown: drawdowns,
		},
		Distributions: store.Distributions{
			WindowPnLHistogram: windowPnL,
			Metrics:            metricSummaries,
		},
		TrustDecisionTier:   decision,
		TrustFailureReasons: store.BuildTrustFailureReasons(reasons),
		Disclaimers: store.GenerateDisclaimers(store.DisclaimerContext{
			Decision:       decision,
			AccountingMode: o.cfg.AccountingMode,
			FailureReasons: store.BuildTrustFailureReasons(reasons),
		}),
		Fingerprint: store.NewFingerprintSummary(fp),
	}
	return artifact
}

package straddle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"straddlebot/internal/broker"
	"straddlebot/internal/marketdata"
	"straddlebot/internal/models"
	"straddlebot/internal/notify"
	"straddlebot/internal/orders"
	"straddlebot/internal/storage"
	"straddlebot/internal/util"
)

// Order tags stamped on every broker order so runs can be traced in the
// order book.
const (
	EntryOrderTag = "straddle-entry-order"
	ExitOrderTag  = "straddle-exit-order"
)

// State is the engine's position in the per-run lifecycle.
type State string

// Run states, in lifecycle order. StateFailed is reachable from any
// non-terminal state.
const (
	StateLoading       State = "LOADING"
	StateValidating    State = "VALIDATING"
	StateResolvingLegs State = "RESOLVING_LEGS"
	StateQuoting       State = "QUOTING"
	StateRecording     State = "RECORDING"
	StateEntering      State = "ENTERING"
	StateReconciling   State = "RECONCILING"
	StateMonitoring    State = "MONITORING"
	StateExited        State = "EXITED"
	StateFailed        State = "FAILED"
)

// ErrStrategyInactive aborts a run whose strategy was switched off before it
// started.
var ErrStrategyInactive = errors.New("strategy is not active")

// BrokerResolver resolves a per-user broker client for order placement.
// *broker.Factory satisfies it.
type BrokerResolver interface {
	ForUser(ctx context.Context, userID string) (broker.Broker, error)
}

// EngineConfig carries the engine timing knobs. Tests shrink the delays.
type EngineConfig struct {
	// SettleDelay is the wait between entry order placement and order book
	// fill reconciliation.
	SettleDelay time.Duration
	// MonitorInitialDelay is the wait before the first monitoring tick.
	MonitorInitialDelay time.Duration
	// MonitorInterval is the spacing of subsequent monitoring ticks.
	MonitorInterval time.Duration
	// Reconcile tunes the post-entry order book fill poll.
	Reconcile orders.Config
	// Location is the trading timezone for exit-time evaluation.
	Location *time.Location
	// Now supplies the clock; defaults to time.Now.
	Now func() time.Time
}

func (c *EngineConfig) applyDefaults() {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 5 * time.Second
	}
	if c.MonitorInitialDelay <= 0 {
		c.MonitorInitialDelay = 10 * time.Second
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 5 * time.Second
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Engine executes exactly one run of one strategy end to end. An Engine is
// single-use: build one per run and call Run once. All mutable run state is
// owned by the Run goroutine.
type Engine struct {
	store    storage.Interface
	brokers  BrokerResolver
	quotes   marketdata.Provider
	notifier notify.Notifier
	logger   *log.Logger
	cfg      EngineConfig

	strategyID int64
	state      State

	strategy *models.Strategy
	account  *models.TradingAccount
	broker   broker.Broker
	call     models.Instrument
	put      models.Instrument
	quantity int
	record   *models.ExecutionRecord

	callOrderID string
	putOrderID  string

	callEntry float64
	putEntry  float64

	lastCallPrice float64
	lastPutPrice  float64
	lastPnl       float64

	tracker *TrailingStopTracker
	exitAt  time.Time
}

// NewEngine builds a single-use engine for one strategy run.
func NewEngine(store storage.Interface, brokers BrokerResolver, quotes marketdata.Provider,
	notifier notify.Notifier, logger *log.Logger, cfg EngineConfig, strategyID int64) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.Default()
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Engine{
		store:      store,
		brokers:    brokers,
		quotes:     quotes,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
		strategyID: strategyID,
		state:      StateLoading,
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return e.state }

// Record returns the run's execution record, nil before RECORDING.
func (e *Engine) Record() *models.ExecutionRecord { return e.record }

func (e *Engine) fail(err error) error {
	e.state = StateFailed
	e.logger.Printf("run for strategy %d failed: %v", e.strategyID, err)
	return err
}

// Run drives the state machine from LOADING to EXITED. It blocks for the life
// of the run, including the monitoring loop, and returns the first
// unrecoverable error.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.load(ctx); err != nil {
		return e.fail(err)
	}

	e.state = StateResolvingLegs
	if err := e.resolveLegs(ctx); err != nil {
		return e.fail(err)
	}

	e.state = StateQuoting
	entryQuotes, err := e.fetchLegQuotes(ctx)
	if err != nil {
		return e.fail(err)
	}

	e.state = StateRecording
	if err := e.createRecord(ctx, entryQuotes); err != nil {
		return e.fail(err)
	}

	e.state = StateEntering
	if err := e.enter(ctx); err != nil {
		return e.fail(err)
	}

	e.state = StateReconciling
	if err := e.reconcile(ctx); err != nil {
		return e.fail(err)
	}

	e.state = StateMonitoring
	return e.monitor(ctx)
}

// load covers LOADING and VALIDATING: reload the strategy by id, check it is
// still active and well formed, and resolve the owner's account and broker
// session.
func (e *Engine) load(ctx context.Context) error {
	strategy, err := e.store.GetStrategy(ctx, e.strategyID)
	if err != nil {
		return err
	}

	e.state = StateValidating
	if !strategy.Active {
		return fmt.Errorf("strategy %d: %w", strategy.ID, ErrStrategyInactive)
	}
	if err := strategy.Validate(); err != nil {
		return fmt.Errorf("strategy %d: %w", strategy.ID, err)
	}
	e.strategy = strategy

	exitAt, err := strategy.ExitAt(e.cfg.Now(), e.cfg.Location)
	if err != nil {
		return fmt.Errorf("strategy %d: %w", strategy.ID, err)
	}
	e.exitAt = exitAt
	e.tracker = NewTrailingStopTracker(strategy.Target, strategy.StopLoss, strategy.TrailingSL)

	account, err := e.store.GetTradingAccount(ctx, strategy.UserID)
	if err != nil {
		if strategy.PaperTrade {
			// Paper runs need no live session; notifications are skipped.
			e.logger.Printf("strategy %d: no trading account for %s, paper run continues without notifications",
				strategy.ID, strategy.UserID)
			return nil
		}
		return err
	}
	e.account = account

	if !strategy.PaperTrade {
		b, err := e.brokers.ForUser(ctx, strategy.UserID)
		if err != nil {
			return err
		}
		e.broker = b
	}
	return nil
}

// resolveLegs picks the target strike from the underlying price and resolves
// the call and put contracts for the configured expiry scope.
func (e *Engine) resolveLegs(ctx context.Context) error {
	underlyingKey := e.strategy.Exchange + ":" + e.strategy.Instrument

	if e.strategy.StrikeSelector == models.SelectorFuture {
		future, err := e.store.FindNearestFuture(ctx, e.strategy.UnderlyingSegment, e.strategy.IndexName)
		if err == nil {
			underlyingKey = future.QuoteKey()
			e.logger.Printf("strategy %d: strike source is future %s", e.strategy.ID, future.TradingSymbol)
		} else if errors.Is(err, storage.ErrNoInstruments) {
			e.logger.Printf("strategy %d: no future for %s, falling back to index quote",
				e.strategy.ID, e.strategy.IndexName)
		} else {
			return err
		}
	}

	quotes, err := e.quotes.GetQuotes(ctx, []string{underlyingKey})
	if err != nil {
		return fmt.Errorf("underlying quote: %w", err)
	}
	underlying, ok := quotes[underlyingKey]
	if !ok {
		return fmt.Errorf("no quote for underlying %s", underlyingKey)
	}

	strike := util.RoundToStep(underlying.LastPrice, e.strategy.EffectiveStrikeStep())
	e.logger.Printf("strategy %d: underlying %s at %.2f, target strike %d",
		e.strategy.ID, underlyingKey, underlying.LastPrice, strike)

	options, err := e.store.FindWeeklyOptionInstruments(ctx, e.strategy.TradingSegment, e.strategy.IndexName)
	if err != nil {
		return err
	}

	expiry, err := selectExpiry(options, e.strategy.ExpiryScope)
	if err != nil {
		return fmt.Errorf("strategy %d: %w", e.strategy.ID, err)
	}

	var call, put *models.Instrument
	for i := range options {
		opt := &options[i]
		if !opt.Expiry.Equal(expiry) || opt.Strike != float64(strike) {
			continue
		}
		switch opt.Type {
		case models.TypeCall:
			call = opt
		case models.TypePut:
			put = opt
		}
	}
	if call == nil || put == nil {
		return fmt.Errorf("strategy %d: no %d strike pair for expiry %s",
			e.strategy.ID, strike, expiry.Format("2006-01-02"))
	}

	e.call = *call
	e.put = *put
	e.quantity = e.strategy.Quantity(call)
	return nil
}

// selectExpiry picks the weekly expiry matching the scope: CURRENT is the
// nearest distinct expiry, NEXT the one after it.
func selectExpiry(options []models.Instrument, scope models.ExpiryScope) (time.Time, error) {
	var expiries []time.Time
	for i := range options {
		exp := options[i].Expiry
		found := false
		for _, e := range expiries {
			if e.Equal(exp) {
				found = true
				break
			}
		}
		if !found {
			expiries = append(expiries, exp)
		}
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })

	idx := 0
	if scope == models.ExpiryNext {
		idx = 1
	}
	if idx >= len(expiries) {
		return time.Time{}, fmt.Errorf("no %s weekly expiry available", scope)
	}
	return expiries[idx], nil
}

func (e *Engine) fetchLegQuotes(ctx context.Context) (map[string]models.Quote, error) {
	keys := []string{e.call.QuoteKey(), e.put.QuoteKey()}
	quotes, err := e.quotes.GetQuotes(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("leg quotes: %w", err)
	}
	for _, key := range keys {
		if _, ok := quotes[key]; !ok {
			return nil, fmt.Errorf("no quote for leg %s", key)
		}
	}
	return quotes, nil
}

// createRecord covers RECORDING: persist the execution record before any
// order is placed, with entry prices seeded from the quote snapshot.
func (e *Engine) createRecord(ctx context.Context, quotes map[string]models.Quote) error {
	now := e.cfg.Now()
	record := models.NewExecutionRecord(e.strategy, now)
	record.CallStrike = legLabel(&e.call)
	record.PutStrike = legLabel(&e.put)
	record.CallQuantity = e.quantity
	record.PutQuantity = e.quantity

	e.callEntry = quotes[e.call.QuoteKey()].LastPrice
	e.putEntry = quotes[e.put.QuoteKey()].LastPrice
	record.CallEntryPrice = e.callEntry
	record.PutEntryPrice = e.putEntry

	if err := e.store.SaveExecutionRecord(ctx, record); err != nil {
		return err
	}
	e.record = record
	return nil
}

func legLabel(inst *models.Instrument) string {
	if inst.DisplayName != "" {
		return inst.DisplayName
	}
	return inst.TradingSymbol
}

// enter places the two entry market orders. Paper runs place nothing and keep
// the quote-seeded prices.
func (e *Engine) enter(ctx context.Context) error {
	if e.strategy.PaperTrade {
		e.logger.Printf("run %s: paper trade, skipping entry orders", e.record.UniqueRunID)
		return nil
	}

	direction := e.strategy.Side.EntryTransaction()

	callID, err := e.placeOrder(ctx, &e.call, direction, EntryOrderTag)
	if err != nil {
		return fmt.Errorf("entry order for %s: %w", e.call.TradingSymbol, err)
	}
	e.callOrderID = callID

	putID, err := e.placeOrder(ctx, &e.put, direction, EntryOrderTag)
	if err != nil {
		return fmt.Errorf("entry order for %s: %w", e.put.TradingSymbol, err)
	}
	e.putOrderID = putID

	e.logger.Printf("run %s: entry orders placed, call=%s put=%s",
		e.record.UniqueRunID, callID, putID)
	return nil
}

func (e *Engine) placeOrder(ctx context.Context, inst *models.Instrument,
	direction models.TransactionType, tag string) (string, error) {
	return e.broker.PlaceOrder(ctx, broker.OrderParams{
		Exchange:        inst.Exchange,
		TradingSymbol:   inst.TradingSymbol,
		TransactionType: direction,
		Quantity:        e.quantity,
		Product:         broker.ProductIntraday,
		OrderType:       broker.OrderTypeMarket,
		Tag:             tag,
	})
}

// reconcile waits out the settle delay, then polls back average fill prices
// from the order book. A leg whose order never reconciles keeps its
// quote-seeded entry price.
func (e *Engine) reconcile(ctx context.Context) error {
	if !e.strategy.PaperTrade {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.SettleDelay):
		}

		rec := orders.NewReconciler(e.broker, e.logger, e.cfg.Reconcile)
		fills, err := rec.AveragePrices(ctx, []string{e.callOrderID, e.putOrderID})
		if err != nil {
			return fmt.Errorf("order book lookup: %w", err)
		}
		if price, ok := fills[e.callOrderID]; ok {
			e.callEntry = price
		}
		if price, ok := fills[e.putOrderID]; ok {
			e.putEntry = price
		}
		e.record.CallEntryPrice = e.callEntry
		e.record.PutEntryPrice = e.putEntry
	}

	if err := e.store.SaveExecutionRecord(ctx, e.record); err != nil {
		return err
	}

	if e.account != nil {
		if err := e.notifier.NotifyEntry(ctx, notify.EntryEvent{
			UserID:     e.strategy.UserID,
			Email:      e.account.Email,
			Instrument: e.strategy.Instrument,
			Side:       string(e.strategy.Side),
			CallSymbol: e.call.TradingSymbol,
			PutSymbol:  e.put.TradingSymbol,
			CallPrice:  e.callEntry,
			PutPrice:   e.putEntry,
			Quantity:   e.quantity,
			PaperTrade: e.strategy.PaperTrade,
			At:         e.cfg.Now(),
		}); err != nil {
			e.logger.Printf("run %s: entry notification failed: %v", e.record.UniqueRunID, err)
		}
	}
	return nil
}

// monitor runs the periodic evaluation loop until an exit rule fires, the
// strategy is deactivated, or the context is cancelled.
func (e *Engine) monitor(ctx context.Context) error {
	first := time.NewTimer(e.cfg.MonitorInitialDelay)
	defer first.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-first.C:
	}

	ticker := time.NewTicker(e.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		done, err := e.monitorTick(ctx)
		if err != nil {
			// Tick errors are transient; keep the loop alive.
			e.logger.Printf("run %s: monitoring tick error: %v", e.record.UniqueRunID, err)
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// monitorTick performs one evaluation pass. It returns done=true when the run
// has exited (or stopped on deactivation); errors are tick-local.
func (e *Engine) monitorTick(ctx context.Context) (bool, error) {
	strategy, err := e.store.GetStrategy(ctx, e.strategyID)
	if err != nil {
		return false, err
	}
	if !strategy.Active {
		return true, e.stopDeactivated(ctx)
	}

	quotes, err := e.quotes.GetQuotes(ctx, []string{e.call.QuoteKey(), e.put.QuoteKey()})
	if err != nil {
		return false, err
	}
	callQuote, okCall := quotes[e.call.QuoteKey()]
	putQuote, okPut := quotes[e.put.QuoteKey()]
	if !okCall || !okPut {
		// Missing quotes are a skip, not an error.
		return false, nil
	}

	if !e.strategy.PaperTrade {
		held, err := e.positionsHeld(ctx)
		if err != nil {
			return false, err
		}
		if !held {
			e.logger.Printf("run %s: positions not at expected size, skipping tick", e.record.UniqueRunID)
			return false, nil
		}
	}

	e.lastCallPrice = callQuote.LastPrice
	e.lastPutPrice = putQuote.LastPrice
	pnl := ComputePnL(e.strategy.Side, e.callEntry, e.putEntry,
		callQuote.LastPrice, putQuote.LastPrice, e.quantity)
	e.lastPnl = pnl

	exit, reason := e.tracker.Evaluate(pnl, e.cfg.Now(), e.exitAt)
	if !exit {
		return false, nil
	}
	return true, e.exit(ctx, reason)
}

// positionsHeld confirms the broker still shows both legs open at the
// expected net size for the strategy side.
func (e *Engine) positionsHeld(ctx context.Context) (bool, error) {
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return false, err
	}

	sign := e.strategy.Side.Sign()
	held := func(symbol string) bool {
		for i := range positions {
			if positions[i].TradingSymbol == symbol {
				return positions[i].Quantity*sign >= e.quantity
			}
		}
		return false
	}
	return held(e.call.TradingSymbol) && held(e.put.TradingSymbol), nil
}

// stopDeactivated closes out a run whose strategy was switched off: the last
// computed PnL becomes the exit PnL and no orders are placed.
func (e *Engine) stopDeactivated(ctx context.Context) error {
	e.logger.Printf("run %s: strategy deactivated, stopping without exit orders", e.record.UniqueRunID)
	return e.finalize(ctx, ExitDeactivated, false)
}

// exit covers EXITED: close both legs (unless paper), record exit prices and
// realized PnL, persist, and notify.
func (e *Engine) exit(ctx context.Context, reason ExitReason) error {
	return e.finalize(ctx, reason, !e.strategy.PaperTrade)
}

func (e *Engine) finalize(ctx context.Context, reason ExitReason, placeOrders bool) error {
	if placeOrders {
		direction := e.strategy.Side.ExitTransaction()
		if _, err := e.placeOrder(ctx, &e.call, direction, ExitOrderTag); err != nil {
			// The run is left open at the broker; surface loudly and keep
			// going so the record still reflects what the engine observed.
			e.logger.Printf("ALERT run %s: exit order for %s failed, manual reconciliation required: %v",
				e.record.UniqueRunID, e.call.TradingSymbol, err)
		}
		if _, err := e.placeOrder(ctx, &e.put, direction, ExitOrderTag); err != nil {
			e.logger.Printf("ALERT run %s: exit order for %s failed, manual reconciliation required: %v",
				e.record.UniqueRunID, e.put.TradingSymbol, err)
		}
	}

	now := e.cfg.Now()
	e.record.CallExitPrice = e.lastCallPrice
	e.record.PutExitPrice = e.lastPutPrice
	e.record.ExitPnl = e.lastPnl
	e.record.ExitedAt = &now

	if err := e.store.SaveExecutionRecord(ctx, e.record); err != nil {
		e.state = StateExited
		return err
	}

	if e.account != nil {
		if err := e.notifier.NotifyExit(ctx, notify.ExitEvent{
			UserID:     e.strategy.UserID,
			Email:      e.account.Email,
			Instrument: e.strategy.Instrument,
			Reason:     string(reason),
			CallPrice:  e.lastCallPrice,
			PutPrice:   e.lastPutPrice,
			Pnl:        e.lastPnl,
			PaperTrade: e.strategy.PaperTrade,
			At:         now,
		}); err != nil {
			e.logger.Printf("run %s: exit notification failed: %v", e.record.UniqueRunID, err)
		}
	}

	e.state = StateExited
	e.logger.Printf("run %s: exited (%s) pnl=%.2f", e.record.UniqueRunID, reason, e.lastPnl)
	return nil
}

// ComputePnL returns the combined-position PnL relative to entry. Positive
// when a SHORT straddle's combined premium decays and when a LONG straddle's
// combined premium rises.
func ComputePnL(side models.Side, entryCall, entryPut, currentCall, currentPut float64, quantity int) float64 {
	entrySum := entryCall + entryPut
	currentSum := currentCall + currentPut
	return -float64(side.Sign()) * (entrySum - currentSum) * float64(quantity)
}

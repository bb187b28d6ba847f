package simulator

// Per-run state: cash, open positions, ledger and equity curve.
//
// Each step fills queued signals on held symbols at the open, then runs
// intrabar exits, then entries, then the equity sample. Nothing in here looks
// at a bar later than the step being processed.

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/backtester/internal/domain"
)

// ledgerNamespace seeds the name-based IDs so ledgers are reproducible.
var ledgerNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("backtester/ledger"))

// series tracks how far a symbol's bars have been revealed.
type series struct {
	bars []domain.Bar
	idx  int // index of the latest revealed bar, -1 before the first
}

func (s *series) latest() (domain.Bar, bool) {
	if s.idx < 0 {
		return domain.Bar{}, false
	}
	return s.bars[s.idx], true
}

type book struct {
	sim        *Simulator
	cash       float64
	open       map[string]*domain.Position
	bucketOpen map[string]int
	pending    []indexedSignal
	series     map[string]*series
	trades     []domain.Trade
	equity     domain.EquityCurve
	issues     domain.RunIssues
	entries    int
}

func newBook(sim *Simulator, capital float64) *book {
	return &book{
		sim:        sim,
		cash:       capital,
		open:       make(map[string]*domain.Position),
		bucketOpen: make(map[string]int),
		series:     make(map[string]*series),
	}
}

// loadBars keeps only in-range bars of symbols whose series is valid. A
// symbol's history bars are placed before its first in-range bar and count as
// already revealed.
func (b *book) loadBars(in Input) map[string][]domain.Bar {
	valid := make(map[string][]domain.Bar, len(in.Bars))
	for _, sym := range sortedKeys(in.Bars) {
		var bars []domain.Bar
		for _, bar := range in.Bars[sym] {
			if inRange(bar.Timestamp, in.Start, in.End) {
				bars = append(bars, bar)
			}
		}
		if len(bars) == 0 {
			b.issues.SkipSymbol(domain.SymbolIssue{Symbol: sym, Kind: domain.IssueDataGap, Detail: "no bars in range"})
			slog.Warn("symbol has no bars in range", "symbol", sym)
			continue
		}
		warm := warmup(in.History[sym], bars[0].Timestamp)
		all := make([]domain.Bar, 0, len(warm)+len(bars))
		all = append(append(all, warm...), bars...)
		if err := domain.ValidateSeries(sym, all); err != nil {
			b.issues.SkipSymbol(domain.SymbolIssue{Symbol: sym, Kind: domain.IssueDataIntegrity, Detail: err.Error()})
			slog.Warn("symbol excluded", "symbol", sym, "err", err)
			continue
		}
		valid[sym] = bars
		b.series[sym] = &series{bars: all, idx: len(warm) - 1}
	}
	return valid
}

// warmup returns the history bars strictly before first.
func warmup(history []domain.Bar, first time.Time) []domain.Bar {
	n := 0
	for n < len(history) && history[n].Timestamp.Before(first) {
		n++
	}
	return history[:n]
}

// loadSignals checks feed order and drops signals outside the range.
func (b *book) loadSignals(in Input) ([]domain.Signal, error) {
	out := make([]domain.Signal, 0, len(in.Signals))
	for i, sig := range in.Signals {
		if i > 0 && sig.Timestamp.Before(in.Signals[i-1].Timestamp) {
			return nil, &domain.DataIntegrityError{
				Symbol:    sig.Symbol,
				Timestamp: sig.Timestamp,
				Detail:    "signal feed is not sorted by timestamp",
			}
		}
		if !inRange(sig.Timestamp, in.Start, in.End) {
			b.issues.Reject(domain.RejectOutsideWindow)
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

func (b *book) step(st step, final bool) {
	for _, sym := range st.symbols {
		b.series[sym].idx++
	}

	if len(st.bars) > 0 {
		b.processPending(st, true)
		b.processExits(st)
		b.processPending(st, false)
	}
	b.processSignals(st)

	if len(st.bars) == 0 {
		return
	}
	if final {
		b.liquidate()
	}
	b.mark(st)
	b.sample(st.ts)
}

// processExits applies stop > target > time-exit to every position whose
// symbol printed a bar at this step. Positions opened at this step's open are
// first checked on the next bar.
func (b *book) processExits(st step) {
	for _, sym := range sortedKeys(b.open) {
		bar, ok := st.bars[sym]
		if !ok {
			continue
		}
		pos := b.open[sym]
		if pos.EntryTime.Equal(st.ts) {
			continue
		}
		if reason, ref, hit := exitFor(pos, bar, st.ts); hit {
			b.close(pos, ref, reason, st.ts)
		}
	}
}

// exitFor returns the first exit that triggers on bar. A bar that opens
// beyond a level fills at the open.
func exitFor(pos *domain.Position, bar domain.Bar, ts time.Time) (domain.ExitReason, float64, bool) {
	if pos.Side == domain.DirectionLong {
		if pos.StopPrice > 0 && bar.Low <= pos.StopPrice {
			return domain.ExitStop, math.Min(pos.StopPrice, bar.Open), true
		}
		if pos.TargetPrice > 0 && bar.High >= pos.TargetPrice {
			return domain.ExitTarget, math.Max(pos.TargetPrice, bar.Open), true
		}
	} else {
		if pos.StopPrice > 0 && bar.High >= pos.StopPrice {
			return domain.ExitStop, math.Max(pos.StopPrice, bar.Open), true
		}
		if pos.TargetPrice > 0 && bar.Low <= pos.TargetPrice {
			return domain.ExitTarget, math.Min(pos.TargetPrice, bar.Open), true
		}
	}
	if pos.Expired(ts) {
		return domain.ExitTime, bar.Close, true
	}
	return "", 0, false
}

// processPending fills queued next-open signals on their symbol's next bar.
// With heldOnly set it fills only signals whose symbol has an open position:
// the open prints before any intrabar stop or target.
func (b *book) processPending(st step, heldOnly bool) {
	if len(b.pending) == 0 {
		return
	}
	rest := b.pending[:0]
	for _, ps := range b.pending {
		bar, ok := st.bars[ps.signal.Symbol]
		_, held := b.open[ps.signal.Symbol]
		if !ok || (heldOnly && !held) {
			rest = append(rest, ps)
			continue
		}
		s := b.series[ps.signal.Symbol]
		atr := domain.ATR(s.bars[:s.idx], b.sim.cfg.ATRPeriod)
		b.execute(ps, bar.Open, atr, st.ts)
	}
	b.pending = rest
}

// processSignals handles signals stamped at this step.
func (b *book) processSignals(st step) {
	for _, ps := range st.signals {
		sig := ps.signal
		if err := sig.Validate(); err != nil {
			b.issues.Reject(domain.RejectInvalidSignal)
			slog.Warn("invalid signal skipped", "symbol", sig.Symbol, "ts", sig.Timestamp, "err", err)
			continue
		}
		bar, ok := st.bars[sig.Symbol]
		if !ok {
			b.issues.Reject(domain.RejectDataGap)
			gap := &domain.DataGapError{Symbol: sig.Symbol, Timestamp: sig.Timestamp, Detail: "no bar at signal timestamp"}
			slog.Warn("signal skipped", "err", gap)
			continue
		}
		switch b.sim.cfg.FillMode {
		case FillSignalClose:
			s := b.series[sig.Symbol]
			atr := domain.ATR(s.bars[:s.idx+1], b.sim.cfg.ATRPeriod)
			b.execute(ps, bar.Close, atr, st.ts)
		default:
			b.pending = append(b.pending, ps)
		}
	}
}

// execute applies one signal at the raw reference price ref.
func (b *book) execute(ps indexedSignal, ref, atr float64, ts time.Time) {
	sig := ps.signal
	pos, has := b.open[sig.Symbol]

	if sig.Direction == domain.DirectionFlat {
		if !has {
			b.issues.Reject(domain.RejectFlatWithoutPosition)
			return
		}
		b.close(pos, ref, domain.ExitSignalReversal, ts)
		return
	}
	if has {
		if pos.Side == sig.Direction {
			b.issues.Reject(domain.RejectAlreadyOpen)
			return
		}
		b.close(pos, ref, domain.ExitSignalReversal, ts)
	}

	cfg := b.sim.cfg
	if len(b.open) >= cfg.MaxPositions {
		b.issues.Reject(domain.RejectPositionLimit)
		return
	}
	if limit, ok := cfg.MaxPerBucket[sig.Bucket]; ok && b.bucketOpen[sig.Bucket] >= limit {
		b.issues.Reject(domain.RejectBucketLimit)
		return
	}

	costs := b.sim.costs
	fill := costs.EntryFill(ref, sig.Direction)
	commission := costs.Commission()
	available := b.cash - 2*commission // entry plus reserved exit commission
	if available <= 0 || fill <= 0 {
		b.issues.Reject(domain.RejectInsufficientCash)
		return
	}

	qty := math.Floor(b.sim.sizing.Size(domain.SizingRequest{
		Capital:    available,
		Confidence: sig.Confidence,
		Volatility: atr,
		Bucket:     sig.Bucket,
		Price:      ref,
	}))
	if math.IsNaN(qty) || qty <= 0 {
		b.issues.Reject(domain.RejectZeroQuantity)
		return
	}
	if qty*fill > available {
		qty = math.Floor(available / fill)
		if qty <= 0 {
			b.issues.Reject(domain.RejectInsufficientCash)
			return
		}
	}

	stop, target := sig.Levels(ref, atr)
	var deadline time.Time
	if cfg.MaxHold > 0 {
		deadline = ts.Add(cfg.MaxHold)
	}

	id := uuid.NewSHA1(ledgerNamespace, []byte(fmt.Sprintf("%s|%d|%d", sig.Symbol, ts.UnixNano(), ps.seq)))
	pos = &domain.Position{
		ID:              id.String(),
		Symbol:          sig.Symbol,
		Side:            sig.Direction,
		Pattern:         sig.Pattern,
		Bucket:          sig.Bucket,
		SignalID:        sig.ID,
		SignalTime:      sig.Timestamp,
		EntryTime:       ts,
		EntryRef:        ref,
		EntryPrice:      fill,
		Quantity:        qty,
		EntryCommission: commission,
		EntrySlippage:   math.Abs(fill-ref) * qty,
		StopPrice:       stop,
		TargetPrice:     target,
		Deadline:        deadline,
		LastPrice:       ref,
	}
	b.cash -= fill*qty + commission
	b.open[sig.Symbol] = pos
	b.bucketOpen[sig.Bucket]++
	b.entries++

	slog.Debug("position opened",
		"symbol", pos.Symbol,
		"side", pos.Side,
		"qty", qty,
		"price", fmt.Sprintf("%.4f", fill),
		"stop", fmt.Sprintf("%.4f", stop),
		"target", fmt.Sprintf("%.4f", target),
		"ts", ts,
	)
}

// close turns pos into a Trade at the raw exit reference price.
func (b *book) close(pos *domain.Position, ref float64, reason domain.ExitReason, ts time.Time) {
	costs := b.sim.costs
	fill := costs.ExitFill(ref, pos.Side)
	commission := costs.Commission()
	gross := pos.Side.Sign() * (fill - pos.EntryPrice) * pos.Quantity
	totalCommission := pos.EntryCommission + commission
	net := gross - totalCommission

	pos.MaxFavorable = math.Max(pos.MaxFavorable, pos.UnrealizedPnL(ref))
	pos.MaxAdverse = math.Min(pos.MaxAdverse, pos.UnrealizedPnL(ref))

	returnPct := 0.0
	if n := pos.Collateral(); n > 0 {
		returnPct = net / n * 100
	}

	trade := domain.Trade{
		ID:           uuid.NewSHA1(ledgerNamespace, []byte(pos.ID+"|trade")).String(),
		PositionID:   pos.ID,
		SignalID:     pos.SignalID,
		Symbol:       pos.Symbol,
		Side:         pos.Side,
		Pattern:      pos.Pattern,
		Bucket:       pos.Bucket,
		EntryTime:    pos.EntryTime,
		EntryPrice:   pos.EntryPrice,
		ExitTime:     ts,
		ExitPrice:    fill,
		Quantity:     pos.Quantity,
		GrossPnL:     gross,
		Commission:   totalCommission,
		Slippage:     pos.EntrySlippage + math.Abs(fill-ref)*pos.Quantity,
		NetPnL:       net,
		ReturnPct:    returnPct,
		HoldDuration: ts.Sub(pos.EntryTime),
		HoldBars:     pos.BarsHeld + 1,
		ExitReason:   reason,
		MaxFavorable: pos.MaxFavorable,
		MaxAdverse:   pos.MaxAdverse,
	}

	b.cash += pos.Collateral() + gross - commission
	b.trades = append(b.trades, trade)
	delete(b.open, pos.Symbol)
	b.bucketOpen[pos.Bucket]--

	slog.Debug("position closed",
		"symbol", pos.Symbol,
		"reason", reason,
		"price", fmt.Sprintf("%.4f", fill),
		"net_pnl", fmt.Sprintf("%.2f", net),
		"ts", ts,
	)
}

// liquidate closes everything at each symbol's last revealed close.
func (b *book) liquidate() {
	for _, sym := range sortedKeys(b.open) {
		pos := b.open[sym]
		bar, ok := b.series[sym].latest()
		if !ok {
			continue
		}
		b.close(pos, bar.Close, domain.ExitEndOfRun, bar.Timestamp)
	}
}

// mark revalues positions whose symbol printed a bar at this step. A
// position filled at this very close is already at its mark.
func (b *book) mark(st step) {
	for _, sym := range sortedKeys(b.open) {
		bar, ok := st.bars[sym]
		if !ok {
			continue
		}
		pos := b.open[sym]
		if pos.EntryTime.Equal(st.ts) && b.sim.cfg.FillMode == FillSignalClose {
			continue
		}
		pos.Mark(bar)
	}
}

func (b *book) sample(ts time.Time) {
	equity := b.cash
	for _, sym := range sortedKeys(b.open) {
		equity += b.open[sym].MarketValue()
	}
	b.equity = append(b.equity, domain.EquityPoint{
		Timestamp:     ts,
		Equity:        equity,
		Cash:          b.cash,
		OpenPositions: len(b.open),
	})
}

// expirePending rejects next-open signals that never saw another bar.
func (b *book) expirePending() {
	for _, ps := range b.pending {
		b.issues.Reject(domain.RejectNoFillBar)
		slog.Warn("signal never filled", "symbol", ps.signal.Symbol, "ts", ps.signal.Timestamp)
	}
	b.pending = nil
}

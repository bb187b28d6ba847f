package analyzer

import (
	"math"
	"sort"

	"github.com/alejandrodnm/backtester/internal/domain"
)

// profitFactorCap stands in for an infinite profit factor (wins, no losses)
// so reports stay JSON-safe.
const profitFactorCap = 999.0

// unassignedKey groups trades with no pattern or bucket.
const unassignedKey = "unassigned"

func profitFactor(grossProfit, grossLoss float64, trades int) float64 {
	if trades == 0 {
		return 0
	}
	if grossLoss == 0 {
		if grossProfit > 0 {
			return profitFactorCap
		}
		return 0
	}
	return grossProfit / grossLoss
}

// tradeStats summarises the ledger in exit order.
func tradeStats(trades []domain.Trade) domain.TradeStats {
	s := domain.TradeStats{Trades: len(trades)}
	if len(trades) == 0 {
		return s
	}
	s.ExitReasons = make(map[domain.ExitReason]int)

	winStreak, lossStreak := 0, 0
	holdBars, mfe, mae := 0.0, 0.0, 0.0
	s.LargestWin, s.LargestLoss = math.Inf(-1), math.Inf(1)
	for _, t := range trades {
		s.NetPnL += t.NetPnL
		s.Commission += t.Commission
		s.Slippage += t.Slippage
		s.ExitReasons[t.ExitReason]++
		holdBars += float64(t.HoldBars)
		mfe += t.MaxFavorable
		mae += t.MaxAdverse
		s.LargestWin = math.Max(s.LargestWin, t.NetPnL)
		s.LargestLoss = math.Min(s.LargestLoss, t.NetPnL)

		switch {
		case t.NetPnL > 0:
			s.Wins++
			s.GrossProfit += t.NetPnL
			winStreak++
			lossStreak = 0
		case t.NetPnL < 0:
			s.Losses++
			s.GrossLoss += -t.NetPnL
			lossStreak++
			winStreak = 0
		default:
			winStreak, lossStreak = 0, 0
		}
		s.MaxConsecutiveWins = max(s.MaxConsecutiveWins, winStreak)
		s.MaxConsecutiveLosses = max(s.MaxConsecutiveLosses, lossStreak)
	}

	n := float64(len(trades))
	s.WinRate = float64(s.Wins) / n
	s.ProfitFactor = profitFactor(s.GrossProfit, s.GrossLoss, len(trades))
	s.AvgWin = domain.SafeDiv(s.GrossProfit, float64(s.Wins))
	s.AvgLoss = -domain.SafeDiv(s.GrossLoss, float64(s.Losses))
	s.Expectancy = s.NetPnL / n
	s.AvgHoldBars = holdBars / n
	s.AvgMaxFavorable = mfe / n
	s.AvgMaxAdverse = mae / n
	if s.Wins == 0 {
		s.LargestWin = 0
	}
	if s.Losses == 0 {
		s.LargestLoss = 0
	}
	return s
}

// breakdown attributes trades to the key returned by keyOf. Drawdown follows
// the capital path of that group's trades alone.
func breakdown(trades []domain.Trade, initial float64, keyOf func(domain.Trade) string) []domain.Breakdown {
	if len(trades) == 0 {
		return nil
	}
	groups := make(map[string][]domain.Trade)
	for _, t := range trades {
		k := keyOf(t)
		if k == "" {
			k = unassignedKey
		}
		groups[k] = append(groups[k], t)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]domain.Breakdown, 0, len(keys))
	for _, k := range keys {
		st := tradeStats(groups[k])
		path := make([]float64, 0, len(groups[k])+1)
		path = append(path, initial)
		equity := initial
		for _, t := range groups[k] {
			equity += t.NetPnL
			path = append(path, equity)
		}
		dd, _ := domain.Drawdown(path)
		out = append(out, domain.Breakdown{
			Key:            k,
			Trades:         st.Trades,
			WinRate:        st.WinRate,
			NetPnL:         st.NetPnL,
			Return:         domain.SafeDiv(st.NetPnL, initial),
			ProfitFactor:   st.ProfitFactor,
			MaxDrawdownPct: dd * 100,
		})
	}
	return out
}

// benchmarkStats pairs strategy and benchmark values on shared timestamps.
func benchmarkStats(curve domain.EquityCurve, bench []domain.EquityPoint, ppy float64) *domain.BenchmarkStats {
	byTime := make(map[int64]float64, len(bench))
	for _, p := range bench {
		byTime[p.Timestamp.UnixNano()] = p.Equity
	}
	var strat, ref []float64
	for _, p := range curve {
		if v, ok := byTime[p.Timestamp.UnixNano()]; ok {
			strat = append(strat, p.Equity)
			ref = append(ref, v)
		}
	}

	sr, br := periodReturns(strat), periodReturns(ref)
	out := &domain.BenchmarkStats{Periods: len(sr)}
	if len(sr) < 2 {
		return out
	}

	annStrat := annualize(strat[len(strat)-1], strat[0], len(sr), ppy)
	out.AnnualizedReturn = annualize(ref[len(ref)-1], ref[0], len(br), ppy)

	cov := domain.Covariance(sr, br)
	varB := domain.StdDev(br) * domain.StdDev(br)
	out.Beta = domain.SafeDiv(cov, varB)
	out.Alpha = annStrat - out.Beta*out.AnnualizedReturn
	out.Correlation = domain.SafeDiv(cov, domain.StdDev(sr)*domain.StdDev(br))

	active := make([]float64, len(sr))
	for i := range sr {
		active[i] = sr[i] - br[i]
	}
	out.TrackingError = domain.StdDev(active) * math.Sqrt(ppy)
	out.InformationRatio = domain.SafeDiv(annStrat-out.AnnualizedReturn, out.TrackingError)
	return out
}

package simulator

// A single deterministic event stream.
//
// Every per-symbol bar series and the signal feed are already sorted, so the
// stream is a k-way merge over one cursor per source instead of a full sort.
// Ties on timestamp are broken by symbol, then bars before signals, then
// input order, so identical inputs always replay identically.

import (
	"container/heap"
	"sort"
	"time"

	"github.com/alejandrodnm/backtester/internal/domain"
)

type eventKind int

const (
	eventBar eventKind = iota
	eventSignal
)

type event struct {
	kind   eventKind
	ts     time.Time
	symbol string
	seq    int
	bar    domain.Bar
	signal domain.Signal
}

func (a event) less(b event) bool {
	if !a.ts.Equal(b.ts) {
		return a.ts.Before(b.ts)
	}
	if a.symbol != b.symbol {
		return a.symbol < b.symbol
	}
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	return a.seq < b.seq
}

type cursor struct {
	events []event
	pos    int
}

func (c *cursor) head() event { return c.events[c.pos] }

type cursorHeap []*cursor

func (h cursorHeap) Len() int            { return len(h) }
func (h cursorHeap) Less(i, j int) bool  { return h[i].head().less(h[j].head()) }
func (h cursorHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x interface{}) { *h = append(*h, x.(*cursor)) }
func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// merger yields events in stream order.
type merger struct {
	h cursorHeap
}

func newMerger(bars map[string][]domain.Bar, signals []domain.Signal) *merger {
	m := &merger{}
	for sym, series := range bars {
		if len(series) == 0 {
			continue
		}
		evs := make([]event, len(series))
		for i, b := range series {
			evs[i] = event{kind: eventBar, ts: b.Timestamp, symbol: sym, seq: i, bar: b}
		}
		m.h = append(m.h, &cursor{events: evs})
	}
	if len(signals) > 0 {
		evs := make([]event, len(signals))
		for i, s := range signals {
			evs[i] = event{kind: eventSignal, ts: s.Timestamp, symbol: s.Symbol, seq: i, signal: s}
		}
		m.h = append(m.h, &cursor{events: evs})
	}
	heap.Init(&m.h)
	return m
}

func (m *merger) next() (event, bool) {
	if len(m.h) == 0 {
		return event{}, false
	}
	c := m.h[0]
	ev := c.head()
	c.pos++
	if c.pos == len(c.events) {
		heap.Pop(&m.h)
	} else {
		heap.Fix(&m.h, 0)
	}
	return ev, true
}

// indexedSignal keeps the feed position, used for stable IDs and ordering.
type indexedSignal struct {
	seq    int
	signal domain.Signal
}

// step is everything that happens at one timestamp.
type step struct {
	ts      time.Time
	bars    map[string]domain.Bar
	symbols []string // symbols with a bar, alphabetical
	signals []indexedSignal
}

// buildSteps drains the merger into timestamp groups. Signals inside a group
// are ordered by symbol then feed position.
func buildSteps(bars map[string][]domain.Bar, signals []domain.Signal) []step {
	m := newMerger(bars, signals)
	var steps []step
	var cur *step
	for {
		ev, ok := m.next()
		if !ok {
			break
		}
		if cur == nil || !cur.ts.Equal(ev.ts) {
			steps = append(steps, step{ts: ev.ts, bars: make(map[string]domain.Bar)})
			cur = &steps[len(steps)-1]
		}
		switch ev.kind {
		case eventBar:
			cur.bars[ev.symbol] = ev.bar
			cur.symbols = append(cur.symbols, ev.symbol)
		case eventSignal:
			cur.signals = append(cur.signals, indexedSignal{seq: ev.seq, signal: ev.signal})
		}
	}
	for i := range steps {
		sort.SliceStable(steps[i].signals, func(a, b int) bool {
			sa, sb := steps[i].signals[a], steps[i].signals[b]
			if sa.signal.Symbol != sb.signal.Symbol {
				return sa.signal.Symbol < sb.signal.Symbol
			}
			return sa.seq < sb.seq
		})
	}
	return steps
}

package tonal

import (
	"math"
)

// keyTracker is an online Viterbi accumulator over the 24 key states. Only
// the current best state is needed, so no backpointers are kept.
type keyTracker struct {
	stayBias          float64
	neighborBonus     float64
	transitionPenalty float64

	transition [NumKeys][NumKeys]float64
	acc        [NumKeys]float64
	next       [NumKeys]float64
	seeded     bool
	current    int
}

func newKeyTracker(stayBias, neighborBonus, transitionPenalty float64) *keyTracker {
	kt := &keyTracker{
		stayBias:          stayBias,
		neighborBonus:     neighborBonus,
		transitionPenalty: transitionPenalty,
		current:           -1,
	}
	for from := range NumKeys {
		for to := range NumKeys {
			switch {
			case from == to:
				kt.transition[from][to] = stayBias
			case isRelatedState(from, to):
				kt.transition[from][to] = neighborBonus
			default:
				kt.transition[from][to] = -transitionPenalty
			}
		}
	}
	return kt
}

// step folds one frame of instantaneous scores in and returns the tracked
// state. The accumulator is re-based so its maximum is 0 after each step.
func (kt *keyTracker) step(scores *[NumKeys]float64) int {
	if !kt.seeded {
		kt.acc = *scores
		kt.seeded = true
	} else {
		for to := range NumKeys {
			best := math.Inf(-1)
			for from := range NumKeys {
				best = math.Max(best, kt.acc[from]+kt.transition[from][to])
			}
			kt.next[to] = best + scores[to]
		}
		kt.acc = kt.next
	}

	kt.current = 0
	for k := 1; k < NumKeys; k++ {
		if kt.acc[k] > kt.acc[kt.current] {
			kt.current = k
		}
	}
	top := kt.acc[kt.current]
	for k := range kt.acc {
		kt.acc[k] -= top
	}
	return kt.current
}

func (kt *keyTracker) reset() {
	clear(kt.acc[:])
	kt.seeded = false
	kt.current = -1
}

// publishGate debounces key decisions. A leader must hold for the dwell
// time with a sufficient margin over the runner-up, and publications are
// rate limited. Times are in seconds of stream time.
type publishGate struct {
	dwell    float64
	margin   float64
	interval float64
	stayBias float64
	epsilon  float64

	pendingKey   int
	pendingSince float64
	lastPublish  float64
	published    bool
}

func newPublishGate(dwell, margin, interval, stayBias float64) *publishGate {
	return &publishGate{
		dwell:      dwell,
		margin:     margin,
		interval:   interval,
		stayBias:   stayBias,
		epsilon:    1e-6,
		pendingKey: -1,
	}
}

// offer evaluates one frame. It ranks the instantaneous scores, with the
// tracked state nudged by the stay bias, and returns the leader and its
// margin with ok set when the leader should be published now.
func (g *publishGate) offer(now float64, scores *[NumKeys]float64, tracked int) (leader int, margin float64, ok bool) {
	best, second := -1, -1
	bestScore, secondScore := math.Inf(-1), math.Inf(-1)
	for k, s := range scores {
		if k == tracked {
			s += g.stayBias
		}
		switch {
		case s > bestScore:
			second, secondScore = best, bestScore
			best, bestScore = k, s
		case s > secondScore:
			second, secondScore = k, s
		}
	}

	// Without a runner-up there is nothing to be confident against
	margin = 0.0
	if second >= 0 && secondScore > g.epsilon {
		margin = bestScore - secondScore
	}

	if best != g.pendingKey {
		g.pendingKey = best
		g.pendingSince = now
	}

	dwellOK := now-g.pendingSince >= g.dwell
	marginOK := margin >= g.margin
	rateOK := !g.published || now-g.lastPublish >= g.interval
	if !dwellOK || !marginOK || !rateOK {
		return best, margin, false
	}

	g.lastPublish = now
	g.published = true
	return best, margin, true
}

func (g *publishGate) reset() {
	g.pendingKey = -1
	g.pendingSince = 0
	g.lastPublish = 0
	g.published = false
}

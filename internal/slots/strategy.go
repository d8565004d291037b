package slots

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

const (
	StrategyFirst  = "first"
	StrategyRandom = "random"
)

// Strategy chooses a slot from the ascending list of free slot numbers.
type Strategy interface {
	Name() string
	Pick(free []int) (int, bool)
}

type FirstAvailable struct{}

func (FirstAvailable) Name() string { return StrategyFirst }

func (FirstAvailable) Pick(free []int) (int, bool) {
	if len(free) == 0 {
		return 0, false
	}
	return free[0], true
}

type Random struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandom(src rand.Source) *Random {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Random{rnd: rand.New(src)}
}

func (r *Random) Name() string { return StrategyRandom }

func (r *Random) Pick(free []int) (int, bool) {
	if len(free) == 0 {
		return 0, false
	}
	r.mu.Lock()
	idx := r.rnd.Intn(len(free))
	r.mu.Unlock()
	return free[idx], true
}

func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategyFirst:
		return FirstAvailable{}, nil
	case StrategyRandom:
		return NewRandom(nil), nil
	default:
		return nil, fmt.Errorf("unknown slot strategy %q", name)
	}
}

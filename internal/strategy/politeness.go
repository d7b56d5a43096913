package strategy

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// pauseController abstracts how a strategy backs off between fetches,
// so tests can skip real sleeps.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// jitterDelay returns a randomized politeness delay in [base, 3*base].
// The jitter makes request timing less regular, which lowers the odds
// of tripping bot detection.
type jitterDelay struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newJitterDelay() *jitterDelay {
	return &jitterDelay{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (j *jitterDelay) Next(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return base + time.Duration(j.rng.Int63n(int64(2*base)+1))
}

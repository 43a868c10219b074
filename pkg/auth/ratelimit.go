package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ActorLimiter keeps a token bucket per actor (authenticated user ID,
// or remote IP before authentication).
type ActorLimiter struct {
	mu      sync.Mutex
	actors  map[string]*actorBucket
	limit   rate.Limit
	burst   int
	maxIdle time.Duration
}

type actorBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewActorLimiter creates a limiter allowing rps requests per second
// with the given burst per actor. Idle buckets are dropped after three
// minutes.
func NewActorLimiter(rps float64, burst int) *ActorLimiter {
	l := &ActorLimiter{
		actors:  make(map[string]*actorBucket),
		limit:   rate.Limit(rps),
		burst:   burst,
		maxIdle: 3 * time.Minute,
	}
	go l.cleanup()
	return l
}

// Allow reports whether the actor may make one more request now.
func (l *ActorLimiter) Allow(actor string) bool {
	l.mu.Lock()
	b, ok := l.actors[actor]
	if !ok {
		b = &actorBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.actors[actor] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()
	return b.limiter.Allow()
}

// cleanup removes stale buckets to bound memory.
func (l *ActorLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		l.mu.Lock()
		for actor, b := range l.actors {
			if time.Since(b.lastSeen) > l.maxIdle {
				delete(l.actors, actor)
			}
		}
		l.mu.Unlock()
	}
}

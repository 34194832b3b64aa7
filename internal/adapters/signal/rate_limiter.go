package signal

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"
)

const limiterClients = 1024

// ConnectLimiter throttles websocket upgrades per client token. A nil
// limiter admits everything.
type ConnectLimiter struct {
	mu      sync.Mutex
	clients *lru.Cache
	limit   rate.Limit
	burst   int
}

// NewConnectLimiter returns nil when perSecond is not positive.
func NewConnectLimiter(perSecond float64, burst int) *ConnectLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	clients, _ := lru.New(limiterClients)
	return &ConnectLimiter{clients: clients, limit: rate.Limit(perSecond), burst: burst}
}

func (rl *ConnectLimiter) Allow(client string) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if v, ok := rl.clients.Get(client); ok {
		return v.(*rate.Limiter).Allow()
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	rl.clients.Add(client, l)
	return l.Allow()
}

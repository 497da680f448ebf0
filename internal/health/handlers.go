package health

import (
	"context"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-groupbuy/internal/common"
)

// Probe checks one dependency.
type Probe func(ctx context.Context) error

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips the readiness flag. Shutdown clears it so load balancers
// drain the instance before the listener closes.
func SetReady(v bool) { ready.Store(v) }

// IsReady reports the readiness flag.
func IsReady() bool { return ready.Load() }

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	// Probes are keyed by component name. Optional dependencies that are not
	// configured are simply absent.
	Probes  map[string]Probe
	Timeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !IsReady() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	names := make([]string, 0, len(h.Probes))
	for name := range h.Probes {
		names = append(names, name)
	}
	sort.Strings(names)

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		err := h.Probes[name](ctx)
		cancel()
		if err != nil {
			status[name] = err.Error()
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	common.JSON(w, code, status)
}

func (h Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.Timeout
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DBProbe probes a Postgres pool.
func DBProbe(db Pinger) Probe {
	return func(ctx context.Context) error { return db.Ping(ctx) }
}

// RedisProbe probes a Redis client.
func RedisProbe(client redis.UniversalClient) Probe {
	return func(ctx context.Context) error { return client.Ping(ctx).Err() }
}

package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const idemPending = "pending"

// Idem provides an Idempotency-Key middleware backed by Redis. The first
// completed response for a key is stored and replayed to retries.
type Idem struct {
	R   redis.UniversalClient
	TTL time.Duration
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

func hashKey(r *http.Request, key string) string {
	caller, _ := UserID(r.Context())
	sum := sha256.Sum256([]byte(caller + "|" + r.Method + "|" + r.URL.Path + "|" + key))
	return "idem:" + hex.EncodeToString(sum[:])
}

// Middleware enforces idempotency semantics for write endpoints.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := hashKey(r, header)
		ok, err := i.R.SetNX(ctx, key, idemPending, i.ttl()).Result()
		if err != nil {
			commonJSONError(w, err)
			return
		}
		if !ok {
			i.replay(ctx, w, key)
			return
		}

		rec := &bufferedWriter{ResponseWriter: w, status: http.StatusOK}
		completed := false
		defer func() {
			bg := context.WithoutCancel(ctx)
			if !completed || rec.status >= http.StatusInternalServerError {
				_ = i.R.Del(bg, key).Err()
				return
			}
			payload, err := json.Marshal(storedResponse{Status: rec.status, ContentType: rec.Header().Get("Content-Type"), Body: rec.body.Bytes()})
			if err != nil {
				_ = i.R.Del(bg, key).Err()
				return
			}
			_ = i.R.Set(bg, key, payload, i.ttl()).Err()
		}()
		next.ServeHTTP(rec, r)
		completed = true
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key string) {
	raw, err := i.R.Get(ctx, key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		commonJSONError(w, err)
		return
	}
	if err != nil || string(raw) == idemPending {
		JSONError(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "a request with this idempotency key is still running", nil)
		return
	}
	var stored storedResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		commonJSONError(w, err)
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 24 * time.Hour
	}
	return i.TTL
}

type bufferedWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) WriteHeader(code int) {
	b.status = code
	b.ResponseWriter.WriteHeader(code)
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.body.Write(p)
	return b.ResponseWriter.Write(p)
}

func commonJSONError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", map[string]any{"error": err.Error()})
}

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/noah-isme/backend-groupbuy/internal/common"
	"github.com/noah-isme/backend-groupbuy/internal/obs"
)

// ActorKind represents the source of an audited action.
type ActorKind string

const (
	// ActorKindUser represents a token-authenticated caller.
	ActorKindUser ActorKind = "user"
	// ActorKindGuest represents a caller identified only by the guest header.
	ActorKindGuest ActorKind = "guest"
	// ActorKindSystem represents internal automated actions.
	ActorKindSystem ActorKind = "system"
	// ActorKindAnonymous represents unauthenticated actors.
	ActorKindAnonymous ActorKind = "anonymous"
)

// Actor describes the entity performing the action.
type Actor struct {
	Kind ActorKind
	ID   string
}

// ActorFromContext derives the actor from the identity attached by auth.
func ActorFromContext(ctx context.Context) Actor {
	id, ok := common.UserID(ctx)
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return Actor{Kind: ActorKindAnonymous}
	}
	if strings.HasPrefix(id, "guest:") {
		return Actor{Kind: ActorKindGuest, ID: id}
	}
	return Actor{Kind: ActorKindUser, ID: id}
}

// Entry is one audited operator action.
type Entry struct {
	ID           int64           `json:"id"`
	ActorKind    string          `json:"actor_kind"`
	ActorID      string          `json:"actor_id,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Route        string          `json:"route,omitempty"`
	Status       int             `json:"status"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Store defines the persistence operations required for auditing.
type Store interface {
	InsertAuditLog(ctx context.Context, e Entry) error
	ListAuditLogs(ctx context.Context, limit, offset int) ([]Entry, error)
}

// Service persists audit logs for operator flows.
type Service struct {
	Store        Store
	Enabled      bool
	SamplingRate float64
}

// Record persists an audit log entry when auditing is enabled.
func (s Service) Record(ctx context.Context, actor Actor, action, resourceType, resourceID string, req *http.Request, status int, metadata []byte) error {
	if !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 {
		if rand.Float64() > s.SamplingRate {
			return nil
		}
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := obs.RoutePatternFromContext(req.Context())
	if route == "" {
		route = strings.TrimSpace(req.URL.Path)
	}
	finalStatus := status
	if finalStatus == 0 {
		finalStatus = http.StatusOK
	}
	requestID := middleware.GetReqID(req.Context())
	if requestID == "" {
		requestID = strings.TrimSpace(req.Header.Get("X-Request-ID"))
	}

	return s.Store.InsertAuditLog(ctx, Entry{
		ActorKind:    string(normalizeActorKind(actor.Kind)),
		ActorID:      strings.TrimSpace(actor.ID),
		Action:       buildAction(action, req.Method, route),
		ResourceType: buildResource(resourceType, route),
		ResourceID:   strings.TrimSpace(resourceID),
		Method:       req.Method,
		Path:         req.URL.Path,
		Route:        route,
		Status:       finalStatus,
		IP:           common.ClientIP(req),
		UserAgent:    strings.TrimSpace(req.Header.Get("User-Agent")),
		RequestID:    requestID,
		Metadata:     toJSONB(metadata, req.URL.RawQuery),
	})
}

func buildAction(action, method, route string) string {
	trimmed := strings.TrimSpace(action)
	if trimmed != "" {
		return trimmed
	}
	target := route
	if target == "" {
		target = "/"
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + target
}

func buildResource(resourceType, route string) string {
	trimmed := strings.TrimSpace(resourceType)
	if trimmed != "" {
		return trimmed
	}
	route = strings.TrimSpace(route)
	if route == "" {
		return "unknown"
	}
	segments := strings.Split(strings.Trim(route, "/"), "/")
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "v1" {
		return strings.Join(segments[2:], ".")
	}
	return strings.ReplaceAll(strings.Trim(route, "/"), "/", ".")
}

func normalizeActorKind(kind ActorKind) ActorKind {
	switch kind {
	case ActorKindUser, ActorKindGuest, ActorKindSystem:
		return kind
	default:
		return ActorKindAnonymous
	}
}

func toJSONB(metadata []byte, query string) json.RawMessage {
	if len(metadata) > 0 {
		return metadata
	}
	if strings.TrimSpace(query) == "" {
		return nil
	}
	data, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil
	}
	return data
}

package app

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-groupbuy/internal/archive"
	"github.com/noah-isme/backend-groupbuy/internal/audit"
	"github.com/noah-isme/backend-groupbuy/internal/auth"
	"github.com/noah-isme/backend-groupbuy/internal/common"
	"github.com/noah-isme/backend-groupbuy/internal/groupbuy"
	"github.com/noah-isme/backend-groupbuy/internal/health"
	"github.com/noah-isme/backend-groupbuy/internal/obs"
	"github.com/noah-isme/backend-groupbuy/internal/ratelimit"
	"github.com/noah-isme/backend-groupbuy/internal/security"
)

// BasePath is the mount point of the group-buy API.
const BasePath = "/api/v1/group-buys"

// Dependencies enumerates what the HTTP surface needs. Optional pieces are nil
// or zero when the backing infrastructure is not configured.
type Dependencies struct {
	Logger    zerolog.Logger
	GroupBuy  *groupbuy.Handler
	Archive   archive.Handler
	Auth      auth.Middleware
	Health    health.Handler
	Headers   security.Headers
	BodyLimit security.BodyLimit

	// Idempotency guards finalize. Nil disables the Idempotency-Key contract.
	Idempotency *common.Idem
	// UpsertLimit throttles contribution writes per contributor.
	UpsertLimit *ratelimit.Handler
	// Audit records operator actions. Nil disables auditing.
	Audit     *audit.HTTPRecorder
	AuditList audit.Handler

	HTTPMetrics    *obs.HTTPMetrics
	MetricsHandler http.Handler
	Tracing        bool

	CORSAllowedOrigins []string

	PprofEnabled bool
	PprofUser    string
	PprofPass    string
}

// NewRouter assembles the chi router for the API process.
func NewRouter(d Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if d.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if d.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: d.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.Logger}.Middleware)
	r.Use(d.Headers.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(d.CORSAllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", auth.GuestHeader},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Idempotent-Replayed"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if d.MetricsHandler != nil {
		r.Handle("/metrics", d.MetricsHandler)
	}
	if d.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), d.PprofUser, d.PprofPass))
	}
	r.Get("/health/live", d.Health.Live)
	r.Get("/health/ready", d.Health.Ready)

	gb := d.GroupBuy
	if gb == nil {
		return r
	}
	r.Route(BasePath, func(v chi.Router) {
		v.Use(d.BodyLimit.Middleware)
		v.Use(d.Auth.Authenticate)

		v.With(d.Auth.RequireAuth).Get("/audit", d.AuditList.List)
		v.With(d.Auth.RequireAuth, d.Audit.Middleware(audit.HTTPConfig{
			Action:       "groupbuy.register",
			ResourceType: "product",
		})).Post("/products", gb.Register)
		v.Route("/products/{productID}", func(p chi.Router) {
			p.Get("/", gb.Status)
			p.Get("/top-contributor", gb.TopContributor)
			p.Get("/history", gb.History)
			p.Get("/archive", d.Archive.List)

			p.Group(func(c chi.Router) {
				if d.UpsertLimit != nil {
					c.Use(d.UpsertLimit.Middleware)
				}
				c.Put("/contribution", gb.SetContribution)
				c.Delete("/contribution", gb.RemoveContribution)
			})

			p.Group(func(op chi.Router) {
				op.Use(d.Auth.RequireAuth)
				op.With(d.Audit.Middleware(audit.HTTPConfig{
					Action:          "groupbuy.seed_baseline",
					ResourceType:    "product",
					ResourceIDParam: "productID",
				})).Put("/baseline", gb.SeedBaseline)

				finalize := op.With(d.Audit.Middleware(audit.HTTPConfig{
					Action:          "groupbuy.finalize",
					ResourceType:    "product",
					ResourceIDParam: "productID",
				}))
				if d.Idempotency != nil {
					finalize = finalize.With(d.Idempotency.Middleware)
				}
				finalize.Post("/finalize", gb.Finalize)
			})
		})
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorised", nil)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

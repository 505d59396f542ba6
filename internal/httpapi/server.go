// Package httpapi exposes the authentication engine over HTTP/JSON.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/MrEthical07/authkit"
	promexport "github.com/MrEthical07/authkit/metrics/export/prometheus"
	"github.com/MrEthical07/authkit/middleware"
	"github.com/MrEthical07/authkit/permission"
)

// Options configures the HTTP surface.
type Options struct {
	CORSOrigins []string
	// TrustProxy reads the client address from forwarding headers.
	TrustProxy bool
	// MetricsEnabled serves /metrics.
	MetricsEnabled bool
}

// Server routes requests to the engine.
type Server struct {
	engine   *authkit.Engine
	log      *zap.Logger
	opts     Options
	registry *prometheus.Registry
	metrics  *httpMetrics
}

// New wires a Server. Each Server owns its Prometheus registry.
func New(engine *authkit.Engine, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		promexport.NewExporter(engine),
	)
	return &Server{
		engine:   engine,
		log:      log.Named("http"),
		opts:     opts,
		registry: reg,
		metrics:  newHTTPMetrics(reg),
	}
}

// Handler returns the complete handler chain: CORS, tracing, then the router.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"X-Requires-2FA"},
		AllowCredentials: true,
	})
	return c.Handler(otelhttp.NewHandler(s.Router(), "authkit"))
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recoverer, s.observe, middleware.ClientMeta(s.opts.TrustProxy))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusNotFound, authkit.CodeNotFound, "route not found")
	})

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if s.opts.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	guard := middleware.Guard(s.engine)

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", s.register).Methods(http.MethodPost)
	auth.HandleFunc("/verify-email", s.verifyEmail).Methods(http.MethodGet)
	auth.HandleFunc("/resend-verification", s.resendVerification).Methods(http.MethodPost)
	auth.HandleFunc("/login", s.login).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", s.refresh).Methods(http.MethodPost)
	auth.HandleFunc("/logout", s.logout).Methods(http.MethodPost)
	auth.HandleFunc("/forgot-password", s.forgotPassword).Methods(http.MethodPost)
	auth.HandleFunc("/reset-password", s.resetPassword).Methods(http.MethodPost)
	auth.Handle("/logout-all", guard(http.HandlerFunc(s.logoutAll))).Methods(http.MethodPost)
	auth.Handle("/me", guard(http.HandlerFunc(s.me))).Methods(http.MethodGet)
	auth.Handle("/change-password", guard(http.HandlerFunc(s.changePassword))).Methods(http.MethodPost)
	auth.Handle("/sessions", guard(http.HandlerFunc(s.listSessions))).Methods(http.MethodGet)
	auth.Handle("/sessions/{id}", guard(http.HandlerFunc(s.revokeSession))).Methods(http.MethodDelete)

	tfa := r.PathPrefix("/2fa").Subrouter()
	tfa.Use(guard)
	tfa.HandleFunc("/setup", s.setupTwoFactor).Methods(http.MethodPost)
	tfa.HandleFunc("/enable", s.enableTwoFactor).Methods(http.MethodPost)
	tfa.HandleFunc("/disable", s.disableTwoFactor).Methods(http.MethodPost)
	tfa.HandleFunc("/verify", s.verifyTwoFactor).Methods(http.MethodPost)
	tfa.HandleFunc("/status", s.twoFactorStatus).Methods(http.MethodGet)
	tfa.HandleFunc("/regenerate-codes", s.regenerateCodes).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(guard)
	can := func(perm string, h http.HandlerFunc) http.Handler {
		return middleware.RequirePermission(s.engine, perm)(h)
	}
	admin.Handle("/users", can(permission.UserRead, s.listUsers)).Methods(http.MethodGet)
	admin.Handle("/users/{id}", can(permission.UserRead, s.getUser)).Methods(http.MethodGet)
	admin.Handle("/users/{id}", can(permission.UserUpdate, s.updateUser)).Methods(http.MethodPut)
	admin.Handle("/users/{id}/status", can(permission.UserUpdate, s.setUserStatus)).Methods(http.MethodPut)
	admin.Handle("/users/{id}/verify", can(permission.UserVerify, s.markVerified)).Methods(http.MethodPost)
	admin.Handle("/users/{id}/permissions", can(permission.UserRead, s.userPermissions)).Methods(http.MethodGet)
	admin.Handle("/users/{id}/roles", can(permission.UserManageRoles, s.assignRole)).Methods(http.MethodPost)
	admin.Handle("/users/{id}/roles/{role}", can(permission.UserManageRoles, s.removeRole)).Methods(http.MethodDelete)
	admin.Handle("/roles", can(permission.UserManageRoles, s.listRoles)).Methods(http.MethodGet)
	admin.Handle("/roles", can(permission.UserManageRoles, s.createRole)).Methods(http.MethodPost)
	admin.Handle("/roles/{name}", can(permission.UserManageRoles, s.getRole)).Methods(http.MethodGet)
	admin.Handle("/roles/{name}", can(permission.UserManageRoles, s.updateRole)).Methods(http.MethodPut)
	admin.Handle("/roles/{name}", can(permission.UserManageRoles, s.deleteRole)).Methods(http.MethodDelete)
	admin.Handle("/permissions", can(permission.UserManageRoles, s.listPermissions)).Methods(http.MethodGet)
	admin.Handle("/audit-logs", can(permission.SystemAudit, s.auditLogs)).Methods(http.MethodGet)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Ping(r.Context()); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusRecorder captures the status code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		duration := time.Since(start)

		path := routeTemplate(r)
		s.metrics.observe(r.Method, path, rw.status, duration)
		if rw.status >= http.StatusInternalServerError {
			s.log.Error("request failed",
				zap.String("method", r.Method),
				zap.String("path", path),
				zap.Int("status", rw.status),
				zap.Duration("duration", duration),
			)
			return
		}
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.Int("status", rw.status),
			zap.Duration("duration", duration),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic in handler", zap.Any("panic", rec), zap.String("path", r.URL.Path), zap.Stack("stack"))
				middleware.WriteError(w, errInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// routeTemplate keeps metric labels bounded by using the mux template.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil && tpl != "" {
			return tpl
		}
	}
	return "unmatched"
}

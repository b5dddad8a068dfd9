// Package api assembles the HTTP surface: the middleware stack, the JSON API
// under /api/v1, operational endpoints and the web pages.
package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Togather-Foundation/appkit/internal/api/handlers"
	"github.com/Togather-Foundation/appkit/internal/api/middleware"
	"github.com/Togather-Foundation/appkit/internal/api/problem"
	"github.com/Togather-Foundation/appkit/internal/app"
	"github.com/Togather-Foundation/appkit/internal/auth/oauth"
	"github.com/Togather-Foundation/appkit/internal/metrics"
	"github.com/Togather-Foundation/appkit/internal/routes"
	"github.com/Togather-Foundation/appkit/web"
)

var errNoRoute = errors.New("no route")

// Router is the mounted handler together with the tree it was built from.
type Router struct {
	Handler http.Handler
	Tree    *routes.Tree
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.Handler.ServeHTTP(w, req)
}

// NewRouter builds the route tree from deps, validates it and mounts it on a
// chi router behind the shared middleware stack.
func NewRouter(deps *app.Deps, build BuildInfo) (*Router, error) {
	tree, err := Routes(deps, build)
	if err != nil {
		return nil, err
	}

	cfg := deps.Config
	env := cfg.Environment

	r := chi.NewRouter()
	r.Use(
		chimw.Recoverer,
		middleware.CorrelationID(deps.Logger),
		middleware.Tracing,
		metrics.HTTPMiddleware,
		middleware.RequestLogging,
		middleware.SecurityHeaders(cfg.IsProduction()),
		middleware.CORS("/api/", cfg.CORS.AllowedOrigins, cfg.CORSAllowAll()),
		middleware.PublicRateLimit(cfg.RateLimit.PublicPerMinute, env),
	)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		problem.NotFound(w, req, errNoRoute, env)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		problem.Write(w, req, http.StatusMethodNotAllowed, problem.TypeMethodNotAllowed, "Method not allowed", nil, env)
	})

	if err := tree.Mount(r); err != nil {
		return nil, err
	}
	return &Router{Handler: r, Tree: tree}, nil
}

// Routes declares every route and page. Optional features only contribute
// routes when their client was constructed.
func Routes(deps *app.Deps, build BuildInfo) (*routes.Tree, error) {
	env := deps.Config.Environment
	root := routes.New("")
	root.Env = env

	health := handlers.NewHealthChecker(deps.Checks(), build.Version, build.GitCommit)
	root.Handle("healthz", http.MethodGet, "/healthz", handlers.Healthz)
	root.Handle("readyz", http.MethodGet, "/readyz", health.Readyz)
	root.Handle("health", http.MethodGet, "/health", health.Health)
	root.Handle("version", http.MethodGet, "/version", VersionHandler(build))
	root.Add(routes.Route{
		Name:    "metrics",
		Method:  http.MethodGet,
		Pattern: "/metrics",
		Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	})

	users := deps.Store.Users()

	if deps.OAuth != nil {
		oh := &handlers.OAuthHandler{Provider: deps.OAuth, Auth: deps.Auth, Users: users, Audit: deps.Audit, Env: env}
		root.Handle("oauth.start", http.MethodGet, oauth.StartPath, oh.Start)
		root.Handle("oauth.callback", http.MethodGet, oauth.CallbackPath, oh.Callback)
	}

	v1 := root.Group("/api/v1", middleware.RequestSize(middleware.DefaultMaxBodySize))
	v1.Handle("routes", http.MethodGet, "/routes", handlers.RouteTable(root))

	ah := &handlers.AuthHandler{Users: users, Auth: deps.Auth, Audit: deps.Audit, Env: env}
	throttle := deps.LoginThrottle
	if throttle == nil {
		throttle = middleware.NewLoginThrottle(env)
	}
	v1.Add(routes.Route{
		Name:    "auth.login",
		Method:  http.MethodPost,
		Pattern: "/auth/login",
		Handler: throttle.Middleware(http.HandlerFunc(ah.Login)),
	})
	v1.Handle("auth.logout", http.MethodPost, "/auth/logout", ah.Logout)

	authed := v1.Group("", middleware.RequireAuth(deps.Auth, env))
	authed.Handle("auth.me", http.MethodGet, "/auth/me", ah.Me)

	vh := &handlers.VectorsHandler{Store: deps.Vectors, Env: env}
	authed.Handle("vectors.upsert", http.MethodPost, "/vectors", vh.Upsert)
	authed.Handle("vectors.search", http.MethodGet, "/vectors/search", vh.Search)

	if deps.AI != nil {
		gh := &handlers.AgentsHandler{AI: deps.AI, Env: env}
		authed.Handle("agents.list", http.MethodGet, "/agents", gh.List)
		authed.Handle("agents.generate", http.MethodPost, "/agents/{name}/generate", gh.Generate)
	}

	admin := authed.Group("", middleware.RequireAdmin(env))
	mh := &handlers.MailHandler{Enqueuer: deps.Enqueuer, BaseURL: deps.Config.Server.BaseURL, Audit: deps.Audit, Env: env}
	admin.Handle("mail.test", http.MethodPost, "/mail/test", mh.SendTest)

	if deps.KMS != nil {
		kh := &handlers.KMSHandler{KMS: deps.KMS, Audit: deps.Audit, Env: env}
		admin.Handle("kms.encrypt", http.MethodPost, "/kms/encrypt", kh.Encrypt)
		admin.Handle("kms.decrypt", http.MethodPost, "/kms/decrypt", kh.Decrypt)
	}

	site, err := web.Pages(deps)
	if err != nil {
		return nil, err
	}
	root.Children = append(root.Children, site)

	return root, nil
}

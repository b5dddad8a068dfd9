// Package web serves the server-rendered pages: the landing page, the login
// form and the agent console. Pages are declared on a routes.Tree so they are
// validated together with the API routes.
package web

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/Togather-Foundation/appkit/internal/ai"
	"github.com/Togather-Foundation/appkit/internal/api/middleware"
	"github.com/Togather-Foundation/appkit/internal/app"
	"github.com/Togather-Foundation/appkit/internal/routes"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/robots.txt
var robotsTxt []byte

// LoginPath is where unauthenticated page requests are sent.
const LoginPath = "/login"

// maxFormSize bounds login and prompt submissions.
const maxFormSize = 64 << 10

// Templates parses the embedded page templates.
func Templates() (*routes.TemplateRenderer, error) {
	renderer, err := routes.ParseTemplates(templateFS, template.FuncMap{}, "templates/*.html")
	if err != nil {
		return nil, err
	}
	renderer.Globals = globals
	return renderer, nil
}

// globals are available to every template as .Globals.
func globals(r *http.Request) map[string]any {
	g := map[string]any{
		"CSRFField": middleware.CSRFField(r),
	}
	if claims := middleware.Claims(r); claims != nil {
		g["User"] = claims
	}
	return g
}

// Pages declares the web tree. Forms are CSRF protected; the session cookie
// is read when present so pages can show who is signed in.
func Pages(deps *app.Deps) (*routes.Tree, error) {
	renderer, err := Templates()
	if err != nil {
		return nil, err
	}
	cfg := deps.Config
	env := cfg.Environment

	site := routes.New("")
	site.Renderer = renderer
	site.Env = env
	site.Handle("robots", http.MethodGet, "/robots.txt", RobotsTxt)

	pages := site.Group("",
		middleware.RequestSize(maxFormSize),
		middleware.CSRFProtection(deps.Auth.CSRFKey(), cfg.Auth.CookieSecure, env),
		middleware.OptionalAuth(deps.Auth),
	)

	var agents Agents
	if deps.AI != nil {
		agents = deps.AI
	}
	pages.Page(routes.Page{
		Name:     "landing",
		Pattern:  "/",
		Template: "landing.html",
		Load:     landing(deps, agents),
	})

	lp := &loginPages{Users: deps.Store.Users(), Auth: deps.Auth, OAuth: deps.OAuth != nil, Audit: deps.Audit, Env: env}
	pages.Page(routes.Page{Name: "login", Pattern: LoginPath, Template: "login.html", Load: lp.load})
	throttle := deps.LoginThrottle
	if throttle == nil {
		throttle = middleware.NewLoginThrottle(env)
	}
	pages.Add(routes.Route{
		Name:    "login.submit",
		Method:  http.MethodPost,
		Pattern: LoginPath,
		Handler: throttle.Middleware(http.HandlerFunc(lp.submit)),
	})
	pages.Handle("logout", http.MethodPost, "/logout", lp.logout)

	ap := &agentPages{Agents: agents, Renderer: renderer, Env: env}
	console := pages.Group("/agents", middleware.RequireLogin(deps.Auth, LoginPath))
	console.Page(routes.Page{Name: "agent", Pattern: "/{name}", Template: "agent.html", Load: ap.load})
	console.Handle("agent.ask", http.MethodPost, "/{name}", ap.ask)

	return site, nil
}

// RobotsTxt serves the embedded robots.txt.
func RobotsTxt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(robotsTxt)
}

type clientStatus struct {
	Name    string
	Enabled bool
}

type landingData struct {
	Clients []clientStatus
	Agents  []ai.Agent
}

func landing(deps *app.Deps, agents Agents) func(*http.Request) (any, error) {
	return func(r *http.Request) (any, error) {
		data := landingData{
			Clients: []clientStatus{
				{Name: app.ClientDatabase, Enabled: deps.Store != nil},
				{Name: app.ClientRedis, Enabled: deps.Redis != nil},
				{Name: app.ClientOAuth, Enabled: deps.OAuth != nil},
				{Name: app.ClientJobs, Enabled: deps.Jobs != nil},
				{Name: app.ClientAI, Enabled: deps.AI != nil},
				{Name: app.ClientEmbedder + " (" + deps.EmbedderKind + ")", Enabled: deps.Embedder != nil},
				{Name: app.ClientVectorStore, Enabled: deps.Vectors != nil},
				{Name: app.ClientKMS, Enabled: deps.KMS != nil},
			},
		}
		if agents != nil {
			data.Agents = agents.Agents()
		}
		return data, nil
	}
}

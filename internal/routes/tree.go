// Package routes declares the HTTP surface as a tree of named routes and
// pages. A tree is validated as a whole before anything is registered, so two
// declarations can never claim the same method and path.
package routes

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ErrNotFound is returned by page loaders when the requested item does not
// exist. The page renders a 404 instead of a 500.
var ErrNotFound = errors.New("not found")

// Route binds a method and pattern to a handler. An empty Method matches any
// method.
type Route struct {
	Name    string
	Method  string
	Pattern string
	Handler http.Handler
}

// Page is a GET route that loads data and renders a template with it.
type Page struct {
	Name     string
	Pattern  string
	Template string
	Load     func(*http.Request) (any, error)
}

// Tree is one level of the route hierarchy. Prefix and Middleware apply to
// every declaration in the tree and its children.
type Tree struct {
	Prefix     string
	Middleware []func(http.Handler) http.Handler
	Routes     []Route
	Pages      []Page
	Children   []*Tree

	// Renderer draws pages. Children inherit it when unset.
	Renderer Renderer
	// Env controls problem detail on page errors. Children inherit it.
	Env string
}

// New returns an empty tree rooted at prefix.
func New(prefix string, middleware ...func(http.Handler) http.Handler) *Tree {
	return &Tree{Prefix: prefix, Middleware: middleware}
}

// Add appends routes as declared.
func (t *Tree) Add(routes ...Route) *Tree {
	t.Routes = append(t.Routes, routes...)
	return t
}

// Handle declares a route from a handler func.
func (t *Tree) Handle(name, method, pattern string, h http.HandlerFunc) *Tree {
	return t.Add(Route{Name: name, Method: method, Pattern: pattern, Handler: h})
}

// Page declares a page.
func (t *Tree) Page(p Page) *Tree {
	t.Pages = append(t.Pages, p)
	return t
}

// Group adds a child tree under prefix and returns it.
func (t *Tree) Group(prefix string, middleware ...func(http.Handler) http.Handler) *Tree {
	child := New(prefix, middleware...)
	t.Children = append(t.Children, child)
	return child
}

// DuplicateRouteError reports two declarations claiming the same method and
// path.
type DuplicateRouteError struct {
	Method string
	Path   string
	First  string
	Second string
}

func (e *DuplicateRouteError) Error() string {
	method := e.Method
	if method == "" {
		method = "ANY"
	}
	return fmt.Sprintf("duplicate route %s %s: declared by %q and %q", method, e.Path, e.First, e.Second)
}

// Entry is one row of the route table.
type Entry struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
}

const (
	KindRoute = "route"
	KindPage  = "page"
)

// flat is a declaration resolved against its ancestors.
type flat struct {
	Entry
	handler    http.Handler
	page       *Page
	middleware []func(http.Handler) http.Handler
	renderer   Renderer
	env        string
}

var paramName = regexp.MustCompile(`\{[^}]*\}`)

// pathKey ignores parameter names so /a/{id} and /a/{slug} collide, matching
// how the router resolves them.
func pathKey(p string) string {
	return paramName.ReplaceAllString(p, "{}")
}

func joinPath(prefix, pattern string) string {
	if prefix == "" || prefix == "/" {
		return pattern
	}
	joined := path.Join(prefix, pattern)
	if strings.HasSuffix(pattern, "/") && !strings.HasSuffix(joined, "/") {
		joined += "/"
	}
	return joined
}

func (t *Tree) flatten() ([]flat, error) {
	var out []flat
	var walk func(n *Tree, prefix string, mw []func(http.Handler) http.Handler, renderer Renderer, env string) error
	walk = func(n *Tree, prefix string, mw []func(http.Handler) http.Handler, renderer Renderer, env string) error {
		if n.Prefix != "" && !strings.HasPrefix(n.Prefix, "/") {
			return fmt.Errorf("group prefix %q must start with /", n.Prefix)
		}
		prefix = joinPath(prefix, n.Prefix)
		if prefix == "" {
			prefix = "/"
		}
		stack := append(append([]func(http.Handler) http.Handler{}, mw...), n.Middleware...)
		if n.Renderer != nil {
			renderer = n.Renderer
		}
		if n.Env != "" {
			env = n.Env
		}

		for _, r := range n.Routes {
			if !strings.HasPrefix(r.Pattern, "/") {
				return fmt.Errorf("route %q: pattern %q must start with /", r.Name, r.Pattern)
			}
			if r.Handler == nil {
				return fmt.Errorf("route %q: handler is nil", r.Name)
			}
			out = append(out, flat{
				Entry:      Entry{Method: strings.ToUpper(r.Method), Path: joinPath(prefix, r.Pattern), Name: r.Name, Kind: KindRoute},
				handler:    r.Handler,
				middleware: stack,
				env:        env,
			})
		}
		for i := range n.Pages {
			p := n.Pages[i]
			if !strings.HasPrefix(p.Pattern, "/") {
				return fmt.Errorf("page %q: pattern %q must start with /", p.Name, p.Pattern)
			}
			if p.Template == "" {
				return fmt.Errorf("page %q: template is required", p.Name)
			}
			out = append(out, flat{
				Entry:      Entry{Method: http.MethodGet, Path: joinPath(prefix, p.Pattern), Name: p.Name, Kind: KindPage},
				page:       &p,
				middleware: stack,
				renderer:   renderer,
				env:        env,
			})
		}
		for _, c := range n.Children {
			if err := walk(c, prefix, stack, renderer, env); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(t, "", nil, nil, ""); err != nil {
		return nil, err
	}
	return out, nil
}

func validate(decls []flat) error {
	byPath := make(map[string][]flat)
	for _, d := range decls {
		key := pathKey(d.Path)
		for _, prev := range byPath[key] {
			if prev.Method == d.Method || prev.Method == "" || d.Method == "" {
				return &DuplicateRouteError{Method: d.Method, Path: d.Path, First: prev.Name, Second: d.Name}
			}
		}
		byPath[key] = append(byPath[key], d)
	}
	return nil
}

// Validate checks that every method and path is declared at most once. A
// declaration without a method conflicts with every other declaration on the
// same path.
func (t *Tree) Validate() error {
	decls, err := t.flatten()
	if err != nil {
		return err
	}
	return validate(decls)
}

// Table lists every declaration sorted by path, then method.
func (t *Tree) Table() []Entry {
	decls, err := t.flatten()
	if err != nil {
		return nil
	}
	entries := make([]Entry, 0, len(decls))
	for _, d := range decls {
		e := d.Entry
		if e.Method == "" {
			e.Method = "ANY"
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Path != entries[j].Path {
			return entries[i].Path < entries[j].Path
		}
		return entries[i].Method < entries[j].Method
	})
	return entries
}

// Mount validates the tree and registers every declaration on r.
func (t *Tree) Mount(r chi.Router) error {
	decls, err := t.flatten()
	if err != nil {
		return err
	}
	if err := validate(decls); err != nil {
		return err
	}

	for _, d := range decls {
		h := d.handler
		if d.page != nil {
			if d.renderer == nil {
				return fmt.Errorf("page %q: no renderer configured", d.Name)
			}
			h = pageHandler(*d.page, d.renderer, d.env)
		}
		sub := r.With(d.middleware...)
		if d.Method == "" {
			sub.Handle(d.Path, h)
		} else {
			sub.Method(d.Method, d.Path, h)
		}
	}
	return nil
}

package routes

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/Togather-Foundation/appkit/internal/api/problem"
)

// Renderer draws a named template with loader data.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request, name string, data any) error
}

// PageData is what templates receive: the loader result plus request globals.
type PageData struct {
	Data    any
	Globals map[string]any
}

// TemplateRenderer renders html/template files. Output is buffered so a
// failing template never produces a partial page.
type TemplateRenderer struct {
	Templates *template.Template
	Globals   func(*http.Request) map[string]any
}

// ParseTemplates parses every file matching patterns in fsys.
func ParseTemplates(fsys fs.FS, funcs template.FuncMap, patterns ...string) (*TemplateRenderer, error) {
	tmpl, err := template.New("").Funcs(funcs).ParseFS(fsys, patterns...)
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &TemplateRenderer{Templates: tmpl}, nil
}

func (t *TemplateRenderer) Render(w http.ResponseWriter, r *http.Request, name string, data any) error {
	page := PageData{Data: data}
	if t.Globals != nil {
		page.Globals = t.Globals(r)
	}
	var buf bytes.Buffer
	if err := t.Templates.ExecuteTemplate(&buf, name, page); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err := buf.WriteTo(w)
	return err
}

func pageHandler(p Page, renderer Renderer, env string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var data any
		if p.Load != nil {
			loaded, err := p.Load(r)
			if errors.Is(err, ErrNotFound) {
				problem.NotFound(w, r, err, env)
				return
			}
			if err != nil {
				problem.Internal(w, r, fmt.Errorf("page %s: %w", p.Name, err), env)
				return
			}
			data = loaded
		}
		if err := renderer.Render(w, r, p.Template, data); err != nil {
			problem.Internal(w, r, err, env)
		}
	}
}

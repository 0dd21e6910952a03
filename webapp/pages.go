package webapp

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
)

type (
	pages map[string]*template.Template

	page struct {
		Error     string
		Identity  string
		LoggedIn  bool
		Providers []string
		Secrets   []string
	}
)

//go:embed templates/*.html
var templates embed.FS

func loadPages() (pages, error) {
	out := make(pages)
	for _, name := range []string{"home", "register", "login", "secrets", "submit"} {
		t, err := template.ParseFS(templates, "templates/layout.html", fmt.Sprintf("templates/%v.html", name))
		if err != nil {
			return nil, fmt.Errorf("unable to parse page %v, cause %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

// render writes the page only after it was fully executed, a template
// error never leaves half a page on the wire.
func (p pages) render(w http.ResponseWriter, status int, name string, data page) error {
	t, ok := p[name]
	if !ok {
		return fmt.Errorf("unknown page %v", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("unable to render page %v, cause %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

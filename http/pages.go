package http

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"diabetesml/dataset"
	"diabetesml/db"
	"diabetesml/monitoring"
	"diabetesml/prediction"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var pageNames = []string{"index", "predict_form", "batch_form", "results", "result", "about"}

// pageData 页面渲染数据
type pageData struct {
	Title    string
	Active   string
	Flashes  []flashMessage
	Features []string
	Result   *prediction.Result
	Results  []*prediction.Result
	Runs     []db.TrainingRun
	RunsErr  string
	Health   monitoring.Snapshot
}

type pages struct {
	templates map[string]*template.Template
}

var templateFuncs = template.FuncMap{
	"field": func(rec *dataset.Record, key string) any {
		if rec == nil {
			return ""
		}
		value, _ := rec.Get(key)
		return value
	},
	"percent": prediction.FormatPercent,
}

func loadPages() (*pages, error) {
	p := &pages{templates: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		tmpl, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		p.templates[name] = tmpl
	}
	return p, nil
}

func (p *pages) render(w http.ResponseWriter, status int, name string, data pageData) error {
	tmpl, ok := p.templates[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServerFS(sub))
}

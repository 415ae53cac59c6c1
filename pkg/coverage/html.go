package coverage

import (
	"bufio"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
)

// HTMLOptions controls WriteHTML.
type HTMLOptions struct {
	Title string

	// SkipCovered leaves files with every statement covered out of the report.
	SkipCovered bool

	// SkipEmpty leaves files without statements out of the report.
	SkipEmpty bool

	// SourceRoot, when set, is where file names are resolved to render annotated
	// source. Unreadable sources are reported by line number only.
	SourceRoot string
}

type htmlFile struct {
	FileCoverage
	Page    string
	Percent string
	Miss    int
	Lines   []htmlLine
	Ranges  string
}

type htmlLine struct {
	Number  int
	Text    string
	Missing bool
}

type indexData struct {
	Title   string
	Files   []htmlFile
	Total   string
	Stmts   int
	Miss    int
	Skipped int
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title>
<style>
body{font-family:sans-serif;margin:2em}
table{border-collapse:collapse}
td,th{padding:.25em .75em;border-bottom:1px solid #ddd;text-align:right}
td:first-child,th:first-child{text-align:left}
</style></head>
<body>
<h1>{{.Title}}: {{.Total}}</h1>
<table>
<tr><th>Module</th><th>statements</th><th>missing</th><th>coverage</th></tr>
{{range .Files}}<tr><td><a href="{{.Page}}">{{.Name}}</a></td><td>{{.Statements}}</td><td>{{.Miss}}</td><td>{{.Percent}}</td></tr>
{{end}}<tr><th>Total</th><th>{{.Stmts}}</th><th>{{.Miss}}</th><th>{{.Total}}</th></tr>
</table>
{{if .Skipped}}<p>{{.Skipped}} file(s) skipped due to complete coverage or no statements.</p>{{end}}
</body></html>
`))

var fileTmpl = template.Must(template.New("file").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Name}}</title>
<style>
body{font-family:sans-serif;margin:2em}
pre{margin:0}
.miss{background:#fdd}
.num{color:#999;padding-right:1em;text-align:right}
</style></head>
<body>
<p><a href="index.html">index</a></p>
<h1>{{.Name}}: {{.Percent}}</h1>
<p>{{.Statements}} statements, {{.Miss}} missing{{if .Ranges}}: {{.Ranges}}{{end}}</p>
{{if .Lines}}<table>
{{range .Lines}}<tr{{if .Missing}} class="miss"{{end}}><td class="num">{{.Number}}</td><td><pre>{{.Text}}</pre></td></tr>
{{end}}</table>{{end}}
</body></html>
`))

// WriteHTML renders an index page plus one page per reported file into dir and
// returns the paths written.
func WriteHTML(dir string, p *Profile, opts HTMLOptions) ([]string, error) {
	if opts.Title == "" {
		opts.Title = "Coverage report"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	data := indexData{Title: opts.Title, Total: FormatPercent(p.Ratio(), 2)}
	data.Stmts, data.Miss = p.Totals()
	data.Miss = data.Stmts - data.Miss

	var written []string
	pages := map[string]bool{}
	for _, f := range p.Files {
		if (opts.SkipEmpty && f.Empty()) || (opts.SkipCovered && !f.Empty() && f.FullyCovered()) {
			data.Skipped++
			continue
		}
		hf := htmlFile{
			FileCoverage: f,
			Page:         uniquePage(pages, pageName(f.Name)),
			Percent:      FormatPercent(f.Ratio(), 0),
			Miss:         f.Statements - f.Covered,
			Ranges:       compressLines(f.Missing),
		}
		if opts.SourceRoot != "" {
			hf.Lines = readSource(filepath.Join(opts.SourceRoot, filepath.FromSlash(f.Name)), f.Missing)
		}
		path := filepath.Join(dir, hf.Page)
		if err := renderTo(path, fileTmpl, hf); err != nil {
			return written, err
		}
		written = append(written, path)
		data.Files = append(data.Files, hf)
	}

	index := filepath.Join(dir, "index.html")
	if err := renderTo(index, indexTmpl, data); err != nil {
		return written, err
	}
	return append([]string{index}, written...), nil
}

func renderTo(path string, tmpl *template.Template, data any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := tmpl.Execute(f, data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// pageName flattens a source path into a file name: country/views.py becomes
// country_views_py.html.
func pageName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ".", "_", ":", "_")
	return r.Replace(name) + ".html"
}

// uniquePage returns page, or page with a numeric suffix when a different
// source already flattened to the same name, and records the result.
func uniquePage(used map[string]bool, page string) string {
	base := strings.TrimSuffix(page, ".html")
	for n := 2; used[page]; n++ {
		page = fmt.Sprintf("%s_%d.html", base, n)
	}
	used[page] = true
	return page
}

func readSource(path string, missing []int) []htmlLine {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	miss := make(map[int]bool, len(missing))
	for _, l := range missing {
		miss[l] = true
	}
	var lines []htmlLine
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		lines = append(lines, htmlLine{Number: n, Text: scanner.Text(), Missing: miss[n]})
	}
	return lines
}

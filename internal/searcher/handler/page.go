package handler

import (
	"html/template"
	"io"
)

type resultsPage struct {
	Query    string
	Searched bool
	Results  []string
	Seconds  float64
}

var resultsTemplate = template.Must(template.New("results").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{if .Query}}{{.Query}} - {{end}}Search</title>
</head>
<body>
<form action="/search" method="get">
<input type="text" name="q" value="{{.Query}}" autofocus>
<input type="submit" value="Search">
</form>
{{- if .Searched}}
<p>{{len .Results}} results ({{printf "%.3f" .Seconds}} seconds)</p>
<ul>
{{- range .Results}}
<li><a href="/{{.}}">{{.}}</a></li>
{{- end}}
</ul>
{{- end}}
</body>
</html>
`))

func renderResults(w io.Writer, page resultsPage) error {
	return resultsTemplate.Execute(w, page)
}

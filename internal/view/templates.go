package view

import "html/template"

var tableTemplate = template.Must(template.New("table").Parse(tableHTML))

const tableHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Data Table</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.4rem 0.8rem; }
th { background: #f3f3f3; }
.rank { text-align: right; color: #888; }
.swatch { display: inline-block; width: 1em; height: 1em; border: 1px solid #999; vertical-align: middle; margin-right: 0.4em; }
form { margin-bottom: 1rem; }
</style>
</head>
<body>
<h1>{{.Year}}</h1>
<form method="get" action="/">
<input type="text" name="q" placeholder="Search" value="{{.Query}}">
<select name="sort">
<option value="">Sort by…</option>
{{- $sel := .SortColumn }}
{{- range .Columns }}
<option value="{{.}}"{{if eq . $sel}} selected{{end}}>{{.}}</option>
{{- end }}
</select>
<select name="dir">
<option value="asc"{{if not .SortDesc}} selected{{end}}>Ascending</option>
<option value="desc"{{if .SortDesc}} selected{{end}}>Descending</option>
</select>
<button type="submit">Apply</button>
</form>
<table>
<thead>
<tr>
<th>Rank</th>
{{- range .Columns }}
<th>{{.}}</th>
{{- end }}
</tr>
</thead>
<tbody>
{{- range .Rows }}
<tr>
<td class="rank">{{.Rank}}</td>
{{- range .Cells }}
{{- if .IsTag }}
<td><span class="swatch" style="background: {{.Color}}"></span>{{.Value}}</td>
{{- else }}
<td>{{.Value}}</td>
{{- end }}
{{- end }}
</tr>
{{- end }}
</tbody>
</table>
</body>
</html>
`

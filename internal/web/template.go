package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/now-remote/internal/logic"
	"github.com/sweeney/now-remote/internal/status"
)

const stamp = "2006-01-02 15:04:05Z"

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": formatUptime,
	"stamp":  func(t time.Time) string { return t.UTC().Format(stamp) },
}).Parse(indexHTML))

// page is what the index template renders.
type page struct {
	status.Snapshot
	Uptime time.Duration
	// Journal is true when recent reports come from the journal.
	Journal bool
	Recent  []logic.Report
}

// formatUptime renders d as its two most significant units.
func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := int(d / (24 * time.Hour))
	h := int(d/time.Hour) % 24
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, h)
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>now-remote hub {{.Config.MAC}}</title>
<style>
body { font: 14px/1.4 ui-monospace, monospace; max-width: 720px; margin: 1.5em auto; padding: 0 1em; color: #222; }
h1 { font-size: 1.3em; margin-bottom: 0.2em; }
h2 { font-size: 1.05em; margin-top: 1.6em; border-bottom: 2px solid #eee; }
dl { display: grid; grid-template-columns: 11em 1fr; gap: 2px 1em; }
dt { color: #666; }
dd { margin: 0; }
table { border-collapse: collapse; width: 100%; }
td, th { text-align: left; padding: 3px 6px; }
tr:nth-child(even) td { background: #f6f6f6; }
.up { color: #1a7f37; }
.down { color: #cf222e; }
.none { color: #888; font-style: italic; }
</style>
</head>
<body>
<h1>now-remote hub</h1>
<div>{{.Config.MAC}} on channel {{.Config.Channel}}, up {{uptime .Uptime}}</div>

<h2>Broker</h2>
<dl>
<dt>MQTT</dt><dd class="{{if .MQTTConnected}}up{{else}}down{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</dd>
<dt>Address</dt><dd>{{.Config.Broker}}</dd>
<dt>Topic prefix</dt><dd>{{.Config.TopicPrefix}}</dd>
</dl>

<h2>Remotes</h2>
{{- if .Remotes}}
<table>
<tr><th>Remote</th><th>Reports</th><th>Last seen</th><th>Last buttons</th></tr>
{{- range .Remotes}}
<tr><td>{{.MAC}}</td><td>{{.Reports}}</td><td>{{stamp .LastSeen}}</td><td>{{range .LastEvents}}{{.}} {{end}}</td></tr>
{{- end}}
</table>
{{- else}}
<p class="none">no remote has reported yet</p>
{{- end}}

{{- if .Journal}}
<h2>Recent reports</h2>
{{- if .Recent}}
<table>
<tr><th>Received</th><th>Remote</th><th>Buttons</th></tr>
{{- range .Recent}}
<tr><td>{{stamp .ReceivedAt}}</td><td>{{.Remote}}</td><td>{{range .Events}}{{.}} {{end}}</td></tr>
{{- end}}
</table>
{{- else}}
<p class="none">journal is empty</p>
{{- end}}
{{- end}}

<h2>Packets</h2>
<dl>
<dt>Reports</dt><dd>{{.Counts.Reports}}</dd>
<dt>Pings</dt><dd>{{.Counts.Pings}}</dd>
<dt>Discoveries</dt><dd>{{.Counts.Discoveries}}</dd>
<dt>Unknown type</dt><dd>{{.Counts.Unknown}}</dd>
<dt>Errors</dt><dd>{{.Counts.Errors}}</dd>
</dl>

<h2>Process</h2>
<dl>
<dt>Started</dt><dd>{{stamp .StartTime}}</dd>
<dt>HTTP</dt><dd>{{.Config.HTTPAddr}}</dd>
{{- if .Config.Journal}}
<dt>Journal</dt><dd>{{.Config.Journal}}</dd>
{{- end}}
</dl>

<p><a href="/index.json">index.json</a>{{if .Journal}} &middot; <a href="/reports.json">reports.json</a>{{end}}</p>
</body>
</html>
`

func renderHTML(w io.Writer, p page) error {
	return indexTmpl.Execute(w, p)
}

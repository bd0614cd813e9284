package template

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/stanstork/herald/internal/models"
)

// Template is a named title/message pair with routing defaults.
type Template struct {
	ID       string                      `json:"id"`
	Title    string                      `json:"title"`
	Message  string                      `json:"message"`
	Channels []models.Channel            `json:"channels"`
	Severity models.NotificationSeverity `json:"severity"`
}

// Source is what a caller hands to Render: an optional template reference
// plus the literal title and message stored on the notification.
type Source struct {
	TemplateID string
	Title      string
	Message    string
	Severity   models.NotificationSeverity
}

// Content is the rendered output for a single channel.
type Content struct {
	Title string
	Text  string
	HTML  string
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Engine holds the process-wide template registry. It is immutable after
// construction and safe for concurrent use.
type Engine struct {
	templates map[string]Template
	shell     *htmltemplate.Template
	now       func() time.Time
}

func NewEngine(templates ...Template) *Engine {
	registry := make(map[string]Template, len(templates))
	for _, tpl := range templates {
		id := strings.TrimSpace(tpl.ID)
		if id == "" {
			continue
		}
		tpl.ID = id
		registry[id] = tpl
	}
	return &Engine{
		templates: registry,
		shell:     htmltemplate.Must(htmltemplate.New("email").Parse(emailShell)),
		now:       time.Now,
	}
}

func (e *Engine) Lookup(id string) (Template, bool) {
	tpl, ok := e.templates[strings.TrimSpace(id)]
	return tpl, ok
}

// Templates returns the registry sorted by id.
func (e *Engine) Templates() []Template {
	out := make([]Template, 0, len(e.templates))
	for _, tpl := range e.templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Render resolves the source against the registry and interpolates data
// into the title and message. Literal values on the source win over the
// template patterns. The HTML shell is only produced for rich channels.
func (e *Engine) Render(src Source, data map[string]any, channel models.Channel) Content {
	title, message, severity := src.Title, src.Message, src.Severity
	if tpl, ok := e.Lookup(src.TemplateID); ok {
		if strings.TrimSpace(title) == "" {
			title = tpl.Title
		}
		if strings.TrimSpace(message) == "" {
			message = tpl.Message
		}
		if severity == "" {
			severity = tpl.Severity
		}
	}
	if severity == "" {
		severity = models.NotificationSeverityMedium
	}

	content := Content{
		Title: Interpolate(title, data),
		Text:  Interpolate(message, data),
	}
	if channel.RichContent() {
		content.HTML = e.wrap(content, severity)
	}
	return content
}

func (e *Engine) wrap(content Content, severity models.NotificationSeverity) string {
	var buf bytes.Buffer
	err := e.shell.Execute(&buf, map[string]any{
		"Title":     content.Title,
		"Message":   content.Text,
		"Severity":  string(severity),
		"Timestamp": e.now().UTC().Format(time.RFC1123),
	})
	if err != nil {
		// The shell is static, so this only trips on a writer failure.
		return htmltemplate.HTMLEscapeString(content.Text)
	}
	return buf.String()
}

// Interpolate replaces {{key}} placeholders with values from data. Keys
// that are missing from data are left in place untouched.
func Interpolate(pattern string, data map[string]any) string {
	if pattern == "" || !strings.Contains(pattern, "{{") {
		return pattern
	}
	return placeholder.ReplaceAllStringFunc(pattern, func(match string) string {
		key := placeholder.FindStringSubmatch(match)[1]
		value, ok := data[key]
		if !ok || value == nil {
			return match
		}
		return fmt.Sprint(value)
	})
}

const emailShell = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
.container { max-width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 8px; overflow: hidden; }
.header { background-color: #2563eb; color: #ffffff; padding: 20px; text-align: center; }
.content { padding: 30px; }
.footer { background-color: #f8fafc; padding: 20px; text-align: center; color: #64748b; font-size: 14px; }
.severity-critical { border-left: 4px solid #7f1d1d; }
.severity-high { border-left: 4px solid #dc2626; }
.severity-medium { border-left: 4px solid #f59e0b; }
.severity-low { border-left: 4px solid #10b981; }
</style>
</head>
<body>
<div class="container">
<div class="header"><h1>Herald</h1></div>
<div class="content severity-{{.Severity}}">
<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
<p><small>Timestamp: {{.Timestamp}}</small></p>
</div>
<div class="footer"><p>This is an automated notification.</p></div>
</div>
</body>
</html>
`

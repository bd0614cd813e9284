package template

import (
	"strings"
	"testing"

	"github.com/stanstork/herald/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpolate(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		data    map[string]any
		want    string
	}{
		{"no placeholders", "plain text", nil, "plain text"},
		{"single key", "Camera {{camera_name}} offline", map[string]any{"camera_name": "Gate 3"}, "Camera Gate 3 offline"},
		{"spaced key", "Hi {{ user }}!", map[string]any{"user": "ana"}, "Hi ana!"},
		{"numeric value", "{{confidence}}%", map[string]any{"confidence": 97}, "97%"},
		{"missing key kept verbatim", "Camera {{camera_name}} at {{location}}", map[string]any{"camera_name": "C1"}, "Camera C1 at {{location}}"},
		{"nil data", "Hello {{name}}", nil, "Hello {{name}}"},
		{"nil value kept verbatim", "Hello {{name}}", map[string]any{"name": nil}, "Hello {{name}}"},
		{"unbalanced braces untouched", "Hello {{name", map[string]any{"name": "x"}, "Hello {{name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Interpolate(tt.pattern, tt.data))
		})
	}
}

func TestEngine_LookupAndTemplates(t *testing.T) {
	engine := NewEngine(DefaultTemplates()...)

	tpl, ok := engine.Lookup(CameraOffline)
	require.True(t, ok)
	assert.Equal(t, models.NotificationSeverityMedium, tpl.Severity)
	assert.Equal(t, []models.Channel{models.ChannelInApp, models.ChannelEmail}, tpl.Channels)

	_, ok = engine.Lookup("does_not_exist")
	assert.False(t, ok)

	all := engine.Templates()
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestEngine_RenderTemplateFallback(t *testing.T) {
	engine := NewEngine(DefaultTemplates()...)

	content := engine.Render(Source{TemplateID: CameraOffline}, map[string]any{"camera_name": "Lobby"}, models.ChannelInApp)

	assert.Equal(t, "Camera Offline", content.Title)
	assert.Equal(t, "Camera Lobby at {{location}} is currently offline.", content.Text)
	assert.Empty(t, content.HTML)
}

func TestEngine_RenderLiteralWins(t *testing.T) {
	engine := NewEngine(DefaultTemplates()...)

	content := engine.Render(Source{
		TemplateID: CameraOffline,
		Title:      "Custom {{camera_name}}",
		Message:    "Body",
	}, map[string]any{"camera_name": "Lobby"}, models.ChannelSMS)

	assert.Equal(t, "Custom Lobby", content.Title)
	assert.Equal(t, "Body", content.Text)
	assert.Empty(t, content.HTML)
}

func TestEngine_RenderUnknownTemplateUsesLiteral(t *testing.T) {
	engine := NewEngine()

	content := engine.Render(Source{TemplateID: "ghost", Title: "T", Message: "M"}, nil, models.ChannelInApp)

	assert.Equal(t, Content{Title: "T", Text: "M"}, content)
}

func TestEngine_RenderEmailShell(t *testing.T) {
	engine := NewEngine(DefaultTemplates()...)

	content := engine.Render(Source{
		Title:    "Door <open>",
		Message:  "Check {{zone}}",
		Severity: models.NotificationSeverityHigh,
	}, map[string]any{"zone": "B"}, models.ChannelEmail)

	require.NotEmpty(t, content.HTML)
	assert.True(t, strings.HasPrefix(content.HTML, "<!DOCTYPE html>"))
	assert.Contains(t, content.HTML, `class="content severity-high"`)
	assert.Contains(t, content.HTML, "Door &lt;open&gt;")
	assert.Contains(t, content.HTML, "Check B")
	assert.Equal(t, "Check B", content.Text)
}

func TestEngine_RenderDefaultsSeverity(t *testing.T) {
	engine := NewEngine()

	content := engine.Render(Source{Title: "t", Message: "m"}, nil, models.ChannelEmail)

	assert.Contains(t, content.HTML, "severity-medium")
}

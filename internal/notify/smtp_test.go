package notify

import (
	"strings"
	"testing"
)

func TestMailerIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "noreply@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "noreply@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailer := NewMailer(tt.config, nil)
			if mailer.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", mailer.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderNotificationTemplate(t *testing.T) {
	html, err := renderTemplate(notificationEmailTemplate, notificationData{
		AppName:  "Quorum",
		UserName: "Alice",
		Title:    TitleMention,
		Kind:     string(KindMention),
		Data: map[string]any{
			"releaseId": "rel_1234",
			"commentId": "cmt_5678",
		},
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Quorum") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Alice") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, TitleMention) {
		t.Error("template should contain the notification title")
	}
	if !strings.Contains(html, "rel_1234") {
		t.Error("template should contain payload data")
	}
}

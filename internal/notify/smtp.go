package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"

	"quorum/api/internal/directory"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	AppName  string
}

// Mailer delivers notifications as emails over SMTP. Recipient addresses
// come from the member directory.
type Mailer struct {
	config Config
	server string
	auth   smtp.Auth
	dir    directory.Gateway
}

func NewMailer(config Config, dir directory.Gateway) *Mailer {
	if config.AppName == "" {
		config.AppName = "Quorum"
	}
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Mailer{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		dir:    dir,
	}
}

// IsConfigured returns true if SMTP delivery is configured
func (m *Mailer) IsConfigured() bool {
	return m.config.Host != "" && m.config.Port != "" && m.config.From != ""
}

func (m *Mailer) Send(ctx context.Context, recipientID, title string, payload Payload) error {
	if !m.IsConfigured() {
		return fmt.Errorf("smtp not configured")
	}

	member, err := m.dir.ResolveMember(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("resolve notification recipient %s: %w", recipientID, err)
	}
	if member.Deleted {
		return fmt.Errorf("notification recipient %s has been removed", recipientID)
	}

	html, err := renderTemplate(notificationEmailTemplate, notificationData{
		AppName:  m.config.AppName,
		UserName: member.DisplayName,
		Title:    title,
		Kind:     string(payload.Kind),
		Data:     payload.Data,
	})
	if err != nil {
		return fmt.Errorf("render notification template: %w", err)
	}

	return m.sendHTML([]string{member.Email}, title, html)
}

func (m *Mailer) sendHTML(to []string, subject, htmlBody string) error {
	from := m.config.From
	if m.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.config.FromName, m.config.From)
	}

	boundary := "boundary-quorum"

	var msg bytes.Buffer
	for _, addr := range to {
		fmt.Fprintf(&msg, "To: %s\r\n", addr)
	}
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", subject)
	fmt.Fprintf(&msg, "\r\n")

	// HTML part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(m.server, m.auth, m.config.From, to, msg.Bytes())
}

type notificationData struct {
	AppName  string
	UserName string
	Title    string
	Kind     string
	Data     map[string]any
}

func renderTemplate(tmpl string, data any) (string, error) {
	t := template.Must(template.New("notification").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const notificationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .detail { background: #f6f8fa; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>{{.Title}}</h2>

    <p>Hi {{.UserName}},</p>

    <div class="detail">
        {{range $key, $value := .Data}}<p><strong>{{$key}}</strong>: {{$value}}</p>
        {{end}}
    </div>

    <div class="footer">
        <p>You are receiving this because of activity on a release you participate in.</p>
    </div>
</body>
</html>`

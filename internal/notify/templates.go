package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

const (
	TemplateApproved = "account_approved"
	TemplateRejected = "account_rejected"
)

var templates = map[string]struct {
	subject string
	body    *template.Template
}{
	TemplateApproved: {
		subject: "Your account has been approved",
		body: template.Must(template.New(TemplateApproved).Parse(
			`<p>Hello {{.Username}},</p><p>Your {{.Role}} account ({{.Email}}) has been approved. You can now sign in.</p>`)),
	},
	TemplateRejected: {
		subject: "Your registration was not approved",
		body: template.Must(template.New(TemplateRejected).Parse(
			`<p>Hello {{.Username}},</p><p>Your registration for {{.Email}} was not approved and has been removed. Contact your unit leader if you think this is a mistake.</p>`)),
	},
}

// Render returns the subject and HTML body for a template.
func Render(name string, data any) (subject, html string, err error) {
	t, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", name)
	}
	var buf bytes.Buffer
	if err := t.body.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", name, err)
	}
	return t.subject, buf.String(), nil
}

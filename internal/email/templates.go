package email

import (
	"bytes"
	"fmt"
	"html/template"
	texttemplate "text/template"
)

type Kind string

const (
	KindInvite              Kind = "invite"
	KindInviteReminder      Kind = "invite_reminder"
	KindSubmissionRequested Kind = "submission_requested"
	KindSubmissionSubmitted Kind = "submission_submitted"
	KindSubmissionApproved  Kind = "submission_approved"
	KindSubmissionRejected  Kind = "submission_rejected"
)

// Data is the union of fields the notification templates read.
type Data struct {
	AppName         string `json:"appName"`
	RecipientName   string `json:"recipientName"`
	ActorName       string `json:"actorName,omitempty"`
	ActionURL       string `json:"actionUrl,omitempty"`
	ExpiresAt       string `json:"expiresAt,omitempty"`
	SubmissionTitle string `json:"submissionTitle,omitempty"`
	InterviewTitle  string `json:"interviewTitle,omitempty"`
	CompanyName     string `json:"companyName,omitempty"`
	VersionNumber   int    `json:"versionNumber,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type entry struct {
	subject string
	body    string
}

var catalog = map[Kind]entry{
	KindInvite: {
		subject: "You're invited to {{.AppName}}",
		body: `<p>Hi {{.RecipientName}},</p>
<p>{{if .ActorName}}{{.ActorName}} invited you{{else}}You have been invited{{end}} to {{.AppName}}. Set your password to activate your account.</p>
<p><a href="{{.ActionURL}}" class="button">Accept invite</a></p>
<p class="link">{{.ActionURL}}</p>
<p>This link expires {{.ExpiresAt}}.</p>`,
	},
	KindInviteReminder: {
		subject: "Reminder: your {{.AppName}} invite",
		body: `<p>Hi {{.RecipientName}},</p>
<p>Your invite to {{.AppName}} is still waiting. The previous link no longer works; use this one instead.</p>
<p><a href="{{.ActionURL}}" class="button">Accept invite</a></p>
<p class="link">{{.ActionURL}}</p>
<p>This link expires {{.ExpiresAt}}.</p>`,
	},
	KindSubmissionRequested: {
		subject: "New question request: {{.SubmissionTitle}}",
		body: `<p>Hi {{.RecipientName}},</p>
<p>{{.ActorName}} asked you to submit interview questions for <strong>{{.InterviewTitle}}</strong>{{if .CompanyName}} at {{.CompanyName}}{{end}}.</p>
{{if .ExpiresAt}}<p>Due {{.ExpiresAt}}.</p>{{end}}
<p><a href="{{.ActionURL}}" class="button">Open submission</a></p>`,
	},
	KindSubmissionSubmitted: {
		subject: "{{.SubmissionTitle}} v{{.VersionNumber}} is ready for review",
		body: `<p>Hi {{.RecipientName}},</p>
<p>{{.ActorName}} submitted version {{.VersionNumber}} of <strong>{{.SubmissionTitle}}</strong> for review.</p>
<p><a href="{{.ActionURL}}" class="button">Review submission</a></p>`,
	},
	KindSubmissionApproved: {
		subject: "{{.SubmissionTitle}} v{{.VersionNumber}} approved",
		body: `<p>Hi {{.RecipientName}},</p>
<p>Version {{.VersionNumber}} of <strong>{{.SubmissionTitle}}</strong> was approved.</p>
<p><a href="{{.ActionURL}}" class="button">View submission</a></p>`,
	},
	KindSubmissionRejected: {
		subject: "{{.SubmissionTitle}} v{{.VersionNumber}} needs changes",
		body: `<p>Hi {{.RecipientName}},</p>
<p>Version {{.VersionNumber}} of <strong>{{.SubmissionTitle}}</strong> was rejected.</p>
<blockquote>{{.Reason}}</blockquote>
<p>Edit your questions and submit again.</p>
<p><a href="{{.ActionURL}}" class="button">Edit submission</a></p>`,
	},
}

const layout = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .link { word-break: break-all; color: #0066cc; }
        blockquote { border-left: 3px solid #ccc; margin: 0; padding-left: 12px; color: #555; }
    </style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    {{.Body}}
</body>
</html>`

var layoutTemplate = template.Must(template.New("layout").Parse(layout))

// Render produces the subject and HTML body for a notification kind.
func Render(kind Kind, data Data) (subject string, html string, err error) {
	e, ok := catalog[kind]
	if !ok {
		return "", "", fmt.Errorf("unknown email kind %q", kind)
	}
	if data.AppName == "" {
		data.AppName = "Interview Prep"
	}

	subject, err = executeText(e.subject, data)
	if err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", kind, err)
	}
	body, err := execute("body", e.body, data)
	if err != nil {
		return "", "", fmt.Errorf("render %s body: %w", kind, err)
	}

	var buf bytes.Buffer
	if err := layoutTemplate.Execute(&buf, struct {
		Subject string
		AppName string
		Body    template.HTML
	}{Subject: subject, AppName: data.AppName, Body: template.HTML(body)}); err != nil {
		return "", "", fmt.Errorf("render %s layout: %w", kind, err)
	}
	return subject, buf.String(), nil
}

// Subjects are headers, not HTML, so they skip html escaping.
func executeText(text string, data Data) (string, error) {
	t, err := texttemplate.New("subject").Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func execute(name, text string, data Data) (string, error) {
	t, err := template.New(name).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

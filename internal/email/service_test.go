package email

import (
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
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
				From: "test@example.com",
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
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestSendHTMLEmailBuildsMultipartMessage(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com", FromName: "Interview Prep"})
	var gotAddr string
	var gotTo []string
	var gotMsg string
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotTo = to
		gotMsg = string(msg)
		return nil
	}

	if err := svc.SendHTMLEmail([]string{"a@example.com"}, "Hello", "<p>hi</p>", "hi"); err != nil {
		t.Fatalf("SendHTMLEmail failed: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || len(gotTo) != 1 {
		t.Fatalf("unexpected envelope: %s %v", gotAddr, gotTo)
	}
	for _, want := range []string{"To: a@example.com", "Interview Prep <noreply@example.com>", "multipart/alternative", "<p>hi</p>", "text/plain"} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendHTMLEmailRequiresConfig(t *testing.T) {
	if err := NewService(Config{}).SendHTMLEmail([]string{"a@example.com"}, "s", "b", ""); err == nil {
		t.Fatal("expected error when unconfigured")
	}
}

func TestRenderInvite(t *testing.T) {
	subject, html, err := Render(KindInvite, Data{
		RecipientName: "Test User",
		ActionURL:     "https://example.com/accept-invite?token=abc123",
		ExpiresAt:     "in 72 hours",
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if subject != "You're invited to Interview Prep" {
		t.Errorf("unexpected subject %q", subject)
	}
	if !strings.Contains(html, "Test User") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "https://example.com/accept-invite?token=abc123") {
		t.Error("template should contain invite URL")
	}
}

func TestRenderRejectedIncludesEscapedReason(t *testing.T) {
	_, html, err := Render(KindSubmissionRejected, Data{
		RecipientName:   "Res",
		SubmissionTitle: "Round 1",
		VersionNumber:   2,
		Reason:          "<script>needs depth</script>",
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("reason must be html escaped")
	}
	if !strings.Contains(html, "Version 2") {
		t.Error("template should mention the version")
	}
}

func TestRenderEveryKind(t *testing.T) {
	for kind := range catalog {
		if _, _, err := Render(kind, Data{RecipientName: "x", SubmissionTitle: "t"}); err != nil {
			t.Errorf("Render(%s) failed: %v", kind, err)
		}
	}
	if _, _, err := Render(Kind("unknown"), Data{}); err == nil {
		t.Error("expected unknown kind to fail")
	}
}

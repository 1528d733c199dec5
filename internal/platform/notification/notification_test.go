package notification

import (
	"bytes"
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTemplateEngine_Render(t *testing.T) {
	e := NewTemplateEngine()

	subject, body, err := e.Render(TemplateEmailVerification, map[string]string{
		"name": "Ada", "code": "123456", "ttl": "10 minutes",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(subject, "10 minutes") {
		t.Errorf("unexpected subject %q", subject)
	}
	if !strings.Contains(body, "Hi Ada") || !strings.Contains(body, "123456") {
		t.Errorf("unexpected body %q", body)
	}

	_, body, _ = e.Render(TemplatePasswordReset, map[string]string{"code": "654321"})
	if !strings.Contains(body, "{{name}}") {
		t.Error("missing keys should be left in place")
	}

	if _, _, err := e.Render("nope", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestMailer_Send(t *testing.T) {
	sender := &MockEmailSender{}
	m := NewMailer(sender, NewTemplateEngine())

	if err := m.Send(context.Background(), TemplatePasswordReset, "ada@example.com", map[string]string{"code": "111111"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	call, ok := sender.Last()
	if !ok || call.To != "ada@example.com" || !strings.Contains(call.Body, "111111") {
		t.Errorf("unexpected call %+v", call)
	}

	sender.SetFail(true)
	if err := m.Send(context.Background(), TemplatePasswordReset, "ada@example.com", nil); !errors.Is(err, ErrMockSend) {
		t.Errorf("expected ErrMockSend, got %v", err)
	}
	if len(sender.Calls()) != 2 {
		t.Errorf("expected 2 calls, got %d", len(sender.Calls()))
	}
}

func TestSMTPSender(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587, User: "u", Password: "p", From: "noreply@example.com"})

	var gotAddr string
	var gotMsg []byte
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotMsg = addr, msg
		if a == nil || from != "noreply@example.com" || len(to) != 1 {
			t.Errorf("unexpected smtp args auth=%v from=%s to=%v", a, from, to)
		}
		return nil
	}

	if err := s.SendEmail(context.Background(), "ada@example.com", "Hello", "line1\nline2"); err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Errorf("unexpected addr %s", gotAddr)
	}
	if !bytes.Contains(gotMsg, []byte("Subject: Hello\r\n")) || !bytes.Contains(gotMsg, []byte("line1\r\nline2")) {
		t.Errorf("unexpected message %q", gotMsg)
	}

	s.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("connection refused") }
	if err := s.SendEmail(context.Background(), "ada@example.com", "Hello", "x"); err == nil {
		t.Error("expected relay error")
	}
}

func TestBuildMessage_Headers(t *testing.T) {
	msg := string(buildMessage("a@x", "b@y", "S", "B", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	for _, h := range []string{"From: a@x", "To: b@y", "MIME-Version: 1.0", "Date: Thu, 01 Jan 2026"} {
		if !strings.Contains(msg, h) {
			t.Errorf("missing header %q in %q", h, msg)
		}
	}
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(zerolog.New(&buf))
	if err := s.SendEmail(context.Background(), "a@x", "S", "B"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"to":"a@x"`) {
		t.Errorf("expected structured log, got %s", buf.String())
	}
}

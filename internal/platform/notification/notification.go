// Package notification renders account emails and delivers them over SMTP.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

const (
	TemplateEmailVerification = "email-verification"
	TemplatePasswordReset     = "password-reset"
)

type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine renders {{key}} placeholders in registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.RegisterTemplate(Template{
		ID:      TemplateEmailVerification,
		Subject: "Your email verification code (valid for {{ttl}})",
		Body:    "Hi {{name}},\n\nYour verification code is {{code}}.\nEnter it in the app to activate your account.\n\nThe code expires in {{ttl}}.",
	})
	e.RegisterTemplate(Template{
		ID:      TemplatePasswordReset,
		Subject: "Your password reset code (valid for {{ttl}})",
		Body:    "Hi {{name}},\n\nWe received a request to reset your password.\nYour reset code is {{code}}.\n\nIf you did not ask for this, ignore this email.",
	})
	return e
}

func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render fills the template. Placeholders without data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Mailer renders a template and hands it to an EmailSender.
type Mailer struct {
	sender    EmailSender
	templates *TemplateEngine
}

func NewMailer(sender EmailSender, templates *TemplateEngine) *Mailer {
	return &Mailer{sender: sender, templates: templates}
}

func (m *Mailer) Send(ctx context.Context, templateID, to string, data map[string]string) error {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return err
	}
	return m.sender.SendEmail(ctx, to, subject, body)
}

type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender records calls and fails on demand.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
}

var ErrMockSend = errors.New("mock email send failure")

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return ErrMockSend
	}
	return nil
}

func (m *MockEmailSender) SetFail(fail bool) {
	m.mu.Lock()
	m.ShouldFail = fail
	m.mu.Unlock()
}

func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockEmailSender) Last() (EmailCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return EmailCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

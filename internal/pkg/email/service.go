package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	TemplateWithdrawalApproved = "withdrawal_approved"
	TemplateWithdrawalRejected = "withdrawal_rejected"
	TemplatePasswordReset      = "password_reset"
)

// Service renders templates and delivers them from a background queue.
type Service struct {
	sender       Sender
	templates    map[string]*template.Template
	baseTemplate *template.Template
	queue        chan *QueuedEmail
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

// QueuedEmail represents an email in the send queue
type QueuedEmail struct {
	To           string
	ToName       string
	Subject      string
	TemplateName string
	Data         interface{}
}

func NewService(sender Sender) *Service {
	s := &Service{
		sender:       sender,
		templates:    make(map[string]*template.Template),
		baseTemplate: template.Must(template.New("base").Parse(BaseTemplate)),
		queue:        make(chan *QueuedEmail, 100),
	}

	for name, content := range map[string]string{
		TemplateWithdrawalApproved: WithdrawalApprovedTemplate,
		TemplateWithdrawalRejected: WithdrawalRejectedTemplate,
		TemplatePasswordReset:      PasswordResetTemplate,
	} {
		s.templates[name] = template.Must(template.New(name).Parse(content))
	}

	s.wg.Add(1)
	go s.worker()

	return s
}

func (s *Service) worker() {
	defer s.wg.Done()

	for email := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := s.send(ctx, email); err != nil {
			log.Error().Err(err).
				Str("to", email.To).
				Str("template", email.TemplateName).
				Msg("Failed to send email")
		}
		cancel()
	}
}

// Render produces the final HTML for a template.
func (s *Service) Render(templateName string, data interface{}) (string, error) {
	tmpl, ok := s.templates[templateName]
	if !ok {
		return "", fmt.Errorf("email template %q not found", templateName)
	}

	var content bytes.Buffer
	if err := tmpl.Execute(&content, data); err != nil {
		return "", err
	}

	var html bytes.Buffer
	if err := s.baseTemplate.Execute(&html, map[string]interface{}{
		"Content": template.HTML(content.String()),
	}); err != nil {
		return "", err
	}
	return html.String(), nil
}

func (s *Service) send(ctx context.Context, email *QueuedEmail) error {
	html, err := s.Render(email.TemplateName, email.Data)
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, &EmailMessage{
		To:          email.To,
		ToName:      email.ToName,
		Subject:     email.Subject,
		HTMLContent: html,
	})
}

// Queue adds an email to the async send queue. A full queue drops the email.
func (s *Service) Queue(to, toName, templateName, subject string, data interface{}) {
	select {
	case s.queue <- &QueuedEmail{
		To:           to,
		ToName:       toName,
		Subject:      subject,
		TemplateName: templateName,
		Data:         data,
	}:
	default:
		log.Warn().Str("to", to).Str("template", templateName).Msg("Email queue full, dropping email")
	}
}

// Close stops the worker after the queue drains.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
		s.wg.Wait()
	})
}

func (s *Service) SendWithdrawalApproved(to, userName string, amount int64, method, walletURL string) {
	s.Queue(to, userName, TemplateWithdrawalApproved, "Your withdrawal was approved", map[string]interface{}{
		"UserName":  userName,
		"Amount":    amount,
		"Method":    method,
		"WalletURL": walletURL,
	})
}

func (s *Service) SendWithdrawalRejected(to, userName string, amount int64, reason, walletURL string) {
	s.Queue(to, userName, TemplateWithdrawalRejected, "Your withdrawal was not approved", map[string]interface{}{
		"UserName":  userName,
		"Amount":    amount,
		"Reason":    reason,
		"WalletURL": walletURL,
	})
}

func (s *Service) SendPasswordReset(to, userName, resetURL string) {
	s.Queue(to, userName, TemplatePasswordReset, "Reset your password", map[string]interface{}{
		"UserName": userName,
		"ResetURL": resetURL,
	})
}

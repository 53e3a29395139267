package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Recipients resolves where to send mail for a user.
type Recipients interface {
	ContactInfo(ctx context.Context, userID uuid.UUID) (address, name string, err error)
}

// WithdrawalEmails is implemented by email.Service.
type WithdrawalEmails interface {
	SendWithdrawalApproved(to, userName string, amount int64, method, walletURL string)
	SendWithdrawalRejected(to, userName string, amount int64, reason, walletURL string)
}

// Mailer turns withdrawal transitions into transactional email.
type Mailer struct {
	email      WithdrawalEmails
	recipients Recipients
	walletURL  string
}

func NewMailer(svc WithdrawalEmails, recipients Recipients, frontendURL string) *Mailer {
	return &Mailer{email: svc, recipients: recipients, walletURL: frontendURL + "/wallet"}
}

func (m *Mailer) Handle(ctx context.Context, e Event) error {
	if e.Kind != KindWithdrawalApproved && e.Kind != KindWithdrawalRejected {
		return nil
	}
	if e.UserID == nil || e.Amount == nil {
		return nil
	}

	to, name, err := m.recipients.ContactInfo(ctx, *e.UserID)
	if err != nil {
		return fmt.Errorf("lookup recipient: %w", err)
	}

	// Amounts on withdrawal events are the withdrawn coins, always positive.
	amount := *e.Amount
	if amount < 0 {
		amount = -amount
	}

	switch e.Kind {
	case KindWithdrawalApproved:
		method, _ := e.Payload["payout_method"].(string)
		m.email.SendWithdrawalApproved(to, name, amount, method, m.walletURL)
	case KindWithdrawalRejected:
		reason, _ := e.Payload["reason"].(string)
		m.email.SendWithdrawalRejected(to, name, amount, reason, m.walletURL)
	}
	return nil
}

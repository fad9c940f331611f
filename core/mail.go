package core

import (
	"fmt"
	"net/mail"
	"time"
)

type (
	EmailMessage struct {
		To      []mail.Address
		Cc      []mail.Address
		Bcc     []mail.Address
		Subject string
		Body    string // text/plain
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return m.Body != "" }

// Security notifications sent to account owners.

func PasswordChangedMessage(to mail.Address, at time.Time, sourceIP string) *EmailMessage {
	return &EmailMessage{
		To:      []mail.Address{to},
		Subject: "Your password was changed",
		Body: fmt.Sprintf(
			"Hello %s,\n\nThe password of your account was changed on %s from %s.\n"+
				"If you did not make this change, contact your administrator immediately.\n",
			displayName(to), at.UTC().Format(time.RFC1123), sourceIP,
		),
	}
}

func AccountLockedMessage(to mail.Address, until time.Time) *EmailMessage {
	return &EmailMessage{
		To:      []mail.Address{to},
		Subject: "Your account was temporarily locked",
		Body: fmt.Sprintf(
			"Hello %s,\n\nToo many failed sign-in attempts were made on your account.\n"+
				"Sign-in is blocked until %s.\n",
			displayName(to), until.UTC().Format(time.RFC1123),
		),
	}
}

func displayName(addr mail.Address) string {
	if addr.Name != "" {
		return addr.Name
	}
	return addr.Address
}

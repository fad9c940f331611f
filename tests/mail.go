package testutil

import (
	"sync"

	"github.com/trezcool/chuo/core"
)

// Mailer keeps the messages it is asked to send.
type Mailer struct {
	mu   sync.Mutex
	sent []core.EmailMessage
}

var _ core.EmailService = (*Mailer)(nil)

func NewMailer() *Mailer { return new(Mailer) }

func (m *Mailer) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range messages {
		m.sent = append(m.sent, *msg)
	}
}

func (m *Mailer) Sent() []core.EmailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.EmailMessage(nil), m.sent...)
}

func (m *Mailer) Subjects() []string {
	var subjects []string
	for _, msg := range m.Sent() {
		subjects = append(subjects, msg.Subject)
	}
	return subjects
}

package bugtrack

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Message is a composed mail. Delivery is up to the Mailer.
type Message struct {
	To      string
	ReplyTo string
	Subject string
	Body    string
}

type Mailer interface {
	Deliver(ctx context.Context, msg Message) error
}

// ComposeFeedback addresses user feedback to the configured feedback inbox
// with replies going back to the user.
func ComposeFeedback(cfg *Config, u *User, feedback string) Message {
	msg := Message{
		To:      cfg.FeedbackAddress(),
		Subject: "Feedback",
		Body:    strings.TrimSpace(feedback),
	}
	if u != nil {
		msg.ReplyTo = u.Email
		if u.Name != "" {
			msg.Subject = "Feedback from " + u.Name
		}
	}
	return msg
}

// ComposePasswordReset builds the reset instructions mail.
func ComposePasswordReset(u *User, token, baseURL string) Message {
	link := strings.TrimRight(baseURL, "/") + "/password_reset/" + token + "/edit"
	return Message{
		To:      u.Email,
		Subject: "Password Reset",
		Body: fmt.Sprintf("To reset your password, click the URL below.\n\n%s\n\n"+
			"If you did not request your password to be reset, just ignore this email and your password will continue to stay the same.\n", link),
	}
}

// MemoryMailer keeps delivered messages in memory
type MemoryMailer struct {
	mu   sync.Mutex
	sent []Message
}

func NewMemoryMailer() *MemoryMailer { return &MemoryMailer{} }

func (m *MemoryMailer) Deliver(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *MemoryMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

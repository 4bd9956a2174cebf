package domain

import (
	"fmt"
	"log/slog"
	"time"
)

// RawMessage is one unseen mailbox entry, already decoded to plain text.
type RawMessage struct {
	UID        uint32 // transport id (IMAP UID)
	MessageID  string // Message-Id header, may be empty
	Subject    string
	From       string
	Body       string
	ReceivedAt time.Time
}

type MailboxCredential struct {
	Host     string
	Port     int
	Username string
	Secret   string
}

func (c MailboxCredential) Addr() string {
	port := c.Port
	if port == 0 {
		port = 993
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// String never includes the secret.
func (c MailboxCredential) String() string {
	return fmt.Sprintf("%s@%s", c.Username, c.Addr())
}

func (c MailboxCredential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("addr", c.Addr()),
	)
}

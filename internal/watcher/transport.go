package watcher

import (
	"context"

	"coursemail-engine/internal/domain"
	"coursemail-engine/internal/mailclient"
)

// Mailbox is one open session. It is closed before the pass returns.
type Mailbox interface {
	ListUnread(ctx context.Context, limit int) ([]domain.RawMessage, error)
	MarkRead(ctx context.Context, uid uint32) error
	Close()
}

type Transport interface {
	Dial(ctx context.Context, cred domain.MailboxCredential) (Mailbox, error)
	TestConnection(ctx context.Context, cred domain.MailboxCredential) bool
}

// IMAP adapts *mailclient.Client to Transport.
type IMAP struct {
	Client *mailclient.Client
}

func (t IMAP) Dial(ctx context.Context, cred domain.MailboxCredential) (Mailbox, error) {
	s, err := t.Client.Dial(ctx, cred)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (t IMAP) TestConnection(ctx context.Context, cred domain.MailboxCredential) bool {
	return t.Client.TestConnection(ctx, cred)
}

// Package mailclient talks IMAP over implicit TLS to the university mailbox:
// log in, list unseen messages, flag them read, log out.
package mailclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"

	"coursemail-engine/internal/domain"
)

const (
	DefaultMailbox    = "INBOX"
	DefaultFetchLimit = 50
)

type Options struct {
	// LoginDomain is appended as "@domain" to usernames without one.
	LoginDomain string
	Mailbox     string

	DialTimeout    time.Duration
	// SessionTimeout closes a session that is still open after it,
	// whatever command is in flight.
	SessionTimeout time.Duration

	TLSConfig          *tls.Config
	InsecureSkipVerify bool

	Logger *slog.Logger
}

// Client opens sessions. It holds no connection itself and is safe for
// concurrent use by independent watchers.
type Client struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) *Client {
	if opts.Mailbox == "" {
		opts.Mailbox = DefaultMailbox
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 30 * time.Second
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = 10 * time.Minute
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Client{opts: opts, log: lg.With("component", "mailclient")}
}

// LoginName is the username sent in LOGIN.
func (c *Client) LoginName(username string) string {
	username = strings.TrimSpace(username)
	if c.opts.LoginDomain == "" || strings.Contains(username, "@") {
		return username
	}
	return username + "@" + c.opts.LoginDomain
}

func (c *Client) tlsConfig(host string) *tls.Config {
	var cfg *tls.Config
	if c.opts.TLSConfig != nil {
		cfg = c.opts.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	if c.opts.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true
	}
	return cfg
}

// Session is one logged-in IMAP connection with the mailbox selected.
// It must be closed on every path; Close is idempotent.
type Session struct {
	c       *imapclient.Client
	mailbox string
	log     *slog.Logger

	cancel    context.CancelFunc
	stopWatch func() bool
	closeOnce sync.Once
}

// Dial connects, logs in and selects the configured mailbox.
func (c *Client) Dial(ctx context.Context, cred domain.MailboxCredential) (*Session, error) {
	if strings.TrimSpace(cred.Host) == "" {
		return nil, &ConnectionError{Op: "dial", Err: errors.New("host is required")}
	}
	if cred.Username == "" || cred.Secret == "" {
		return nil, &AuthError{Username: cred.Username, Err: errors.New("username/secret is required")}
	}

	sctx, cancel := context.WithTimeout(ctx, c.opts.SessionTimeout)

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: c.opts.DialTimeout},
		Config:    c.tlsConfig(cred.Host),
	}
	dctx, dcancel := context.WithTimeout(sctx, c.opts.DialTimeout)
	conn, err := dialer.DialContext(dctx, "tcp", cred.Addr())
	dcancel()
	if err != nil {
		cancel()
		return nil, &ConnectionError{Op: "dial", Err: err}
	}

	ic := imapclient.New(conn, &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	})

	s := &Session{
		c:       ic,
		mailbox: c.opts.Mailbox,
		log:     c.log.With("account", cred.Username),
		cancel:  cancel,
	}
	// imapclient commands take no context; closing the client unblocks them.
	s.stopWatch = context.AfterFunc(sctx, func() { _ = ic.Close() })

	if err := ic.WaitGreeting(); err != nil {
		s.Close()
		return nil, &ConnectionError{Op: "greeting", Err: err}
	}

	login := c.LoginName(cred.Username)
	if err := ic.Login(login, cred.Secret).Wait(); err != nil {
		s.Close()
		var ie *imap.Error
		if errors.As(err, &ie) && (ie.Type == imap.StatusResponseTypeNo || ie.Type == imap.StatusResponseTypeBad) {
			return nil, &AuthError{Username: login, Err: err}
		}
		return nil, &ConnectionError{Op: "login", Err: err}
	}

	if _, err := ic.Select(s.mailbox, &imap.SelectOptions{ReadOnly: false}).Wait(); err != nil {
		s.Close()
		return nil, classify(fmt.Sprintf("select %q", s.mailbox), err)
	}

	return s, nil
}

// TestConnection dials and immediately closes. Any failure is logged and
// reported as false.
func (c *Client) TestConnection(ctx context.Context, cred domain.MailboxCredential) bool {
	s, err := c.Dial(ctx, cred)
	if err != nil {
		c.log.Warn("connection test failed", "cred", cred, "error", err)
		return false
	}
	s.Close()
	return true
}

// ListUnread returns up to limit unseen messages, oldest UID first.
// Messages that fail to parse are skipped.
func (s *Session) ListUnread(ctx context.Context, limit int) ([]domain.RawMessage, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := s.c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, classify("uid search unseen", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return []domain.RawMessage{}, nil
	}
	if len(uids) > limit {
		uids = uids[:limit]
	}

	bodyAll := &imap.FetchItemBodySection{
		Specifier: imap.PartSpecifierNone,
		Peek:      true,
	}
	fetchCmd := s.c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodyAll},
	})
	defer func() { _ = fetchCmd.Close() }()

	out := make([]domain.RawMessage, 0, len(uids))
	for {
		if err := ctx.Err(); err != nil {
			return nil, &ConnectionError{Op: "fetch", Err: err}
		}

		msgData := fetchCmd.Next()
		if msgData == nil {
			break
		}

		buf, err := msgData.Collect()
		if err != nil {
			return nil, classify("fetch collect", err)
		}

		raw := buf.FindBodySection(bodyAll)
		msg, err := Parse(uint32(buf.UID), raw, buf.InternalDate)
		if err != nil {
			s.log.Warn("skipping unparsable message", "uid", buf.UID, "error", err)
			continue
		}
		out = append(out, msg)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, classify("fetch", err)
	}
	return out, nil
}

// MarkRead sets \Seen on uid. Flagging an already-seen message is a no-op;
// a UID that no longer exists yields *NotFoundError.
func (s *Session) MarkRead(ctx context.Context, uid uint32) error {
	if err := ctx.Err(); err != nil {
		return &ConnectionError{Op: "store", Err: err}
	}

	set := imap.UIDSetNum(imap.UID(uid))
	found, err := s.c.UIDSearch(&imap.SearchCriteria{UID: []imap.UIDSet{set}}, nil).Wait()
	if err != nil {
		return classify("uid search", err)
	}
	if len(found.AllUIDs()) == 0 {
		return &NotFoundError{UID: uid}
	}

	cmd := s.c.Store(set, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := cmd.Close(); err != nil {
		return classify("store +seen", err)
	}
	return nil
}

// Close logs out and drops the connection.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		// The session deadline still bounds a hung LOGOUT.
		if err := s.c.Logout().Wait(); err != nil {
			s.log.Debug("imap logout", "error", err)
		}
		_ = s.c.Close()
		if s.stopWatch != nil {
			s.stopWatch()
		}
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Package secrets resolves mailbox credentials. Account metadata comes from
// the store; the password lives in the OS keychain.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	"coursemail-engine/internal/domain"
	"coursemail-engine/internal/store"
)

const (
	// "Service" groups the app's secrets in the OS keychain.
	KeyringService = "coursemail"

	// EnvPassword overrides the keychain when set.
	EnvPassword = "MAIL_PASSWORD"
)

var ErrNotFound = errors.New("credential not found")

// Source returns the credential for an account, or ErrNotFound.
type Source interface {
	Lookup(ctx context.Context, accountID string) (domain.MailboxCredential, error)
}

type AccountStore interface {
	GetAccount(ctx context.Context, id string) (store.Account, error)
}

// KeyringSource joins the stored account row with the keychain password.
type KeyringSource struct {
	Accounts AccountStore

	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

func NewKeyringSource(accounts AccountStore) *KeyringSource {
	return &KeyringSource{Accounts: accounts, Getenv: os.Getenv}
}

func (s *KeyringSource) Lookup(ctx context.Context, accountID string) (domain.MailboxCredential, error) {
	acct, err := s.Accounts.GetAccount(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.MailboxCredential{}, fmt.Errorf("account %q: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return domain.MailboxCredential{}, fmt.Errorf("load account %q: %w", accountID, err)
	}
	if strings.TrimSpace(acct.Username) == "" || strings.TrimSpace(acct.Host) == "" {
		return domain.MailboxCredential{}, fmt.Errorf("account %q has no username/host: %w", accountID, ErrNotFound)
	}

	cred := domain.MailboxCredential{
		Host:     acct.Host,
		Port:     acct.Port,
		Username: acct.Username,
	}

	getenv := s.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if pw := getenv(EnvPassword); strings.TrimSpace(pw) != "" {
		cred.Secret = pw
		return cred, nil
	}

	pw, err := GetIMAPPassword(IMAPKeyringAccount(acct.Username, acct.Host))
	if err != nil {
		return domain.MailboxCredential{}, fmt.Errorf("account %q: %w", accountID, err)
	}
	cred.Secret = pw
	return cred, nil
}

func GetIMAPPassword(keyringAccount string) (string, error) {
	if strings.TrimSpace(keyringAccount) == "" {
		return "", ErrNotFound
	}
	pw, err := keyring.Get(KeyringService, keyringAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("keychain entry %q: %w", keyringAccount, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("keychain: %w", err)
	}
	if strings.TrimSpace(pw) == "" {
		return "", fmt.Errorf("keychain entry %q is empty: %w", keyringAccount, ErrNotFound)
	}
	return pw, nil
}

func SetIMAPPassword(keyringAccount string, password string) error {
	if strings.TrimSpace(keyringAccount) == "" {
		return errors.New("keyring account name is empty")
	}
	if strings.TrimSpace(password) == "" {
		return errors.New("password is empty")
	}
	return keyring.Set(KeyringService, keyringAccount, password)
}

func DeleteIMAPPassword(keyringAccount string) error {
	if strings.TrimSpace(keyringAccount) == "" {
		return errors.New("keyring account name is empty")
	}
	err := keyring.Delete(KeyringService, keyringAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

func IMAPKeyringAccount(username, host string) string {
	return fmt.Sprintf("coursemail:imap:%s@%s", strings.TrimSpace(username), strings.TrimSpace(host))
}

// Package keywrap wraps the small per-object and per-account secrets under
// the process-wide master secret. The master key never encrypts bulk data
// under its own base nonce; objects are encrypted with their own one-time
// nonce and only that nonce is wrapped.
package keywrap

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/tendant/shardmedia/pkg/shardmedia"
	"github.com/tendant/shardmedia/pkg/shardmedia/crypt"
)

// MasterSecret is the static key and base nonce. It is supplied externally
// and never persisted.
type MasterSecret struct {
	Key   []byte
	Nonce []byte
}

// ParseMasterSecret decodes base64 key and nonce values.
func ParseMasterSecret(keyB64, nonceB64 string) (MasterSecret, error) {
	if keyB64 == "" || nonceB64 == "" {
		return MasterSecret{}, errors.New("master key and nonce are required")
	}
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return MasterSecret{}, fmt.Errorf("failed to decode master key: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return MasterSecret{}, fmt.Errorf("failed to decode master nonce: %w", err)
	}
	if len(key) != crypt.KeySize || len(nonce) != crypt.NonceSize {
		return MasterSecret{}, fmt.Errorf("%w: master key and nonce must be %d bytes each",
			crypt.ErrInvalidKeyMaterial, crypt.KeySize)
	}
	return MasterSecret{Key: key, Nonce: nonce}, nil
}

// UnwrapError carries the account or object whose secret failed to unwrap.
type UnwrapError struct {
	Subject string // "account" or "object"
	Name    string
	Err     error
}

func (e *UnwrapError) Error() string {
	return fmt.Sprintf("failed to unwrap %s %s: %v", e.Subject, e.Name, e.Err)
}

func (e *UnwrapError) Unwrap() error {
	return e.Err
}

// Wrapper wraps and unwraps secrets under a MasterSecret.
type Wrapper struct {
	enc *crypt.Encrypter
	now func() time.Time
}

// New creates a Wrapper.
func New(secret MasterSecret, opts ...crypt.Option) (*Wrapper, error) {
	enc, err := crypt.New(secret.Key, secret.Nonce, opts...)
	if err != nil {
		return nil, err
	}
	return &Wrapper{enc: enc, now: time.Now}, nil
}

// Encrypter exposes the master-keyed stream cipher. Callers must pass a
// per-object nonce for bulk data.
func (w *Wrapper) Encrypter() *crypt.Encrypter {
	return w.enc
}

// NewObjectKey generates a fresh object nonce and its wrapped form.
func (w *Wrapper) NewObjectKey() (nonce, wrapped []byte, err error) {
	nonce, err = crypt.GenerateNonce()
	if err != nil {
		return nil, nil, err
	}
	wrapped, err = w.Wrap(nonce)
	if err != nil {
		return nil, nil, err
	}
	return nonce, wrapped, nil
}

// Wrap encrypts a 16-byte secret under the master key and base nonce.
func (w *Wrapper) Wrap(secret []byte) ([]byte, error) {
	if len(secret) != crypt.NonceSize {
		return nil, fmt.Errorf("%w: wrapped secrets must be %d bytes, got %d",
			crypt.ErrInvalidKeyMaterial, crypt.NonceSize, len(secret))
	}
	return w.enc.Encrypt(secret, nil)
}

// Unwrap reverses Wrap.
func (w *Wrapper) Unwrap(wrapped []byte) ([]byte, error) {
	if len(wrapped) != crypt.NonceSize {
		return nil, fmt.Errorf("%w: wrapped secret must be %d bytes, got %d",
			crypt.ErrInvalidKeyMaterial, crypt.NonceSize, len(wrapped))
	}
	return w.enc.Decrypt(wrapped, nil)
}

// NewAccount builds an Account record: the password is encrypted under the
// master key with a fresh account nonce, and that nonce is wrapped under the
// master nonce.
func (w *Wrapper) NewAccount(login, password string) (*shardmedia.Account, error) {
	if login == "" {
		return nil, errors.New("account login is required")
	}
	nonce, err := crypt.GenerateNonce()
	if err != nil {
		return nil, err
	}
	credential, err := w.enc.Encrypt([]byte(password), nonce)
	if err != nil {
		return nil, err
	}
	wrappedNonce, err := w.Wrap(nonce)
	if err != nil {
		return nil, err
	}
	return &shardmedia.Account{
		ID:                login,
		WrappedCredential: credential,
		WrappedNonce:      wrappedNonce,
		CreatedAt:         w.now().UTC(),
	}, nil
}

// UnwrapAccount recovers the credential of an account.
func (w *Wrapper) UnwrapAccount(account *shardmedia.Account) (shardmedia.Credential, error) {
	nonce, err := w.Unwrap(account.WrappedNonce)
	if err != nil {
		return shardmedia.Credential{}, &UnwrapError{Subject: "account", Name: account.ID, Err: err}
	}
	password, err := w.enc.Decrypt(account.WrappedCredential, nonce)
	if err != nil {
		return shardmedia.Credential{}, &UnwrapError{Subject: "account", Name: account.ID, Err: err}
	}
	return shardmedia.Credential{Login: account.ID, Password: string(password)}, nil
}

// UnwrapObject recovers the object nonce of a record.
func (w *Wrapper) UnwrapObject(record *shardmedia.ObjectRecord) ([]byte, error) {
	nonce, err := w.Unwrap(record.WrappedKey)
	if err != nil {
		return nil, &UnwrapError{Subject: "object", Name: record.Name, Err: err}
	}
	return nonce, nil
}

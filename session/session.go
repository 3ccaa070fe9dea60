package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"smsrelay/crypto"
	"smsrelay/logging"
)

// ErrReauthRequired means the account key is unavailable and no relay call may be made
// until the user signs in again.
var ErrReauthRequired = errors.New("session: re-authentication required")

// Credentials is the account material a session is built from.
type Credentials struct {
	AccountID string
	PassHash  string
	Salt      string
	DeviceID  int64
	Primary   bool
	// KeyFingerprint is the fingerprint recorded when the device was linked. Empty
	// disables the check.
	KeyFingerprint string
}

// Config wires a session to its credential source.
type Config struct {
	Load     func() (Credentials, error)
	Save     func(Credentials) error
	OnReauth func(reason error)
}

// Session holds the account identity and derived key for the life of a connection.
// Sync components receive it by reference and ask for the codec on every use, so a
// reload or invalidation takes effect immediately.
type Session struct {
	cfg Config

	mu      sync.RWMutex
	creds   Credentials
	codec   *crypto.Codec
	invalid error
}

// New builds a session and performs the first Reload. The returned session is usable
// even when the key cannot be derived; Codec then reports ErrReauthRequired.
func New(cfg Config) (*Session, error) {
	if cfg.Load == nil {
		return nil, errors.New("credential loader is required")
	}
	s := &Session{cfg: cfg}
	return s, s.Reload()
}

// Reload re-reads credentials and re-derives the key.
func (s *Session) Reload() error {
	creds, err := s.cfg.Load()
	if err != nil {
		return s.fail(fmt.Errorf("load credentials: %w", err))
	}
	if strings.TrimSpace(creds.AccountID) == "" || creds.PassHash == "" || creds.Salt == "" {
		return s.fail(fmt.Errorf("%w: account is not linked", ErrReauthRequired))
	}

	codec, err := crypto.NewCodecFromCredentials(creds.AccountID, creds.PassHash, creds.Salt)
	if err != nil {
		return s.fail(fmt.Errorf("%w: %v", ErrReauthRequired, err))
	}
	if creds.KeyFingerprint != "" && creds.KeyFingerprint != codec.Fingerprint() {
		return s.fail(fmt.Errorf("%w: account key changed", ErrReauthRequired))
	}

	s.mu.Lock()
	s.creds = creds
	s.codec = codec
	s.invalid = nil
	s.mu.Unlock()

	logging.For("session").WithField("device_id", creds.DeviceID).WithField("primary", creds.Primary).Info("session loaded")
	return nil
}

// Invalidate drops the key. Every later Codec call fails until Reload succeeds.
func (s *Session) Invalidate(reason error) {
	if reason == nil {
		reason = ErrReauthRequired
	}
	_ = s.fail(reason)
}

func (s *Session) fail(reason error) error {
	s.mu.Lock()
	wasValid := s.invalid == nil
	s.codec = nil
	s.invalid = reason
	s.mu.Unlock()

	logging.For("session").WithError(reason).Warn("session invalidated")
	if wasValid && s.cfg.OnReauth != nil {
		s.cfg.OnReauth(reason)
	}
	return reason
}

// Codec returns the field codec, or an error wrapping ErrReauthRequired when the
// session has no usable key.
func (s *Session) Codec() (*crypto.Codec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.codec == nil {
		if errors.Is(s.invalid, ErrReauthRequired) {
			return nil, s.invalid
		}
		return nil, fmt.Errorf("%w: %v", ErrReauthRequired, s.invalid)
	}
	return s.codec, nil
}

// Active reports whether relay calls may be made.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.codec != nil
}

// AccountID returns the relay account identifier.
func (s *Session) AccountID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccountID
}

// DeviceID returns this device's id.
func (s *Session) DeviceID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.DeviceID
}

// Primary reports whether this device transmits over the carrier network.
func (s *Session) Primary() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.Primary
}

// SetPrimary records a primary-device change and persists it when a saver is configured.
func (s *Session) SetPrimary(primary bool) error {
	s.mu.Lock()
	s.creds.Primary = primary
	creds := s.creds
	s.mu.Unlock()

	if s.cfg.Save == nil {
		return nil
	}
	if err := s.cfg.Save(creds); err != nil {
		return fmt.Errorf("persist primary device flag: %w", err)
	}
	return nil
}

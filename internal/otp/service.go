// Package otp issues and verifies one-time codes that prove ownership of an
// email address or phone number before an account is created for it.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
)

// TTL is how long an issued code can be verified.
const TTL = 10 * time.Minute

// Channel is the medium a code is delivered over.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

var (
	ErrInvalidChannel    = apperr.Validation("invalid_channel", "method must be email or sms")
	ErrInvalidContact    = apperr.Validation("invalid_contact", "a valid email or phone number is required")
	ErrAlreadyRegistered = apperr.Conflict("already_registered", "an account with this contact already exists")
	ErrDeliveryFailed    = apperr.Validation("otp_delivery_failed", "could not send the verification code")
)

// ParseChannel accepts "email", "sms" and "phone", ignoring case. An empty
// method means email.
func ParseChannel(method string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "", "email":
		return ChannelEmail, nil
	case "sms", "phone":
		return ChannelSMS, nil
	default:
		return "", ErrInvalidChannel
	}
}

// NormalizeKey canonicalizes a contact for use as a challenge key.
func NormalizeKey(channel Channel, contact string) (string, error) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return "", ErrInvalidContact
	}
	if channel == ChannelEmail {
		addr, err := mail.ParseAddress(contact)
		if err != nil || addr.Address != contact {
			return "", ErrInvalidContact
		}
		return strings.ToLower(contact), nil
	}
	digits := strings.TrimPrefix(contact, "+")
	if len(digits) < 7 || len(digits) > 15 || strings.Trim(digits, "0123456789") != "" {
		return "", ErrInvalidContact
	}
	return contact, nil
}

// Result is the outcome of a verification.
type Result int

const (
	Verified Result = iota
	Expired
	NotFound
	Mismatch
)

func (r Result) String() string {
	switch r {
	case Verified:
		return "verified"
	case Expired:
		return "expired"
	case NotFound:
		return "not found"
	case Mismatch:
		return "mismatch"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Accounts answers whether a contact already belongs to an account.
type Accounts interface {
	ContactExists(ctx context.Context, key string) (bool, error)
}

// Sender delivers a code over channel.
type Sender interface {
	SendCode(ctx context.Context, channel Channel, to, code string) error
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.generate = gen }
}

type Service struct {
	store    Store
	accounts Accounts
	sender   Sender
	now      func() time.Time
	generate func() (string, error)
}

func NewService(store Store, accounts Accounts, sender Sender, opts ...Option) *Service {
	s := &Service{
		store:    store,
		accounts: accounts,
		sender:   sender,
		now:      time.Now,
		generate: GenerateCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateCode returns a uniformly random six-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Issue creates a challenge for key, replacing any earlier one, and delivers
// the code over channel. If delivery fails the challenge is revoked.
func (s *Service) Issue(ctx context.Context, key string, channel Channel) (string, error) {
	exists, err := s.accounts.ContactExists(ctx, key)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("otp: account lookup: %w", err))
	}
	if exists {
		return "", ErrAlreadyRegistered
	}

	code, err := s.generate()
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("otp: generate code: %w", err))
	}

	challenge := models.OTPChallenge{Key: key, Code: code, ExpiresAt: s.now().Add(TTL)}
	if err := s.store.Put(ctx, challenge); err != nil {
		return "", apperr.Internal(err)
	}

	if err := s.sender.SendCode(ctx, channel, key, code); err != nil {
		log.Printf("[OTP] [ERROR] %s delivery to %s failed: %v", channel, key, err)
		// Only revoke our own code; a concurrent Issue may have replaced it.
		if _, revokeErr := s.store.CompareAndDelete(context.WithoutCancel(ctx), key, code); revokeErr != nil {
			log.Printf("[OTP] [ERROR] revoke challenge for %s: %v", key, revokeErr)
		}
		return "", ErrDeliveryFailed.Wrap(err)
	}

	log.Printf("[OTP] [INFO] code issued to %s via %s", key, channel)
	return code, nil
}

// Verify checks code against the challenge for key. A match consumes the
// challenge, as does detecting that it expired.
func (s *Service) Verify(ctx context.Context, key, code string) (Result, error) {
	challenge, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return NotFound, apperr.Internal(err)
	}
	if !ok {
		return NotFound, nil
	}

	if challenge.Expired(s.now()) {
		if err := s.store.Delete(ctx, key); err != nil {
			return Expired, apperr.Internal(err)
		}
		return Expired, nil
	}

	if challenge.Code != strings.TrimSpace(code) {
		return Mismatch, nil
	}

	consumed, err := s.store.CompareAndDelete(ctx, key, challenge.Code)
	if err != nil {
		return NotFound, apperr.Internal(err)
	}
	if !consumed {
		// Lost the race to another verification of the same code.
		return NotFound, nil
	}
	return Verified, nil
}

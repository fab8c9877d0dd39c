// Package sms sends text messages through one of several third-party
// providers chosen by configuration.
package sms

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"
)

// Sender delivers a text message to a phone number.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

const (
	ProviderTwilio   = "twilio"
	ProviderFast2SMS = "fast2sms"
	ProviderSimulate = "simulate"
)

// Config holds the credentials of every supported provider; only the ones
// for Provider are read.
type Config struct {
	Provider string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string

	Fast2SMSAPIKey string

	HTTPClient *http.Client
}

// New picks the configured provider. Unknown providers and providers with
// missing credentials fall back to the simulator.
func New(cfg Config) Sender {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderTwilio:
		if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFrom != "" {
			return NewTwilio(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom, client)
		}
		log.Println("[SMS] [WARN] twilio selected without credentials, simulating")
	case ProviderFast2SMS:
		if cfg.Fast2SMSAPIKey != "" {
			return NewFast2SMS(cfg.Fast2SMSAPIKey, client)
		}
		log.Println("[SMS] [WARN] fast2sms selected without api key, simulating")
	case "", ProviderSimulate:
	default:
		log.Printf("[SMS] [WARN] unknown provider %q, simulating", cfg.Provider)
	}
	return Simulator{}
}

// Simulator logs messages instead of sending them.
type Simulator struct{}

func (Simulator) Send(_ context.Context, to, body string) error {
	log.Printf("[SMS] [INFO] simulated sms to=%s len=%d", maskPhone(to), len(body))
	return nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

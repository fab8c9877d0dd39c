package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const fast2smsURL = "https://www.fast2sms.com/dev/bulkV2"

// Fast2SMS sends through the Fast2SMS bulk API using the quick route.
type Fast2SMS struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewFast2SMS(apiKey string, client *http.Client) *Fast2SMS {
	return &Fast2SMS{apiKey: apiKey, endpoint: fast2smsURL, client: client}
}

type fast2smsRequest struct {
	Route   string `json:"route"`
	Message string `json:"message"`
	Numbers string `json:"numbers"`
}

type fast2smsResponse struct {
	Return  bool        `json:"return"`
	Message interface{} `json:"message"`
}

func (f *Fast2SMS) Send(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(fast2smsRequest{
		Route:   "q",
		Message: body,
		Numbers: strings.TrimPrefix(strings.TrimPrefix(to, "+91"), "+"),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("authorization", f.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fast2sms: %w", err)
	}
	defer resp.Body.Close()

	var out fast2smsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("fast2sms: status %d: undecodable response: %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || !out.Return {
		return fmt.Errorf("fast2sms: status %d: %v", resp.StatusCode, out.Message)
	}
	return nil
}

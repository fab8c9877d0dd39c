package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsProvider(t *testing.T) {
	assert.IsType(t, Simulator{}, New(Config{}))
	assert.IsType(t, Simulator{}, New(Config{Provider: "twilio"}))
	assert.IsType(t, Simulator{}, New(Config{Provider: "carrier-pigeon"}))
	assert.IsType(t, &Twilio{}, New(Config{Provider: "twilio", TwilioAccountSID: "AC1", TwilioAuthToken: "tok", TwilioFrom: "+100"}))
	assert.IsType(t, &Fast2SMS{}, New(Config{Provider: "Fast2SMS", Fast2SMSAPIKey: "key"}))
}

func TestTwilioSend(t *testing.T) {
	var gotPath, gotTo, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = r.ParseForm()
		gotPath = r.URL.Path
		gotTo = r.PostForm.Get("To")
		gotBody = r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tw := NewTwilio("AC1", "tok", "+15550000", srv.Client())
	tw.baseURL = srv.URL

	require.NoError(t, tw.Send(context.Background(), "+919999999999", "code 123456"))
	assert.Equal(t, "/Accounts/AC1/Messages.json", gotPath)
	assert.Equal(t, "+919999999999", gotTo)
	assert.Equal(t, "code 123456", gotBody)
}

func TestTwilioSendReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid number"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	tw := NewTwilio("AC1", "tok", "+15550000", srv.Client())
	tw.baseURL = srv.URL

	err := tw.Send(context.Background(), "bad", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestFast2SMSSend(t *testing.T) {
	var got fast2smsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("authorization") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"return":false,"message":"invalid key"}`))
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"return":true,"message":["sent"]}`))
	}))
	defer srv.Close()

	f := NewFast2SMS("key", srv.Client())
	f.endpoint = srv.URL

	require.NoError(t, f.Send(context.Background(), "+919876543210", "code 654321"))
	assert.Equal(t, "9876543210", got.Numbers)
	assert.Equal(t, "q", got.Route)

	f.apiKey = "wrong"
	assert.Error(t, f.Send(context.Background(), "+919876543210", "code"))
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "********3210", maskPhone("+91987653210"))
	assert.Equal(t, "****", maskPhone("12"))
}

package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/apperr"
)

type fakeAccounts struct {
	taken map[string]bool
	err   error
}

func (a fakeAccounts) ContactExists(ctx context.Context, key string) (bool, error) {
	return a.taken[key], a.err
}

type fakeSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
	calls int
}

func (s *fakeSender) SendCode(ctx context.Context, channel Channel, to, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[to] = code
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T, accounts Accounts, sender Sender) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Now()}
	return NewService(NewMemoryStore(), accounts, sender, WithClock(clock.Now)), clock
}

func TestIssueThenVerifyIsSingleShot(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	svc, _ := newTestService(t, fakeAccounts{}, sender)

	code, err := svc.Issue(ctx, "a@b.com", ChannelEmail)
	require.NoError(t, err)
	require.Len(t, code, 6)
	assert.Equal(t, code, sender.codes["a@b.com"])

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	res, err := svc.Verify(ctx, "a@b.com", wrong)
	require.NoError(t, err)
	assert.Equal(t, Mismatch, res)

	res, err = svc.Verify(ctx, "a@b.com", code)
	require.NoError(t, err)
	assert.Equal(t, Verified, res)

	res, err = svc.Verify(ctx, "a@b.com", code)
	require.NoError(t, err)
	assert.Equal(t, NotFound, res)
}

func TestVerifyAfterTTLReportsExpiredAndConsumes(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t, fakeAccounts{}, &fakeSender{})

	code, err := svc.Issue(ctx, "+919876543210", ChannelSMS)
	require.NoError(t, err)

	clock.Advance(TTL + time.Second)
	res, err := svc.Verify(ctx, "+919876543210", code)
	require.NoError(t, err)
	assert.Equal(t, Expired, res)

	res, err = svc.Verify(ctx, "+919876543210", code)
	require.NoError(t, err)
	assert.Equal(t, NotFound, res)
}

func TestVerifyJustBeforeDeadlineSucceeds(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t, fakeAccounts{}, &fakeSender{})

	code, err := svc.Issue(ctx, "a@b.com", ChannelEmail)
	require.NoError(t, err)

	clock.Advance(TTL)
	res, err := svc.Verify(ctx, "a@b.com", code)
	require.NoError(t, err)
	assert.Equal(t, Verified, res)
}

func TestIssueOverwritesPreviousChallenge(t *testing.T) {
	ctx := context.Background()
	codes := []string{"111111", "222222"}
	svc := NewService(NewMemoryStore(), fakeAccounts{}, &fakeSender{}, WithCodeGenerator(func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}))

	_, err := svc.Issue(ctx, "a@b.com", ChannelEmail)
	require.NoError(t, err)
	_, err = svc.Issue(ctx, "a@b.com", ChannelEmail)
	require.NoError(t, err)

	res, err := svc.Verify(ctx, "a@b.com", "111111")
	require.NoError(t, err)
	assert.Equal(t, Mismatch, res)

	res, err = svc.Verify(ctx, "a@b.com", "222222")
	require.NoError(t, err)
	assert.Equal(t, Verified, res)
}

func TestIssueRefusesRegisteredContactBeforeSending(t *testing.T) {
	sender := &fakeSender{}
	svc, _ := newTestService(t, fakeAccounts{taken: map[string]bool{"a@b.com": true}}, sender)

	_, err := svc.Issue(context.Background(), "a@b.com", ChannelEmail)
	require.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Zero(t, sender.calls)
}

func TestIssueRevokesCodeWhenDeliveryFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, fakeAccounts{}, &fakeSender{err: errors.New("provider down")},
		WithCodeGenerator(func() (string, error) { return "123456", nil }))

	_, err := svc.Issue(ctx, "a@b.com", ChannelEmail)
	require.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, 0, store.Len())

	res, err := svc.Verify(ctx, "a@b.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, NotFound, res)
}

func TestIssueAccountLookupFailureIsInternal(t *testing.T) {
	svc, _ := newTestService(t, fakeAccounts{err: errors.New("mongo down")}, &fakeSender{})
	_, err := svc.Issue(context.Background(), "a@b.com", ChannelEmail)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestGenerateCodeIsSixDigits(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		require.NotEqual(t, byte('0'), code[0])
	}
}

func TestParseChannel(t *testing.T) {
	for in, want := range map[string]Channel{"": ChannelEmail, "Email": ChannelEmail, "sms": ChannelSMS, "phone": ChannelSMS} {
		got, err := ParseChannel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseChannel("pigeon")
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestNormalizeKey(t *testing.T) {
	key, err := NormalizeKey(ChannelEmail, "  Asha@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", key)

	key, err = NormalizeKey(ChannelSMS, "+919876543210")
	require.NoError(t, err)
	assert.Equal(t, "+919876543210", key)

	for _, bad := range []struct {
		ch Channel
		in string
	}{{ChannelEmail, "not-an-email"}, {ChannelEmail, "Asha <a@b.com>"}, {ChannelSMS, "12ab"}, {ChannelSMS, ""}} {
		_, err := NormalizeKey(bad.ch, bad.in)
		assert.ErrorIs(t, err, ErrInvalidContact, bad.in)
	}
}

func TestMemoryStoreForgetsChallengesPastRetention(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, challengeAt("a@b.com", "111111", now.Add(TTL))))

	now = now.Add(TTL + RetainAfterExpiry/2)
	_, ok, err := store.Get(ctx, "a@b.com")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(RetainAfterExpiry)
	_, ok, err = store.Get(ctx, "a@b.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

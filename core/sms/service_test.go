package sms

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
	testutil "github.com/sylorafashion-deenora/Deenora-tech/tests"
)

type fakeRepo struct {
	mu         sync.Mutex
	accounts   map[string]Account
	accountErr error
	global     Credentials
	globalErr  error
	debitRes   DebitResult
	debitErr   error
	debits     []DebitRequest
}

func (r *fakeRepo) GetAccount(_ context.Context, tenantID string) (Account, error) {
	if r.accountErr != nil {
		return Account{}, r.accountErr
	}
	acc, ok := r.accounts[tenantID]
	if !ok {
		return Account{}, ErrTenantNotFound
	}
	return acc, nil
}

func (r *fakeRepo) GetGlobalSettings(context.Context) (Credentials, error) {
	return r.global, r.globalErr
}

func (r *fakeRepo) DebitAndRecordSend(_ context.Context, req DebitRequest) (DebitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debits = append(r.debits, req)
	return r.debitRes, r.debitErr
}

type sentBatch struct {
	Creds   Credentials
	Phones  []string
	Message string
}

type fakeProvider struct {
	mu       sync.Mutex
	batches  []sentBatch
	direct   []sentBatch
	failWith func(phones []string) error
}

func (p *fakeProvider) SendBatch(_ context.Context, creds Credentials, phones []string, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, sentBatch{Creds: creds, Phones: phones, Message: message})
	if p.failWith != nil {
		return p.failWith(phones)
	}
	return nil
}

func (p *fakeProvider) SendDirect(_ context.Context, creds Credentials, phone, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.direct = append(p.direct, sentBatch{Creds: creds, Phones: []string{phone}, Message: message})
	if p.failWith != nil {
		return p.failWith([]string{phone})
	}
	return nil
}

var testConf = core.SMSConfig{
	BatchSize: 15,
	APIKey:    "conf-key",
	SecretKey: "conf-secret",
	CallerID:  "1234",
}

func recipients(n int) []Recipient {
	list := make([]Recipient, n)
	for i := range list {
		list[i] = Recipient{ID: fmt.Sprintf("s%02d", i), Phone: fmt.Sprintf("017%08d", i)}
	}
	return list
}

func setup(t *testing.T, repo *fakeRepo) (*Service, *fakeProvider) {
	t.Helper()
	provider := &fakeProvider{}
	svc := NewService(repo, provider, testConf, testutil.NewLogger())
	svc.newRequestID = func() string { return "req-1" }
	return svc, provider
}

func TestService_SendBulk_validation(t *testing.T) {
	tests := []struct {
		name       string
		tenantID   string
		recipients []Recipient
		message    string
	}{
		{name: "blank tenant", tenantID: " ", recipients: recipients(1), message: "hi"},
		{name: "no recipients", tenantID: "m1", message: "hi"},
		{name: "blank message", tenantID: "m1", recipients: recipients(1), message: "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepo{accounts: map[string]Account{"m1": {ID: "m1", Balance: 10}}}
			svc, provider := setup(t, repo)

			_, err := svc.SendBulk(context.Background(), tt.tenantID, tt.recipients, tt.message)
			assert.True(t, core.IsValidationError(err), "SendBulk() error = %v, want validation error", err)
			assert.Empty(t, repo.debits)
			assert.Empty(t, provider.batches)
		})
	}
}

func TestService_SendBulk_insufficientBalance(t *testing.T) {
	repo := &fakeRepo{accounts: map[string]Account{"m1": {ID: "m1", Balance: 3}}}
	svc, provider := setup(t, repo)

	_, err := svc.SendBulk(context.Background(), "m1", recipients(5), "Exam starts tomorrow")
	var balErr *InsufficientBalanceError
	require.True(t, errors.As(err, &balErr), "SendBulk() error = %v", err)
	assert.Equal(t, 5, balErr.Required)
	assert.Equal(t, 3, balErr.Available)
	assert.Empty(t, repo.debits)
	assert.Empty(t, provider.batches)
}

func TestService_SendBulk_tenantErrors(t *testing.T) {
	t.Run("unknown tenant", func(t *testing.T) {
		svc, provider := setup(t, &fakeRepo{})
		_, err := svc.SendBulk(context.Background(), "nope", recipients(1), "hi")
		assert.Equal(t, ErrTenantNotFound, err)
		assert.Empty(t, provider.batches)
	})
	t.Run("lookup failure", func(t *testing.T) {
		svc, _ := setup(t, &fakeRepo{accountErr: errors.New("connection refused")})
		_, err := svc.SendBulk(context.Background(), "m1", recipients(1), "hi")
		assert.Error(t, err)
		assert.NotEqual(t, ErrTenantNotFound, errors.Cause(err))
	})
}

func TestService_SendBulk_debitFailures(t *testing.T) {
	tests := []struct {
		name     string
		debitRes DebitResult
		debitErr error
		check    func(t *testing.T, err error)
	}{
		{
			name:     "transport error",
			debitErr: errors.New("permission denied for function send_bulk_sms_rpc"),
			check: func(t *testing.T, err error) {
				assert.Equal(t, ErrDebitRefused, errors.Cause(err))
			},
		},
		{
			name:     "refused by backend",
			debitRes: DebitResult{Success: false, Error: "balance changed"},
			check: func(t *testing.T, err error) {
				var debitErr *DebitError
				require.True(t, errors.As(err, &debitErr))
				assert.Equal(t, "balance changed", debitErr.Reason)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepo{
				accounts: map[string]Account{"m1": {ID: "m1", Balance: 10}},
				debitRes: tt.debitRes,
				debitErr: tt.debitErr,
			}
			svc, provider := setup(t, repo)

			_, err := svc.SendBulk(context.Background(), "m1", recipients(2), "hi")
			tt.check(t, err)
			assert.Len(t, repo.debits, 1)
			assert.Empty(t, provider.batches)
		})
	}
}

func TestService_SendBulk_batches(t *testing.T) {
	repo := &fakeRepo{
		accounts: map[string]Account{"m1": {ID: "m1", Balance: 100}},
		debitRes: DebitResult{Success: true},
	}
	svc, provider := setup(t, repo)
	list := recipients(37)

	res, err := svc.SendBulk(context.Background(), "m1", list, "Fees are due")
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{RequestID: "req-1", Attempted: 37, Sent: 37, Errors: []BatchError{}}, res)

	require.Len(t, repo.debits, 1)
	debit := repo.debits[0]
	assert.Equal(t, "req-1", debit.RequestID)
	assert.Equal(t, "m1", debit.TenantID)
	assert.Equal(t, "Fees are due", debit.Message)
	assert.Len(t, debit.RecipientIDs, 37)

	require.Len(t, provider.batches, 3)
	var sizes []int
	var phones []string
	for _, b := range provider.batches {
		sizes = append(sizes, len(b.Phones))
		phones = append(phones, b.Phones...)
		assert.Equal(t, "Fees are due", b.Message)
	}
	sort.Ints(sizes)
	assert.Equal(t, []int{7, 15, 15}, sizes)

	want := make([]string, 0, len(list))
	for _, r := range list {
		want = append(want, NormalizePhone(r.Phone))
	}
	assert.ElementsMatch(t, want, phones)
}

func TestService_SendBulk_deliveryFailures(t *testing.T) {
	repo := &fakeRepo{
		accounts: map[string]Account{"m1": {ID: "m1", Balance: 100}},
		debitRes: DebitResult{Success: true},
	}
	svc, provider := setup(t, repo)
	provider.failWith = func(phones []string) error {
		if len(phones) < 15 {
			return errors.New("gateway timeout")
		}
		return nil
	}

	res, err := svc.SendBulk(context.Background(), "m1", recipients(20), "hi")
	require.NoError(t, err)
	assert.Equal(t, 20, res.Attempted)
	assert.Equal(t, 15, res.Sent)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, BatchError{Batch: 1, Recipients: 5, Error: "gateway timeout"}, res.Errors[0])
	assert.Len(t, repo.debits, 1)
}

func TestService_credentials(t *testing.T) {
	global := Credentials{APIKey: "global-key ", SecretKey: "global-secret", CallerID: "8809601", ClientID: "c-global"}
	tests := []struct {
		name      string
		tenant    Credentials
		global    Credentials
		globalErr error
		want      Credentials
	}{
		{
			name:   "tenant overrides",
			tenant: Credentials{APIKey: " tenant-key ", SecretKey: "tenant-secret", CallerID: "tenant-caller", ClientID: "tenant-client"},
			global: global,
			want:   Credentials{APIKey: "tenant-key", SecretKey: "tenant-secret", CallerID: "tenant-caller", ClientID: "tenant-client"},
		},
		{
			name:   "blank tenant fields fall back per field",
			tenant: Credentials{APIKey: "   ", CallerID: "tenant-caller"},
			global: global,
			want:   Credentials{APIKey: "global-key", SecretKey: "global-secret", CallerID: "tenant-caller", ClientID: "c-global"},
		},
		{
			name:   "missing global values use configured defaults",
			tenant: Credentials{},
			global: Credentials{CallerID: "8809601"},
			want:   Credentials{APIKey: "conf-key", SecretKey: "conf-secret", CallerID: "8809601"},
		},
		{
			name:      "unreadable global settings use configured defaults",
			tenant:    Credentials{ClientID: "tenant-client"},
			globalErr: errors.New("relation system_settings does not exist"),
			want:      Credentials{APIKey: "conf-key", SecretKey: "conf-secret", CallerID: "1234", ClientID: "tenant-client"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepo{
				accounts:  map[string]Account{"m1": {ID: "m1", Balance: 5, Credentials: tt.tenant}},
				global:    tt.global,
				globalErr: tt.globalErr,
				debitRes:  DebitResult{Success: true},
			}
			svc, provider := setup(t, repo)

			_, err := svc.SendBulk(context.Background(), "m1", recipients(1), "hi")
			require.NoError(t, err)
			require.Len(t, provider.batches, 1)
			assert.Equal(t, tt.want, provider.batches[0].Creds)

			_, err = svc.SendDirect(context.Background(), "01712345678", "hi", "m1")
			require.NoError(t, err)
			require.Len(t, provider.direct, 1)
			assert.Equal(t, tt.want, provider.direct[0].Creds)
		})
	}
}

func TestService_SendDirect(t *testing.T) {
	repo := &fakeRepo{
		accounts: map[string]Account{"m1": {ID: "m1", Balance: 0}},
		global:   Credentials{APIKey: "global-key", SecretKey: "global-secret", CallerID: "8809601"},
	}

	t.Run("no balance check and no debit", func(t *testing.T) {
		svc, provider := setup(t, repo)
		res, err := svc.SendDirect(context.Background(), "017-1234-5678", "Your OTP is 4411", "m1")
		require.NoError(t, err)
		assert.Equal(t, 1, res.Sent)
		assert.Empty(t, repo.debits)
		require.Len(t, provider.direct, 1)
		assert.Equal(t, []string{"8801712345678"}, provider.direct[0].Phones)
	})

	t.Run("unknown tenant uses globals", func(t *testing.T) {
		svc, provider := setup(t, repo)
		_, err := svc.SendDirect(context.Background(), "01712345678", "hi", "ghost")
		require.NoError(t, err)
		assert.Equal(t, "global-key", provider.direct[0].Creds.APIKey)
	})

	t.Run("delivery failure is reported, not returned", func(t *testing.T) {
		svc, provider := setup(t, repo)
		provider.failWith = func([]string) error { return errors.New("gateway down") }
		res, err := svc.SendDirect(context.Background(), "01712345678", "hi", "")
		require.NoError(t, err)
		assert.Zero(t, res.Sent)
		require.Len(t, res.Errors, 1)
		assert.True(t, strings.Contains(res.Errors[0].Error, "gateway down"))
	})

	t.Run("validation", func(t *testing.T) {
		svc, provider := setup(t, repo)
		_, err := svc.SendDirect(context.Background(), "", "hi", "")
		assert.True(t, core.IsValidationError(err))
		assert.Empty(t, provider.direct)
	})
}

func TestService_SendBulk_parallelLimit(t *testing.T) {
	repo := &fakeRepo{
		accounts: map[string]Account{"m1": {ID: "m1", Balance: 100}},
		debitRes: DebitResult{Success: true},
	}
	provider := &limitProvider{}
	conf := testConf
	conf.MaxParallelBatches = 2
	svc := NewService(repo, provider, conf, testutil.NewLogger())

	res, err := svc.SendBulk(context.Background(), "m1", recipients(90), "hi")
	require.NoError(t, err)
	assert.Equal(t, 90, res.Sent)
	assert.LessOrEqual(t, provider.max, 2)
}

type limitProvider struct {
	fakeProvider
	mu      sync.Mutex
	running int
	max     int
}

func (p *limitProvider) SendBatch(ctx context.Context, creds Credentials, phones []string, message string) error {
	p.mu.Lock()
	p.running++
	if p.running > p.max {
		p.max = p.running
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running--
		p.mu.Unlock()
	}()
	return p.fakeProvider.SendBatch(ctx, creds, phones, message)
}

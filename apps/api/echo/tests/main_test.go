package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	. "github.com/sylorafashion-deenora/Deenora-tech/apps/api/echo"
	"github.com/sylorafashion-deenora/Deenora-tech/core"
	"github.com/sylorafashion-deenora/Deenora-tech/core/offline"
	"github.com/sylorafashion-deenora/Deenora-tech/core/sms"
	smssvc "github.com/sylorafashion-deenora/Deenora-tech/services/sms"
	inmemdb "github.com/sylorafashion-deenora/Deenora-tech/storage/database/inmem"
	"github.com/sylorafashion-deenora/Deenora-tech/storage/local"
	testutil "github.com/sylorafashion-deenora/Deenora-tech/tests"
)

const secretKey = "test-secret"

var (
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
	errNotFound     = httpErr{Error: "not found"}
)

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

// fakeSMSRepo holds madrasah accounts in memory.
type fakeSMSRepo struct {
	mu       sync.Mutex
	accounts map[string]sms.Account
	debits   []sms.DebitRequest
}

func (r *fakeSMSRepo) GetAccount(_ context.Context, tenantID string) (sms.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[tenantID]
	if !ok {
		return sms.Account{}, sms.ErrTenantNotFound
	}
	return acc, nil
}

func (r *fakeSMSRepo) GetGlobalSettings(context.Context) (sms.Credentials, error) {
	return sms.Credentials{APIKey: "global-key", SecretKey: "global-secret", CallerID: "1234"}, nil
}

func (r *fakeSMSRepo) DebitAndRecordSend(_ context.Context, req sms.DebitRequest) (sms.DebitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc := r.accounts[req.TenantID]
	acc.Balance -= len(req.RecipientIDs)
	r.accounts[req.TenantID] = acc
	r.debits = append(r.debits, req)
	return sms.DebitResult{Success: true}, nil
}

type testApp struct {
	server   *Server
	queue    *offline.Queue
	cache    *offline.Cache
	monitor  *offline.Monitor
	backend  *inmemdb.DB
	smsRepo  *fakeSMSRepo
	provider *smssvc.ConsoleService
}

// failingStore fails every write while fail is set.
type failingStore struct {
	offline.Store
	fail bool
}

func (s *failingStore) Set(key, value string) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.Store.Set(key, value)
}

func setup(t *testing.T) *testApp {
	t.Helper()
	return setupWithStore(t, local.NewMemoryStore())
}

func setupWithStore(t *testing.T, store offline.Store) *testApp {
	t.Helper()

	conf := &core.Config{
		AppName:   "Madrasah",
		TestMode:  true,
		SecretKey: secretKey,
		Server:    core.ServerConfig{DisableReqLogs: true},
		Sync:      core.SyncConfig{Tables: core.DefaultTables},
		SMS:       core.SMSConfig{BatchSize: 15, MaxParallelBatches: 2},
	}
	logger := testutil.NewLogger()
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)

	app := &testApp{
		backend:  inmemdb.NewDB(core.DefaultTables),
		smsRepo:  &fakeSMSRepo{accounts: map[string]sms.Account{"m1": {ID: "m1", Name: "Madrasah One", Balance: 10}}},
		provider: smssvc.NewConsoleServiceMock(),
	}
	app.queue = offline.NewQueue(store, app.backend, offline.RetryPolicy{}, logger)
	app.cache = offline.NewCache(store, logger)
	app.monitor = offline.NewMonitor(app.backend, app.queue, 0, logger)
	t.Cleanup(app.monitor.Stop)

	app.server = NewServer(ServerDeps{
		Conf:         conf,
		Logger:       logger,
		Validate:     validate,
		Translator:   translator,
		Cache:        app.cache,
		Queue:        app.queue,
		Connectivity: app.monitor,
		Reader:       app.backend,
		Writer:       offline.NewWriter(app.backend, app.queue, app.monitor),
		SMSSvc:       sms.NewService(app.smsRepo, app.provider, conf.SMS, logger),
	})
	return app
}

// goOnline marks the app online and waits for the triggered replay.
func (app *testApp) goOnline() {
	app.monitor.SetOnline(true)
	app.monitor.Wait()
}

func getToken(t *testing.T, role, madrasahID string, canSendSMS ...bool) string {
	claims := &Claims{
		StandardClaims: jwt.StandardClaims{Subject: role + "-user"},
		MadrasahID:     madrasahID,
		Role:           role,
	}
	if len(canSendSMS) > 0 {
		claims.Permissions.CanSendSMS = canSendSMS[0]
	}
	token, err := GenerateToken(secretKey, claims)
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func (app *testApp) serve(tt httpTest) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
	app.server.ServeHTTP(rec, req)
	return rec
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		if rec.Body.Len() > 0 {
			t.Errorf("failed! data = %v; want empty body", rec.Body.String())
		}
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runTests(t *testing.T, app *testApp, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, app.serve(tt))
		})
	}
}

package echoapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
	"github.com/sylorafashion-deenora/Deenora-tech/core/offline"
	"github.com/sylorafashion-deenora/Deenora-tech/core/sms"
	"github.com/sylorafashion-deenora/Deenora-tech/storage/database"
)

type (
	Cache interface {
		GetRaw(key string) (json.RawMessage, bool)
		SetRaw(key string, data json.RawMessage)
		Remove(key string)
		Load(ctx context.Context, key string, dst interface{}, fetch offline.FetchFunc) (bool, error)
	}

	SyncQueue interface {
		List() []offline.Mutation
		Add(tenant, table string, payload offline.Payload) (offline.Mutation, error)
		Remove(id string)
		Replay(ctx context.Context) (offline.ReplayReport, error)
		DeadLetters() []offline.Mutation
		Requeue(id string) error
	}

	Connectivity interface {
		IsOnline() bool
		SetOnline(online bool) bool
	}

	RecordReader interface {
		Query(ctx context.Context, table string, filter database.Filter) ([]offline.Record, error)
	}

	RecordWriter interface {
		Insert(ctx context.Context, table string, record offline.Record) (bool, error)
		Update(ctx context.Context, table string, key offline.Key, patch offline.Record) (bool, error)
		Delete(ctx context.Context, table string, key offline.Key) (bool, error)
	}

	SMSService interface {
		SendBulk(ctx context.Context, tenantID string, recipients []sms.Recipient, message string) (sms.DispatchResult, error)
		SendDirect(ctx context.Context, phone, message, tenantID string) (sms.DispatchResult, error)
	}

	ServerDeps struct {
		Conf         *core.Config
		Logger       core.Logger
		Validate     *validator.Validate
		Translator   ut.Translator
		Cache        Cache
		Queue        SyncQueue
		Connectivity Connectivity
		Reader       RecordReader
		Writer       RecordWriter
		SMSSvc       SMSService
	}

	Server struct {
		conf     *core.Config
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		conf:     deps.Conf,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup(deps)
	return s
}

func (s *Server) setup(deps ServerDeps) {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	initValidators(deps.Validate, deps.Translator, deps.Conf.Sync.Tables)

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !deps.Conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(deps.Conf.Debug || deps.Conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(deps.Logger, deps.Translator, s.signalShutdown)
	s.app.Debug = deps.Conf.Debug && !deps.Conf.TestMode

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(newJWTConfig(deps.Conf.SecretKey))

	registerCacheAPI(v1, jwt, deps.Cache, deps.Validate)
	registerSyncAPI(v1, jwt, deps.Queue, deps.Connectivity, deps.Validate)
	registerRecordAPI(v1, jwt, recordDeps{
		reader: deps.Reader,
		writer: deps.Writer,
		cache:  deps.Cache,
		conn:   deps.Connectivity,
		tables: deps.Conf.Sync.Tables,
	})
	registerSMSAPI(v1, jwt, deps.SMSSvc, deps.Validate)
}

// Start listens on the configured address. Listener failures are sent on Errors.
func (s *Server) Start() {
	if err := s.app.Start(s.conf.Server.Host); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.conf.AppName+" agent!")
}

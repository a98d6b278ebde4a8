package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/sylorafashion-deenora/Deenora-tech/apps/api/echo"
	"github.com/sylorafashion-deenora/Deenora-tech/core"
	"github.com/sylorafashion-deenora/Deenora-tech/core/offline"
	"github.com/sylorafashion-deenora/Deenora-tech/core/sms"
	logsvc "github.com/sylorafashion-deenora/Deenora-tech/services/logger"
	smssvc "github.com/sylorafashion-deenora/Deenora-tech/services/sms"
	"github.com/sylorafashion-deenora/Deenora-tech/storage/database"
	"github.com/sylorafashion-deenora/Deenora-tech/storage/local"
)

const dbPingAttempts = 20

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// LocalStore is the device store along with its closer.
type LocalStore struct {
	Store offline.AtomicStore
	Close func() error
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

// newDB opens the backend database. An unreachable backend is not fatal: the agent starts offline.
func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, error) {
	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = database.Ping(ctx, db, dbPingAttempts); err != nil {
		loggerParam.Logger.Warn("backend unreachable, starting offline", err)
	}
	return db, nil
}

func newRecordStore(conf *core.Config, db *sqlx.DB) *database.RecordStore {
	return database.NewRecordStore(db, conf.Sync.Tables)
}

func newAccountStore(db *sqlx.DB) *database.AccountStore {
	return database.NewAccountStore(db)
}

func newLocalStore(conf *core.Config, loggerParam DBLoggerParam) LocalStore {
	store, closeFunc, err := local.Open(conf.LocalStore)
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("opening local store: %v", err), err)
	}
	return LocalStore{Store: store, Close: closeFunc}
}

func newRetryPolicy(conf *core.Config) offline.RetryPolicy {
	var permanent func(error) bool
	if conf.Sync.DeadLetterPermanent {
		permanent = database.IsPermanentError
	}
	return offline.NewRetryPolicy(conf.Sync, permanent)
}

func newQueue(ls LocalStore, records *database.RecordStore, policy offline.RetryPolicy, logger core.Logger) *offline.Queue {
	return offline.NewQueue(ls.Store, records, policy, logger)
}

func newCache(ls LocalStore, logger core.Logger) *offline.Cache {
	return offline.NewCache(ls.Store, logger)
}

func newMonitor(conf *core.Config, records *database.RecordStore, queue *offline.Queue, logger core.Logger) *offline.Monitor {
	return offline.NewMonitor(records, queue, conf.Sync.ProbeInterval, logger)
}

func newWriter(records *database.RecordStore, queue *offline.Queue, monitor *offline.Monitor) *offline.Writer {
	return offline.NewWriter(records, queue, monitor)
}

func newSMSProvider(conf *core.Config, logger core.Logger) sms.Provider {
	if conf.SMS.Console || conf.Debug {
		return smssvc.NewConsoleService(logger)
	}
	return smssvc.NewReveService(conf.SMS)
}

func newSMSService(conf *core.Config, accounts *database.AccountStore, provider sms.Provider, logger core.Logger) *sms.Service {
	return sms.NewService(accounts, provider, conf.SMS, logger)
}

type serverParams struct {
	dig.In

	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator
	Cache      *offline.Cache
	Queue      *offline.Queue
	Monitor    *offline.Monitor
	Records    *database.RecordStore
	Writer     *offline.Writer
	SMSSvc     *sms.Service
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:         p.Conf,
		Logger:       p.Logger,
		Validate:     p.Validate,
		Translator:   p.Translator,
		Cache:        p.Cache,
		Queue:        p.Queue,
		Connectivity: p.Monitor,
		Reader:       p.Records,
		Writer:       p.Writer,
		SMSSvc:       p.SMSSvc,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newRecordStore))
	must(c.Provide(newAccountStore))
	must(c.Provide(newLocalStore))
	must(c.Provide(newRetryPolicy))
	must(c.Provide(newQueue))
	must(c.Provide(newCache))
	must(c.Provide(newMonitor))
	must(c.Provide(newWriter))
	must(c.Provide(newSMSProvider))
	must(c.Provide(newSMSService))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}

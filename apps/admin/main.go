package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
	"github.com/sylorafashion-deenora/Deenora-tech/core/offline"
	"github.com/sylorafashion-deenora/Deenora-tech/core/sms"
	logsvc "github.com/sylorafashion-deenora/Deenora-tech/services/logger"
	smssvc "github.com/sylorafashion-deenora/Deenora-tech/services/sms"
	"github.com/sylorafashion-deenora/Deenora-tech/storage/database"
	"github.com/sylorafashion-deenora/Deenora-tech/storage/local"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	os.Exit(run())
}

func run() int {
	conf := core.NewConfig()
	appLogger := logsvc.NewRollbarLogger(logger, conf)
	defer appLogger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// set up stores
	store, closeStore, err := local.Open(conf.LocalStore)
	if err != nil {
		logger.Printf("error: %s\n", err)
		return 1
	}
	defer closeStore()

	db, err := database.Open(conf)
	if err != nil {
		logger.Printf("error: %s\n", err)
		return 1
	}
	defer db.Close()

	var permanent func(error) bool
	if conf.Sync.DeadLetterPermanent {
		permanent = database.IsPermanentError
	}
	records := database.NewRecordStore(db, conf.Sync.Tables)
	accounts := database.NewAccountStore(db)

	var provider sms.Provider = smssvc.NewReveService(conf.SMS)
	if conf.SMS.Console {
		provider = smssvc.NewConsoleService(appLogger)
	}

	// start CLI
	cli := commandLine{
		ctx:      ctx,
		out:      os.Stdout,
		queue:    offline.NewQueue(store, records, offline.NewRetryPolicy(conf.Sync, permanent), appLogger),
		smsSvc:   sms.NewService(accounts, provider, conf.SMS, appLogger),
		settings: accounts,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		return 1
	}
	return 0
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/sylorafashion-deenora/Deenora-tech/core/offline"
	"github.com/sylorafashion-deenora/Deenora-tech/core/sms"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type (
	syncQueue interface {
		List() []offline.Mutation
		Remove(id string)
		Replay(ctx context.Context) (offline.ReplayReport, error)
		Reset() error
		DeadLetters() []offline.Mutation
		Requeue(id string) error
		PurgeDeadLetters() error
	}

	smsSender interface {
		SendDirect(ctx context.Context, phone, message, tenantID string) (sms.DispatchResult, error)
	}

	settingsStore interface {
		UpdateGlobalSettings(ctx context.Context, creds sms.Credentials) error
	}
)

type commandLine struct {
	ctx      context.Context
	out      io.Writer
	queue    syncQueue
	smsSvc   smsSender
	settings settingsStore
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  queue list                          - list the pending mutations")
	fmt.Fprintln(cli.out, "  queue replay                        - send the pending mutations to the backend")
	fmt.Fprintln(cli.out, "  queue drop -id ID                   - discard a pending mutation")
	fmt.Fprintln(cli.out, "  queue reset                         - discard every pending mutation")
	fmt.Fprintln(cli.out, "  queue dead-letters                  - list the mutations that failed for good")
	fmt.Fprintln(cli.out, "  queue requeue -id ID                - move a dead letter back to the queue")
	fmt.Fprintln(cli.out, "  queue purge-dead-letters            - discard every dead letter")
	fmt.Fprintln(cli.out, "  sms send -phone PHONE -message MSG [-tenant MADRASAH_ID]")
	fmt.Fprintln(cli.out, "                                      - send a single message, without debit")
	fmt.Fprintln(cli.out, "  settings set-credentials -api-key KEY -caller-id ID [-client-id ID]")
	fmt.Fprintln(cli.out, "                                      - set the global gateway credentials. The secret key will be prompted next.")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "queue":
		return cli.runQueue(args[2:])
	case "sms":
		return cli.runSMS(args[2:])
	case "settings":
		return cli.runSettings(args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) runQueue(args []string) error {
	if len(args) == 0 {
		cli.printUsage()
		return errHelp
	}

	dropCmd := flag.NewFlagSet("drop", flag.ExitOnError)
	dropID := dropCmd.String("id", "", "The id of the mutation to discard.")
	requeueCmd := flag.NewFlagSet("requeue", flag.ExitOnError)
	requeueID := requeueCmd.String("id", "", "The id of the dead letter to requeue.")

	switch args[0] {
	case "list":
		return cli.print(nonNil(cli.queue.List()))
	case "replay":
		report, err := cli.queue.Replay(cli.ctx)
		if err != nil {
			return errors.Wrap(err, "replaying queue")
		}
		return cli.print(report)
	case "drop":
		if err := dropCmd.Parse(args[1:]); err != nil {
			return err
		}
		if *dropID == "" {
			dropCmd.Usage()
			return errHelp
		}
		cli.queue.Remove(*dropID)
		return nil
	case "reset":
		return errors.Wrap(cli.queue.Reset(), "resetting queue")
	case "dead-letters":
		return cli.print(nonNil(cli.queue.DeadLetters()))
	case "requeue":
		if err := requeueCmd.Parse(args[1:]); err != nil {
			return err
		}
		if *requeueID == "" {
			requeueCmd.Usage()
			return errHelp
		}
		return cli.queue.Requeue(*requeueID)
	case "purge-dead-letters":
		return errors.Wrap(cli.queue.PurgeDeadLetters(), "purging dead letters")
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) runSMS(args []string) error {
	if len(args) == 0 || args[0] != "send" {
		cli.printUsage()
		return errHelp
	}

	sendCmd := flag.NewFlagSet("send", flag.ExitOnError)
	phone := sendCmd.String("phone", "", "The recipient's phone number.")
	message := sendCmd.String("message", "", "The message to send.")
	tenant := sendCmd.String("tenant", "", "The madrasah whose credentials override the global ones.")

	if err := sendCmd.Parse(args[1:]); err != nil {
		return err
	}
	if strings.TrimSpace(*phone) == "" || strings.TrimSpace(*message) == "" {
		sendCmd.Usage()
		return errHelp
	}

	res, err := cli.smsSvc.SendDirect(cli.ctx, *phone, *message, *tenant)
	if err != nil {
		return errors.Wrap(err, "sending sms")
	}
	return cli.print(res)
}

func (cli *commandLine) runSettings(args []string) error {
	if len(args) == 0 || args[0] != "set-credentials" {
		cli.printUsage()
		return errHelp
	}

	credsCmd := flag.NewFlagSet("set-credentials", flag.ExitOnError)
	apiKey := credsCmd.String("api-key", "", "The gateway API key.")
	callerID := credsCmd.String("caller-id", "", "The sender id shown to recipients.")
	clientID := credsCmd.String("client-id", "", "The gateway client id, if any.")

	if err := credsCmd.Parse(args[1:]); err != nil {
		return err
	}
	if *apiKey == "" || *callerID == "" {
		credsCmd.Usage()
		return errHelp
	}

	fmt.Fprint(cli.out, "Enter secret key:")
	secret, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return err
	}
	if len(secret) == 0 {
		credsCmd.Usage()
		return errHelp
	}

	creds := sms.Credentials{
		APIKey:    *apiKey,
		SecretKey: string(secret),
		CallerID:  *callerID,
		ClientID:  *clientID,
	}
	return errors.Wrap(cli.settings.UpdateGlobalSettings(cli.ctx, creds), "updating global settings")
}

func (cli *commandLine) print(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding output")
	}
	_, err = fmt.Fprintln(cli.out, string(data))
	return err
}

func nonNil(list []offline.Mutation) []offline.Mutation {
	if list == nil {
		return []offline.Mutation{}
	}
	return list
}

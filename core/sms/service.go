package sms

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
)

type Service struct {
	repo     Repository
	provider Provider
	conf     core.SMSConfig
	logger   core.Logger

	newRequestID func() string // mockable
}

func NewService(repo Repository, provider Provider, conf core.SMSConfig, logger core.Logger) *Service {
	if conf.BatchSize <= 0 {
		conf.BatchSize = 15
	}
	return &Service{
		repo:         repo,
		provider:     provider,
		conf:         conf,
		logger:       logger,
		newRequestID: uuid.NewString,
	}
}

func (svc *Service) defaults() Credentials {
	return Credentials{
		APIKey:    svc.conf.APIKey,
		SecretKey: svc.conf.SecretKey,
		CallerID:  svc.conf.CallerID,
		ClientID:  svc.conf.ClientID,
	}
}

// GlobalCredentials returns the platform-wide gateway settings.
// Missing values, or settings that cannot be read, fall back to the configured defaults.
func (svc *Service) GlobalCredentials(ctx context.Context) Credentials {
	creds, err := svc.repo.GetGlobalSettings(ctx)
	if err != nil {
		svc.logger.Warn("reading global sms settings", errors.Wrap(err, "using configured defaults"))
		return svc.defaults().Merge(Credentials{})
	}
	return creds.Merge(svc.defaults())
}

func validateSend(tenantID string, recipients []Recipient, message string) error {
	var flds []core.FieldError
	if strings.TrimSpace(tenantID) == "" {
		flds = append(flds, core.FieldError{Field: "madrasah_id", Error: "this field is required"})
	}
	if len(recipients) == 0 {
		flds = append(flds, core.FieldError{Field: "recipients", Error: "at least one recipient is required"})
	}
	if strings.TrimSpace(message) == "" {
		flds = append(flds, core.FieldError{Field: "message", Error: "this field cannot be blank"})
	}
	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

// SendBulk debits the tenant one credit per recipient, then sends the message in batches.
// Delivery is best effort: failed batches are reported in the result and the debit stands.
func (svc *Service) SendBulk(ctx context.Context, tenantID string, recipients []Recipient, message string) (DispatchResult, error) {
	if err := validateSend(tenantID, recipients, message); err != nil {
		return DispatchResult{}, err
	}

	var (
		account Account
		global  Credentials
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		account, err = svc.repo.GetAccount(gctx, tenantID)
		return err
	})
	g.Go(func() error {
		global = svc.GlobalCredentials(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		if errors.Cause(err) == ErrTenantNotFound {
			return DispatchResult{}, ErrTenantNotFound
		}
		return DispatchResult{}, errors.Wrapf(err, "reading madrasah %s", tenantID)
	}

	if account.Balance < len(recipients) {
		return DispatchResult{}, &InsufficientBalanceError{Required: len(recipients), Available: account.Balance}
	}

	req := DebitRequest{
		RequestID:    svc.newRequestID(),
		TenantID:     tenantID,
		RecipientIDs: make([]string, 0, len(recipients)),
		Message:      message,
	}
	for _, r := range recipients {
		req.RecipientIDs = append(req.RecipientIDs, r.ID)
	}
	res, err := svc.repo.DebitAndRecordSend(ctx, req)
	if err != nil {
		svc.logger.Error("debiting sms balance", errors.Wrapf(err, "madrasah %s", tenantID))
		return DispatchResult{}, errors.Wrap(ErrDebitRefused, err.Error())
	}
	if !res.Success {
		return DispatchResult{}, &DebitError{Reason: res.Error}
	}

	creds := account.Credentials.Merge(global)
	result := svc.deliver(ctx, creds, partition(recipients, svc.conf.BatchSize), message)
	result.RequestID = req.RequestID
	svc.logger.Info("bulk sms dispatched", map[string]interface{}{
		"madrasah_id": tenantID,
		"request_id":  req.RequestID,
		"attempted":   result.Attempted,
		"sent":        result.Sent,
		"failed":      len(result.Errors),
	})
	return result, nil
}

// deliver sends every batch concurrently and collects the failures.
func (svc *Service) deliver(ctx context.Context, creds Credentials, batches []Batch, message string) DispatchResult {
	result := DispatchResult{Errors: []BatchError{}}
	var mu sync.Mutex

	g := new(errgroup.Group)
	if svc.conf.MaxParallelBatches > 0 {
		g.SetLimit(svc.conf.MaxParallelBatches)
	}
	for _, b := range batches {
		b := b
		result.Attempted += len(b.Recipients)
		g.Go(func() error {
			err := svc.provider.SendBatch(ctx, creds, b.Phones, message)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				svc.logger.Warn("sms batch failed", errors.Wrapf(err, "batch %d", b.Index))
				result.Errors = append(result.Errors, BatchError{Batch: b.Index, Recipients: len(b.Recipients), Error: err.Error()})
				return nil
			}
			result.Sent += len(b.Recipients)
			return nil
		})
	}
	_ = g.Wait() // batch goroutines never fail
	return result
}

// SendDirect sends a single message with the global settings, overridden by the tenant's
// own credentials when tenantID is set. There is no balance check and no debit.
func (svc *Service) SendDirect(ctx context.Context, phone, message, tenantID string) (DispatchResult, error) {
	var flds []core.FieldError
	if strings.TrimSpace(phone) == "" {
		flds = append(flds, core.FieldError{Field: "phone", Error: "this field cannot be blank"})
	}
	if strings.TrimSpace(message) == "" {
		flds = append(flds, core.FieldError{Field: "message", Error: "this field cannot be blank"})
	}
	if len(flds) > 0 {
		return DispatchResult{}, core.NewValidationError(nil, flds...)
	}

	creds := svc.GlobalCredentials(ctx)
	if tenantID != "" {
		account, err := svc.repo.GetAccount(ctx, tenantID)
		if err != nil {
			svc.logger.Warn("reading madrasah sms settings", errors.Wrapf(err, "madrasah %s: using global settings", tenantID))
		} else {
			creds = account.Credentials.Merge(creds)
		}
	}

	result := DispatchResult{Attempted: 1, Errors: []BatchError{}}
	if err := svc.provider.SendDirect(ctx, creds, NormalizePhone(phone), message); err != nil {
		svc.logger.Warn("direct sms failed", err)
		result.Errors = append(result.Errors, BatchError{Recipients: 1, Error: err.Error()})
		return result, nil
	}
	result.Sent = 1
	return result, nil
}

// Package sms dispatches bulk notifications to students' guardians after the tenant's
// credit has been debited by the backend.
package sms

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
)

var (
	ErrTenantNotFound = errors.New("madrasah not found")
	ErrDebitRefused   = errors.New("sms debit refused")
)

type (
	Recipient struct {
		ID    string `json:"id" validate:"required,notblank"`
		Phone string `json:"phone" validate:"required,notblank"`
	}

	// Credentials authenticate against the SMS gateway.
	Credentials struct {
		APIKey    string `json:"api_key"`
		SecretKey string `json:"secret_key"`
		CallerID  string `json:"caller_id"`
		ClientID  string `json:"client_id"`
	}

	// Account is the tenant's SMS state as stored by the backend.
	Account struct {
		ID          string
		Name        string
		Balance     int
		Credentials Credentials // blank fields fall back to the global settings
	}

	DebitRequest struct {
		RequestID    string // idempotency token of the logical send
		TenantID     string
		RecipientIDs []string
		Message      string
	}

	DebitResult struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}

	// Batch is one provider request.
	Batch struct {
		Index      int
		Recipients []Recipient
		Phones     []string
	}

	BatchError struct {
		Batch      int    `json:"batch"`
		Recipients int    `json:"recipients"`
		Error      string `json:"error"`
	}

	DispatchResult struct {
		RequestID string       `json:"request_id,omitempty"`
		Attempted int          `json:"attempted"`
		Sent      int          `json:"sent"`
		Errors    []BatchError `json:"errors"`
	}
)

// Merge returns c with every blank field taken from defaults. Values are trimmed.
func (c Credentials) Merge(defaults Credentials) Credentials {
	return Credentials{
		APIKey:    core.FirstNonBlank(c.APIKey, defaults.APIKey),
		SecretKey: core.FirstNonBlank(c.SecretKey, defaults.SecretKey),
		CallerID:  core.FirstNonBlank(c.CallerID, defaults.CallerID),
		ClientID:  core.FirstNonBlank(c.ClientID, defaults.ClientID),
	}
}

// InsufficientBalanceError is returned when the tenant cannot pay for every recipient.
type InsufficientBalanceError struct {
	Required  int
	Available int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient sms balance: %d required, %d available", e.Required, e.Available)
}

// DebitError is returned when the backend refused to debit the tenant.
type DebitError struct {
	Reason string
}

func (e *DebitError) Error() string {
	if e.Reason == "" {
		return "sms debit failed"
	}
	return "sms debit failed: " + e.Reason
}

type (
	// Repository is the backend holding tenant accounts and the global gateway settings.
	Repository interface {
		GetAccount(ctx context.Context, tenantID string) (Account, error)
		GetGlobalSettings(ctx context.Context) (Credentials, error)
		// DebitAndRecordSend atomically checks and debits the balance and records the send.
		DebitAndRecordSend(ctx context.Context, req DebitRequest) (DebitResult, error)
	}

	// Provider delivers messages through the SMS gateway.
	Provider interface {
		SendBatch(ctx context.Context, creds Credentials, phones []string, message string) error
		SendDirect(ctx context.Context, creds Credentials, phone, message string) error
	}
)

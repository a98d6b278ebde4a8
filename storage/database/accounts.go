package database

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
	"github.com/sylorafashion-deenora/Deenora-tech/core/sms"
)

// GlobalSettingsID is the primary key of the single system_settings row.
const GlobalSettingsID = "00000000-0000-0000-0000-000000000001"

const (
	accountQuery = `SELECT id, name, sms_balance, reve_api_key, reve_secret_key, reve_caller_id, reve_client_id
		FROM madrasahs WHERE id = $1`

	settingsQuery = `SELECT reve_api_key, reve_secret_key, reve_caller_id, reve_client_id
		FROM system_settings WHERE id = $1`

	debitQuery = `SELECT send_bulk_sms_rpc(p_madrasah_id => $1, p_student_ids => $2, p_message => $3, p_request_id => $4)`

	updateSettingsQuery = `INSERT INTO system_settings (id, reve_api_key, reve_secret_key, reve_caller_id, reve_client_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			reve_api_key = EXCLUDED.reve_api_key,
			reve_secret_key = EXCLUDED.reve_secret_key,
			reve_caller_id = EXCLUDED.reve_caller_id,
			reve_client_id = EXCLUDED.reve_client_id`
)

type (
	credentialColumns struct {
		APIKey    null.String `db:"reve_api_key"`
		SecretKey null.String `db:"reve_secret_key"`
		CallerID  null.String `db:"reve_caller_id"`
		ClientID  null.String `db:"reve_client_id"`
	}

	accountRow struct {
		ID      string      `db:"id"`
		Name    null.String `db:"name"`
		Balance null.Int    `db:"sms_balance"`
		credentialColumns
	}
)

func (c credentialColumns) credentials() sms.Credentials {
	return sms.Credentials{
		APIKey:    c.APIKey.String,
		SecretKey: c.SecretKey.String,
		CallerID:  c.CallerID.String,
		ClientID:  c.ClientID.String,
	}
}

// AccountStore reads tenant SMS accounts and the global gateway settings.
type AccountStore struct {
	db core.DBExecutor
}

var _ sms.Repository = (*AccountStore)(nil)

func NewAccountStore(db core.DBExecutor) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) GetAccount(ctx context.Context, tenantID string) (sms.Account, error) {
	var row accountRow
	if err := s.db.GetContext(ctx, &row, accountQuery, tenantID); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return sms.Account{}, sms.ErrTenantNotFound
		}
		return sms.Account{}, errors.Wrapf(err, "getting madrasah %s", tenantID)
	}
	return sms.Account{
		ID:          row.ID,
		Name:        row.Name.String,
		Balance:     row.Balance.Int,
		Credentials: row.credentials(),
	}, nil
}

// GetGlobalSettings returns the stored gateway settings. A missing row yields blank settings.
func (s *AccountStore) GetGlobalSettings(ctx context.Context) (sms.Credentials, error) {
	var cols credentialColumns
	if err := s.db.GetContext(ctx, &cols, settingsQuery, GlobalSettingsID); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return sms.Credentials{}, nil
		}
		return sms.Credentials{}, errors.Wrap(err, "getting system settings")
	}
	return cols.credentials(), nil
}

// DebitAndRecordSend runs the backend procedure that checks and debits the balance
// and records the send in a single transaction.
func (s *AccountStore) DebitAndRecordSend(ctx context.Context, req sms.DebitRequest) (sms.DebitResult, error) {
	var out null.JSON
	err := s.db.QueryRowxContext(ctx, debitQuery, req.TenantID, pq.Array(req.RecipientIDs), req.Message, req.RequestID).Scan(&out)
	if err != nil {
		return sms.DebitResult{}, errors.Wrap(err, "calling send_bulk_sms_rpc")
	}
	return decodeDebitResult(out)
}

// decodeDebitResult reads the procedure's output. Only an explicit success=false is a refusal.
func decodeDebitResult(out null.JSON) (sms.DebitResult, error) {
	res := sms.DebitResult{Success: true}
	if !out.Valid || len(out.JSON) == 0 {
		return res, nil
	}
	var body struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := out.Unmarshal(&body); err != nil {
		return sms.DebitResult{}, errors.Wrap(err, "decoding send_bulk_sms_rpc result")
	}
	if body.Success != nil && !*body.Success {
		res.Success = false
		res.Error = body.Error
	}
	return res, nil
}

// UpdateGlobalSettings stores the platform-wide gateway settings.
func (s *AccountStore) UpdateGlobalSettings(ctx context.Context, creds sms.Credentials) error {
	_, err := s.db.ExecContext(ctx, updateSettingsQuery,
		GlobalSettingsID,
		null.StringFrom(creds.APIKey),
		null.StringFrom(creds.SecretKey),
		null.StringFrom(creds.CallerID),
		null.NewString(creds.ClientID, creds.ClientID != ""),
	)
	return errors.Wrap(err, "updating system settings")
}

/**
 * @description
 * This file provides the PostgreSQL implementation of the repository interfaces.
 * It contains the SQL for accounts (credentials and session state), approved payments
 * and payment idempotency keys.
 *
 * @dependencies
 * - context, errors, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: NUMERIC columns are read as text and parsed exactly.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/agentpay-service/internal/domain"
)

const uniqueViolationCode = "23505"

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// PostgresRepository is a concrete implementation of Repository for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `
	id, email, full_name, role, password_hash,
	address, phone_number, total_donation::text,
	is_logged_in, current_session_token, last_login_at, login_device_info,
	created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account  domain.Account
		role     string
		totalRaw *string
	)
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.FullName,
		&role,
		&account.PasswordHash,
		&account.Address,
		&account.PhoneNumber,
		&totalRaw,
		&account.IsLoggedIn,
		&account.CurrentSessionToken,
		&account.LastLoginAt,
		&account.LoginDeviceInfo,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	account.Role = domain.Role(role)
	total, err := parseOptionalDecimal(totalRaw)
	if err != nil {
		return nil, fmt.Errorf("parse total_donation for account %s: %w", account.ID, err)
	}
	account.TotalDonation = total
	return &account, nil
}

func collectAccounts(rows pgx.Rows) ([]domain.Account, error) {
	defer rows.Close()
	accounts := make([]domain.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// CreateAccount inserts a new account. Emails are unique case-insensitively.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	query := `
		INSERT INTO accounts (id, email, full_name, role, password_hash, address, phone_number, total_donation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		account.ID,
		domain.NormalizeEmail(account.Email),
		account.FullName,
		string(account.Role),
		account.PasswordHash,
		account.Address,
		account.PhoneNumber,
		optionalDecimalText(account.TotalDonation),
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert account: %w", err)
	}
	account.Email = domain.NormalizeEmail(account.Email)
	return nil
}

// FindAccountByID retrieves an account by its ID.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	account, err := scanAccount(r.db.QueryRow(ctx, query, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// FindAccountByEmail retrieves an account by email, ignoring case.
func (r *PostgresRepository) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(email) = $1`
	account, err := scanAccount(r.db.QueryRow(ctx, query, domain.NormalizeEmail(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// ListAccounts returns every account, newest first.
func (r *PostgresRepository) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

// ListAgents returns the accounts that can receive payments, ordered by name.
func (r *PostgresRepository) ListAgents(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE role = 'agent' ORDER BY full_name ASC`)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

// UpdateAccountProfile applies a partial profile update. Session and role columns are
// deliberately not reachable from here.
func (r *PostgresRepository) UpdateAccountProfile(ctx context.Context, accountID uuid.UUID, update domain.AccountProfileUpdate) (*domain.Account, error) {
	var email *string
	if update.Email != nil {
		normalized := domain.NormalizeEmail(*update.Email)
		email = &normalized
	}
	query := `
		UPDATE accounts
		SET
			full_name = COALESCE($2, full_name),
			email = COALESCE($3, email),
			password_hash = COALESCE($4, password_hash),
			address = CASE WHEN role = 'agent' THEN COALESCE($5, address) ELSE address END,
			phone_number = CASE WHEN role = 'agent' THEN COALESCE($6, phone_number) ELSE phone_number END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns
	account, err := scanAccount(r.db.QueryRow(ctx, query,
		accountID,
		update.FullName,
		email,
		update.PasswordHash,
		update.Address,
		update.PhoneNumber,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return account, nil
}

// DeleteAccount removes an account. Payments keep their snapshot fields.
func (r *PostgresRepository) DeleteAccount(ctx context.Context, accountID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetSession records a freshly issued session. Concurrent logins race on this single
// UPDATE and the last write wins, which invalidates every earlier token.
func (r *PostgresRepository) SetSession(ctx context.Context, accountID uuid.UUID, tokenDigest string, deviceInfo *string, at time.Time) error {
	query := `
		UPDATE accounts
		SET is_logged_in = TRUE,
			current_session_token = $2,
			last_login_at = $3,
			login_device_info = $4,
			updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, accountID, tokenDigest, at, deviceInfo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ClearSession unconditionally ends the account's session.
func (r *PostgresRepository) ClearSession(ctx context.Context, accountID uuid.UUID) error {
	query := `
		UPDATE accounts
		SET is_logged_in = FALSE,
			current_session_token = NULL,
			login_device_info = NULL,
			updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ClearSessionIfCurrent ends the session only while tokenDigest is still the recorded one.
func (r *PostgresRepository) ClearSessionIfCurrent(ctx context.Context, accountID uuid.UUID, tokenDigest string) (bool, error) {
	query := `
		UPDATE accounts
		SET is_logged_in = FALSE,
			current_session_token = NULL,
			login_device_info = NULL,
			updated_at = NOW()
		WHERE id = $1 AND current_session_token = $2
	`
	tag, err := r.db.Exec(ctx, query, accountID, tokenDigest)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireStaleSessions logs out every account whose last login predates the cutoff.
func (r *PostgresRepository) ExpireStaleSessions(ctx context.Context, loggedInBefore time.Time) (int64, error) {
	query := `
		UPDATE accounts
		SET is_logged_in = FALSE,
			current_session_token = NULL,
			login_device_info = NULL,
			updated_at = NOW()
		WHERE is_logged_in = TRUE AND last_login_at < $1
	`
	tag, err := r.db.Exec(ctx, query, loggedInBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const paymentColumns = `
	id, payer_id, payer_full_name, payer_account_no, agent_id, agent_full_name,
	amount::text, currency, payment_method,
	reference_id, transaction_id, issuer_transaction_id, state, response_code, response_message,
	merchant_charges::text, processed_amount::text, idempotency_key,
	paid_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		payment      domain.Payment
		amountRaw    string
		method       string
		chargesRaw   *string
		processedRaw *string
	)
	err := row.Scan(
		&payment.ID,
		&payment.PayerID,
		&payment.PayerFullName,
		&payment.PayerAccountNo,
		&payment.AgentID,
		&payment.AgentFullName,
		&amountRaw,
		&payment.Currency,
		&method,
		&payment.ReferenceID,
		&payment.TransactionID,
		&payment.IssuerTransactionID,
		&payment.State,
		&payment.ResponseCode,
		&payment.ResponseMessage,
		&chargesRaw,
		&processedRaw,
		&payment.IdempotencyKey,
		&payment.PaidAt,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	payment.PaymentMethod = domain.PaymentMethod(method)
	payment.Currency = strings.TrimSpace(payment.Currency)
	if payment.Amount, err = decimal.NewFromString(amountRaw); err != nil {
		return nil, fmt.Errorf("parse amount for payment %s: %w", payment.ID, err)
	}
	if payment.MerchantCharges, err = parseOptionalDecimal(chargesRaw); err != nil {
		return nil, fmt.Errorf("parse merchant_charges for payment %s: %w", payment.ID, err)
	}
	if payment.ProcessedAmount, err = parseOptionalDecimal(processedRaw); err != nil {
		return nil, fmt.Errorf("parse processed_amount for payment %s: %w", payment.ID, err)
	}
	return &payment, nil
}

func collectPayments(rows pgx.Rows) ([]domain.Payment, error) {
	defer rows.Close()
	payments := make([]domain.Payment, 0)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, rows.Err()
}

// RecordApprovedPayment inserts the payment row and bumps the agent's running total in
// the same transaction. The total is incremented in SQL so concurrent approvals for one
// agent never lose an update.
func (r *PostgresRepository) RecordApprovedPayment(ctx context.Context, payment *domain.Payment, amount decimal.Decimal) (err error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin payment tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	insert := `
		INSERT INTO payments (
			id, payer_id, payer_full_name, payer_account_no, agent_id, agent_full_name,
			amount, currency, payment_method,
			reference_id, transaction_id, issuer_transaction_id, state, response_code, response_message,
			merchant_charges, processed_amount, idempotency_key, paid_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::numeric, $8, $9,
			$10, $11, $12, $13, $14, $15,
			$16::numeric, $17::numeric, $18, $19
		)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, insert,
		payment.ID,
		payment.PayerID,
		payment.PayerFullName,
		payment.PayerAccountNo,
		payment.AgentID,
		payment.AgentFullName,
		payment.Amount.String(),
		payment.Currency,
		string(payment.PaymentMethod),
		payment.ReferenceID,
		payment.TransactionID,
		payment.IssuerTransactionID,
		payment.State,
		payment.ResponseCode,
		payment.ResponseMessage,
		optionalDecimalText(payment.MerchantCharges),
		optionalDecimalText(payment.ProcessedAmount),
		payment.IdempotencyKey,
		payment.PaidAt,
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET total_donation = total_donation + $2::numeric,
			updated_at = NOW()
		WHERE id = $1 AND role = 'agent'
	`, payment.AgentID, amount.String())
	if err != nil {
		return fmt.Errorf("increment agent total: %w", err)
	}
	if tag.RowsAffected() != 1 {
		err = ErrAgentTotalUpdateRejected
		return err
	}

	// A key purged mid-flight leaves nothing to complete; the payment still stands.
	if payment.IdempotencyKey != nil {
		if _, err = tx.Exec(ctx, `
			UPDATE payment_idempotency_keys
			SET status = $3, payment_id = $4, updated_at = NOW()
			WHERE payer_id = $1 AND key = $2
		`, payment.PayerID, *payment.IdempotencyKey, string(domain.IdempotencyCompleted), payment.ID); err != nil {
			return fmt.Errorf("complete idempotency key: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit payment tx: %w", err)
	}
	return nil
}

// FindPaymentByID retrieves a single payment.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// ListAllPayments returns every payment, newest first.
func (r *PostgresRepository) ListAllPayments(ctx context.Context, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	limit, offset := normalizeListOptions(opts)
	rows, err := r.db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		ORDER BY paid_at DESC, created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

// ListPaymentsByAgent returns payments received by an agent, newest first.
func (r *PostgresRepository) ListPaymentsByAgent(ctx context.Context, agentID uuid.UUID, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	limit, offset := normalizeListOptions(opts)
	rows, err := r.db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE agent_id = $1
		ORDER BY paid_at DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`, agentID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

// ListPaymentsByPayer returns payments made by a client, newest first.
func (r *PostgresRepository) ListPaymentsByPayer(ctx context.Context, payerID uuid.UUID, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	limit, offset := normalizeListOptions(opts)
	rows, err := r.db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE payer_id = $1
		ORDER BY paid_at DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`, payerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

// GetPaymentSummary aggregates payment totals for the admin dashboard.
func (r *PostgresRepository) GetPaymentSummary(ctx context.Context) (*domain.PaymentSummary, error) {
	var (
		summary  domain.PaymentSummary
		totalRaw string
	)
	query := `
		SELECT
			(SELECT COUNT(*) FROM payments),
			(SELECT COALESCE(SUM(amount), 0)::text FROM payments),
			(SELECT COUNT(*) FROM accounts WHERE role = 'agent')
	`
	if err := r.db.QueryRow(ctx, query).Scan(&summary.PaymentCount, &totalRaw, &summary.AgentCount); err != nil {
		return nil, err
	}
	total, err := decimal.NewFromString(totalRaw)
	if err != nil {
		return nil, fmt.Errorf("parse payment total: %w", err)
	}
	summary.TotalAmount = total
	return &summary, nil
}

// ClaimIdempotencyKey inserts an in-flight record or returns the one already stored.
func (r *PostgresRepository) ClaimIdempotencyKey(ctx context.Context, payerID uuid.UUID, key, fingerprint string) (*domain.IdempotencyRecord, bool, error) {
	record := domain.IdempotencyRecord{PayerID: payerID, Key: key}
	var status string
	err := r.db.QueryRow(ctx, `
		INSERT INTO payment_idempotency_keys (payer_id, key, status, request_fingerprint)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (payer_id, key) DO NOTHING
		RETURNING status, payment_id, request_fingerprint, created_at
	`, payerID, key, string(domain.IdempotencyInFlight), fingerprint).Scan(&status, &record.PaymentID, &record.Fingerprint, &record.CreatedAt)
	if err == nil {
		record.Status = domain.IdempotencyStatus(status)
		return &record, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("claim idempotency key: %w", err)
	}

	err = r.db.QueryRow(ctx, `
		SELECT status, payment_id, request_fingerprint, created_at
		FROM payment_idempotency_keys
		WHERE payer_id = $1 AND key = $2
	`, payerID, key).Scan(&status, &record.PaymentID, &record.Fingerprint, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Released between our insert and select; the caller may retry.
			return nil, false, ErrIdempotencyKeyNotFound
		}
		return nil, false, fmt.Errorf("load idempotency key: %w", err)
	}
	record.Status = domain.IdempotencyStatus(status)
	return &record, false, nil
}

// MarkIdempotencyKeyUnknown pins a key whose gateway outcome could not be established.
func (r *PostgresRepository) MarkIdempotencyKeyUnknown(ctx context.Context, payerID uuid.UUID, key string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payment_idempotency_keys
		SET status = $3, updated_at = NOW()
		WHERE payer_id = $1 AND key = $2
	`, payerID, key, string(domain.IdempotencyUnknown))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyKeyNotFound
	}
	return nil
}

// ReleaseIdempotencyKey deletes an in-flight key so it can be reused.
func (r *PostgresRepository) ReleaseIdempotencyKey(ctx context.Context, payerID uuid.UUID, key string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM payment_idempotency_keys
		WHERE payer_id = $1 AND key = $2 AND status = $3
	`, payerID, key, string(domain.IdempotencyInFlight))
	return err
}

// PurgeIdempotencyKeys removes keys older than the cutoff regardless of status.
func (r *PostgresRepository) PurgeIdempotencyKeys(ctx context.Context, createdBefore time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM payment_idempotency_keys WHERE created_at < $1`, createdBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func normalizeListOptions(opts domain.PaymentListOptions) (int, int) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func parseOptionalDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	value, err := decimal.NewFromString(strings.TrimSpace(*raw))
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func optionalDecimalText(value *decimal.Decimal) *string {
	if value == nil {
		return nil
	}
	text := value.String()
	return &text
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

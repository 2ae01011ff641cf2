// Package pgstore implements ledger.Store directly on a pgx pool for deployments that keep the
// credit ledger on Postgres without GORM.
package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/ledger"
)

const (
	constraintUserIdempotencyKey = "uniq_credit_transactions_user_idem"
	pgUniqueViolationCode        = "23505"

	errorOperationStore     = "store"
	errorSubjectBalance     = "balance"
	errorSubjectTransaction = "transaction"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeDecrement      = "decrement"
	errorCodeDuplicate      = "duplicate"
	errorCodeEnsure         = "ensure"
	errorCodeGet            = "get"
	errorCodeIncrement      = "increment"
	errorCodeInsert         = "insert"
	errorCodeList           = "list"
	errorCodeSumTotals      = "sum_totals"

	sqlEnsureBalance = `
		insert into credit_balances(user_id, balance, created_at, updated_at)
		values ($1, 0, now(), now())
		on conflict (user_id) do nothing
	`

	sqlSelectBalance = `
		select balance from credit_balances where user_id = $1 for update
	`

	sqlIncrementBalance = `
		update credit_balances set balance = balance + $2, updated_at = now()
		where user_id = $1
	`

	sqlTryDecrementBalance = `
		update credit_balances set balance = balance - $2, updated_at = now()
		where user_id = $1 and balance >= $2
	`

	sqlInsertTransaction = `
		insert into credit_transactions(
			transaction_id, user_id, type, amount, description, payment_method, idempotency_key, metadata, created_at
		)
		values(
			$1, $2, $3, $4, $5,
			nullif($6,''), nullif($7,''),
			coalesce(nullif($8,''),'{}')::jsonb,
			to_timestamp($9)
		)
	`

	sqlSumTotals = `
		select
			coalesce(sum(case when amount > 0 then amount else 0 end),0),
			coalesce(sum(case when amount < 0 then -amount else 0 end),0)
		from credit_transactions
		where user_id = $1
	`

	sqlListTransactions = `
		select
			transaction_id::text,
			user_id,
			type,
			amount,
			description,
			coalesce(payment_method,''),
			coalesce(idempotency_key,''),
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from credit_transactions
		where user_id = $1
		order by created_at desc, transaction_id desc
		limit $2 offset $3
	`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// WithTx executes fn within a transaction. Nested calls reuse the open transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := fn(ctx, &Store{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) EnsureBalance(ctx context.Context, userID string) error {
	if _, err := store.db.Exec(ctx, sqlEnsureBalance, userID); err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeEnsure, err)
	}
	return nil
}

func (store *Store) GetBalance(ctx context.Context, userID string) (ledger.Credits, error) {
	var balance int64
	err := store.db.QueryRow(ctx, sqlSelectBalance, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return ledger.Credits(balance), nil
}

func (store *Store) Increment(ctx context.Context, userID string, amount ledger.Credits) error {
	if _, err := store.db.Exec(ctx, sqlIncrementBalance, userID, amount.Int64()); err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeIncrement, err)
	}
	return nil
}

func (store *Store) TryDecrement(ctx context.Context, userID string, amount ledger.Credits) (bool, error) {
	tag, err := store.db.Exec(ctx, sqlTryDecrementBalance, userID, amount.Int64())
	if err != nil {
		return false, wrapStoreError(errorSubjectBalance, errorCodeDecrement, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction ledger.Transaction) error {
	_, err := store.db.Exec(ctx, sqlInsertTransaction,
		transaction.ID,
		transaction.UserID,
		string(transaction.Type),
		transaction.Amount.Int64(),
		transaction.Description,
		string(transaction.PaymentMethod),
		transaction.IdempotencyKey,
		transaction.MetadataJSON,
		transaction.CreatedUnixUTC,
	)
	if isIdempotencyConflict(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) SumTotals(ctx context.Context, userID string) (ledger.Totals, error) {
	var earned, spent int64
	if err := store.db.QueryRow(ctx, sqlSumTotals, userID).Scan(&earned, &spent); err != nil {
		return ledger.Totals{}, wrapStoreError(errorSubjectBalance, errorCodeSumTotals, err)
	}
	return ledger.Totals{Earned: ledger.Credits(earned), Spent: ledger.Credits(spent)}, nil
}

func (store *Store) ListTransactions(ctx context.Context, userID string, limit int, offset int) ([]ledger.Transaction, error) {
	rows, err := store.db.Query(ctx, sqlListTransactions, userID, limit, offset)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	transactions, err := scanTransactions(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func scanTransactions(rows pgx.Rows) ([]ledger.Transaction, error) {
	var transactions []ledger.Transaction
	for rows.Next() {
		var (
			transaction     ledger.Transaction
			transactionType string
			amount          int64
			paymentMethod   string
		)
		if err := rows.Scan(
			&transaction.ID,
			&transaction.UserID,
			&transactionType,
			&amount,
			&transaction.Description,
			&paymentMethod,
			&transaction.IdempotencyKey,
			&transaction.MetadataJSON,
			&transaction.CreatedUnixUTC,
		); err != nil {
			return nil, err
		}
		transaction.Type = ledger.TransactionType(transactionType)
		transaction.Amount = ledger.Credits(amount)
		transaction.PaymentMethod = ledger.PaymentMethod(paymentMethod)
		transactions = append(transactions, transaction)
	}
	return transactions, rows.Err()
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isIdempotencyConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintUserIdempotencyKey
}

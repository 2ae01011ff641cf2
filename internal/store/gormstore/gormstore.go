// Package gormstore implements the ledger, listing, and notification stores on GORM so the
// same code runs against Postgres and SQLite.
package gormstore

import (
	"encoding/json"
	"errors"
	"strings"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/ledger"
)

const (
	constraintUserIdempotencyKey = "uniq_credit_transactions_user_idem"
	defaultMetadataJSON          = "{}"
	emptyArrayJSON               = "[]"
	pgUniqueViolationCode        = "23505"
	sqliteConstraintUnique       = 2067
	sqliteConstraintCode         = 19
	sqliteUniqueMessage          = "UNIQUE constraint failed"
	idempotencyKeyColumn         = "idempotency_key"

	errorOperationStore      = "store"
	errorSubjectBalance      = "balance"
	errorSubjectTransaction  = "transaction"
	errorSubjectListing      = "listing"
	errorSubjectNotification = "notification"
	errorCodeCount           = "count"
	errorCodeCreate          = "create"
	errorCodeDecode          = "decode"
	errorCodeDelete          = "delete"
	errorCodeDuplicate       = "duplicate"
	errorCodeEnsure          = "ensure"
	errorCodeGet             = "get"
	errorCodeIncrement       = "increment"
	errorCodeDecrement       = "decrement"
	errorCodeInsert          = "insert"
	errorCodeList            = "list"
	errorCodeSumTotals       = "sum_totals"
	errorCodeUpdate          = "update"
	errorCodeUpdateStatus    = "update_status"
	errorCodeExpire          = "expire"
)

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func encodeJSON(value any, fallback string) (datatypes.JSON, error) {
	if value == nil {
		return datatypes.JSON([]byte(fallback)), nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if string(encoded) == "null" {
		return datatypes.JSON([]byte(fallback)), nil
	}
	return datatypes.JSON(encoded), nil
}

func stringPointer(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func isIdempotencyConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintUserIdempotencyKey
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		// connections without extended result codes only report the primary code
		if code != sqliteConstraintUnique && code != sqliteConstraintCode {
			return false
		}
		message := sqliteErr.Error()
		return strings.Contains(message, sqliteUniqueMessage) && strings.Contains(message, idempotencyKeyColumn)
	}
	return false
}

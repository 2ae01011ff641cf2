package pgstore

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/ledger"
)

type scriptedRow struct {
	values []int64
	err    error
}

func (row scriptedRow) Scan(dest ...any) error {
	if row.err != nil {
		return row.err
	}
	for index, target := range dest {
		pointer, ok := target.(*int64)
		if !ok {
			return errors.New("unexpected scan target")
		}
		*pointer = row.values[index]
	}
	return nil
}

type scriptedQuerier struct {
	execTag  pgconn.CommandTag
	execErr  error
	row      scriptedRow
	lastSQL  string
	lastArgs []any
}

func (querier *scriptedQuerier) Exec(_ context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	querier.lastSQL = sql
	querier.lastArgs = arguments
	return querier.execTag, querier.execErr
}

func (querier *scriptedQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not scripted")
}

func (querier *scriptedQuerier) QueryRow(_ context.Context, sql string, arguments ...any) pgx.Row {
	querier.lastSQL = sql
	querier.lastArgs = arguments
	return querier.row
}

func TestTryDecrementReportsAffectedRows(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name string
		tag  string
		want bool
	}{
		{name: "covered", tag: "UPDATE 1", want: true},
		{name: "insufficient", tag: "UPDATE 0", want: false},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			querier := &scriptedQuerier{execTag: pgconn.NewCommandTag(testCase.tag)}
			store := &Store{db: querier}
			decremented, err := store.TryDecrement(context.Background(), "user-1", 5)
			if err != nil {
				t.Fatalf("try decrement: %v", err)
			}
			if decremented != testCase.want {
				t.Fatalf("expected %v, got %v", testCase.want, decremented)
			}
			if querier.lastSQL != sqlTryDecrementBalance || querier.lastArgs[1] != int64(5) {
				t.Fatalf("unexpected statement: %s %v", querier.lastSQL, querier.lastArgs)
			}
		})
	}
}

func TestInsertTransactionMapsIdempotencyConflict(t *testing.T) {
	t.Parallel()
	querier := &scriptedQuerier{execErr: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintUserIdempotencyKey}}
	store := &Store{db: querier}
	err := store.InsertTransaction(context.Background(), ledger.Transaction{ID: "t-1", UserID: "user-1", Type: ledger.TransactionPurchase, Amount: 10})
	if !errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}

	querier.execErr = &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: "credit_transactions_pkey"}
	err = store.InsertTransaction(context.Background(), ledger.Transaction{ID: "t-1", UserID: "user-1"})
	if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected other unique violations to stay generic, got %v", err)
	}
	var operationError ledger.OperationError
	if !errors.As(err, &operationError) {
		t.Fatalf("expected OperationError, got %T", err)
	}
}

func TestGetBalanceWithoutRowIsZero(t *testing.T) {
	t.Parallel()
	store := &Store{db: &scriptedQuerier{row: scriptedRow{err: pgx.ErrNoRows}}}
	balance, err := store.GetBalance(context.Background(), "user-1")
	if err != nil || balance != 0 {
		t.Fatalf("expected zero balance, got %d (%v)", balance, err)
	}
}

func TestSumTotalsScansBothColumns(t *testing.T) {
	t.Parallel()
	store := &Store{db: &scriptedQuerier{row: scriptedRow{values: []int64{40, 15}}}}
	totals, err := store.SumTotals(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("sum totals: %v", err)
	}
	if totals.Earned != 40 || totals.Spent != 15 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
}

func TestWithTxWithoutPoolRunsInline(t *testing.T) {
	t.Parallel()
	store := &Store{db: &scriptedQuerier{}}
	called := false
	err := store.WithTx(context.Background(), func(_ context.Context, txStore ledger.Store) error {
		called = txStore == store
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected inline execution, got called=%v err=%v", called, err)
	}
}

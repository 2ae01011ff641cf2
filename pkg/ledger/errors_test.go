package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestStoreOperationErrorSurvivesDecrement(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.balances[userIDValue] = 10
	store.decrementError = WrapError("store", "balance", "decrement", errStoreFailure)
	service := mustNewService(test, store)

	err := service.Decrement(context.Background(), mustUserID(test, userIDValue), 3)
	var operationError OperationError
	if !errors.As(err, &operationError) {
		test.Fatalf("expected OperationError, got %T %v", err, err)
	}
	if operationError.Operation() != "store" || operationError.Subject() != "balance" || operationError.Code() != "decrement" {
		test.Fatalf("unexpected segments %q.%q.%q", operationError.Operation(), operationError.Subject(), operationError.Code())
	}
	if !errors.Is(err, errStoreFailure) {
		test.Fatalf("expected the store failure to stay reachable, got %v", err)
	}
	if err.Error() != "store.balance.decrement: store error" {
		test.Fatalf("unexpected message %q", err.Error())
	}
	if store.balances[userIDValue] != 10 {
		test.Fatalf("expected balance untouched, got %d", store.balances[userIDValue])
	}
}

func TestNegativeStoredBalanceIsReported(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.balances[userIDValue] = -1
	service := mustNewService(test, store)

	_, err := service.Balance(context.Background(), mustUserID(test, userIDValue))
	if !errors.Is(err, ErrInvalidBalance) {
		test.Fatalf("expected ErrInvalidBalance, got %v", err)
	}
	var operationError OperationError
	if !errors.As(err, &operationError) || operationError.Code() != "negative" {
		test.Fatalf("expected negative code, got %v", err)
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError("store", "balance", "decrement", nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/events"
)

// Service contains the domain logic over a Store.
type Service struct {
	store     Store
	nowFn     func() int64
	logger    OperationLogger
	publisher events.Publisher
	newID     func() string
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:     store,
		nowFn:     now,
		publisher: events.Discard{},
		newID:     uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance returns the current balance, creating the zero row on first access.
func (service *Service) Balance(ctx context.Context, userID UserID) (Balance, error) {
	if err := service.store.EnsureBalance(ctx, userID.String()); err != nil {
		return Balance{}, err
	}
	current, err := service.store.GetBalance(ctx, userID.String())
	if err != nil {
		return Balance{}, err
	}
	if current < 0 {
		return Balance{}, WrapError("service", "balance", "negative", ErrInvalidBalance)
	}
	totals, err := service.store.SumTotals(ctx, userID.String())
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		UserID:      userID.String(),
		Balance:     current,
		TotalEarned: totals.Earned,
		TotalSpent:  totals.Spent,
	}, nil
}

// Purchase converts currency to credits one to one. A zero idempotency key gets a generated one.
func (service *Service) Purchase(ctx context.Context, userID UserID, amount Credits, method PaymentMethod, idempotencyKey IdempotencyKey) (Transaction, error) {
	if idempotencyKey.IsZero() {
		idempotencyKey = IdempotencyKey{value: operationPurchase + idempotencyKeyDelimiter + service.newID()}
	}
	var transaction Transaction
	_, operationError := NewPaymentMethod(string(method))
	if operationError == nil {
		transaction, operationError = service.credit(ctx, creditInput{
			userID:          userID,
			amount:          amount,
			transactionType: TransactionPurchase,
			description:     fmt.Sprintf("Purchased %d credits via %s", amount, method),
			paymentMethod:   method,
			idempotencyKey:  idempotencyKey,
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:       operationPurchase,
		UserID:          userID,
		Amount:          amount,
		TransactionType: TransactionPurchase,
		IdempotencyKey:  idempotencyKey,
		Error:           operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	service.publish(ctx, events.Event{
		Type:    events.TypeCreditsPurchased,
		UserID:  userID.String(),
		Title:   "Credits purchased",
		Message: fmt.Sprintf("You purchased %d credits.", amount),
		Data:    map[string]any{"amount": amount.Int64(), "payment_method": string(method), "transaction_id": transaction.ID},
	})
	return transaction, nil
}

// Earn grants credits unconditionally.
func (service *Service) Earn(ctx context.Context, userID UserID, amount Credits, reason string) (Transaction, error) {
	transaction, operationError := service.credit(ctx, creditInput{
		userID:          userID,
		amount:          amount,
		transactionType: TransactionEarn,
		description:     reason,
	})
	service.logOperation(ctx, OperationLog{
		Operation:       operationEarn,
		UserID:          userID,
		Amount:          amount,
		TransactionType: TransactionEarn,
		Error:           operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	service.publish(ctx, events.Event{
		Type:    events.TypeCreditsEarned,
		UserID:  userID.String(),
		Title:   "Credits earned",
		Message: fmt.Sprintf("You earned %d credits: %s", amount, reason),
		Data:    map[string]any{"amount": amount.Int64(), "reason": reason, "transaction_id": transaction.ID},
	})
	return transaction, nil
}

// Reverse credits back a charge whose follow-up could not be applied. It emits no notification.
func (service *Service) Reverse(ctx context.Context, userID UserID, amount Credits, reason string, metadata MetadataJSON) (Transaction, error) {
	transaction, operationError := service.credit(ctx, creditInput{
		userID:          userID,
		amount:          amount,
		transactionType: TransactionBoostReversal,
		description:     reason,
		metadata:        metadata,
	})
	service.logOperation(ctx, OperationLog{
		Operation:       operationReverse,
		UserID:          userID,
		Amount:          amount,
		TransactionType: TransactionBoostReversal,
		Metadata:        metadata,
		Error:           operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return transaction, nil
}

// Spend debits credits with an atomic conditional decrement. The balance is left untouched when
// it does not cover amount.
func (service *Service) Spend(ctx context.Context, userID UserID, amount Credits, transactionType TransactionType, description string, metadata MetadataJSON) (Transaction, error) {
	transaction, operationError := service.debit(ctx, userID, amount, transactionType, description, metadata)
	service.logOperation(ctx, OperationLog{
		Operation:       operationSpend,
		UserID:          userID,
		Amount:          amount,
		TransactionType: transactionType,
		Metadata:        metadata,
		Error:           operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return transaction, nil
}

// Decrement removes amount credits or fails with ErrInsufficientBalance.
func (service *Service) Decrement(ctx context.Context, userID UserID, amount Credits) error {
	_, operationError := service.debit(ctx, userID, amount, TransactionSpend, decrementDescription, MetadataJSON{})
	service.logOperation(ctx, OperationLog{
		Operation:       operationDecrement,
		UserID:          userID,
		Amount:          amount,
		TransactionType: TransactionSpend,
		Error:           operationError,
	})
	return operationError
}

// Refund returns credits to the platform. The user's balance must cover the amount.
func (service *Service) Refund(ctx context.Context, userID UserID, amount Credits, reason string) (Transaction, error) {
	transaction, operationError := service.debit(ctx, userID, amount, TransactionRefund, reason, MetadataJSON{})
	service.logOperation(ctx, OperationLog{
		Operation:       operationRefund,
		UserID:          userID,
		Amount:          amount,
		TransactionType: TransactionRefund,
		Error:           operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	service.publish(ctx, events.Event{
		Type:    events.TypeCreditsRefunded,
		UserID:  userID.String(),
		Title:   "Credits refunded",
		Message: fmt.Sprintf("%d credits were refunded: %s", amount, reason),
		Data:    map[string]any{"amount": amount.Int64(), "reason": reason, "transaction_id": transaction.ID},
	})
	return transaction, nil
}

// ListTransactions returns a page of the user's history, newest first.
func (service *Service) ListTransactions(ctx context.Context, userID UserID, limit int, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return service.store.ListTransactions(ctx, userID.String(), limit, offset)
}

type creditInput struct {
	userID          UserID
	amount          Credits
	transactionType TransactionType
	description     string
	paymentMethod   PaymentMethod
	idempotencyKey  IdempotencyKey
	metadata        MetadataJSON
}

func (service *Service) credit(ctx context.Context, input creditInput) (Transaction, error) {
	if input.amount <= 0 {
		return Transaction{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
	}
	transaction := service.newTransaction(input.userID, input.transactionType, input.amount, input.description, input.metadata)
	transaction.PaymentMethod = input.paymentMethod
	transaction.IdempotencyKey = input.idempotencyKey.String()
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.EnsureBalance(ctx, input.userID.String()); err != nil {
			return err
		}
		if err := transactionStore.Increment(ctx, input.userID.String(), input.amount); err != nil {
			return err
		}
		return transactionStore.InsertTransaction(ctx, transaction)
	})
	if err != nil {
		return Transaction{}, err
	}
	return transaction, nil
}

func (service *Service) debit(ctx context.Context, userID UserID, amount Credits, transactionType TransactionType, description string, metadata MetadataJSON) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
	}
	if !transactionType.IsDebit() {
		return Transaction{}, fmt.Errorf("%w: %q is not a debit", ErrInvalidTransactionType, transactionType)
	}
	transaction := service.newTransaction(userID, transactionType, -amount, description, metadata)
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.EnsureBalance(ctx, userID.String()); err != nil {
			return err
		}
		decremented, err := transactionStore.TryDecrement(ctx, userID.String(), amount)
		if err != nil {
			return err
		}
		if !decremented {
			return ErrInsufficientBalance
		}
		return transactionStore.InsertTransaction(ctx, transaction)
	})
	if err != nil {
		return Transaction{}, err
	}
	return transaction, nil
}

func (service *Service) newTransaction(userID UserID, transactionType TransactionType, signedAmount Credits, description string, metadata MetadataJSON) Transaction {
	return Transaction{
		ID:             service.newID(),
		UserID:         userID.String(),
		Type:           transactionType,
		Amount:         signedAmount,
		Description:    description,
		MetadataJSON:   metadata.String(),
		CreatedUnixUTC: service.nowFn(),
	}
}

func (service *Service) publish(ctx context.Context, event events.Event) {
	event.OccurredAt = time.Unix(service.nowFn(), 0).UTC()
	service.publisher.Publish(ctx, event)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

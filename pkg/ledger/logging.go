package ledger

import (
	"context"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/events"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation       string
	UserID          UserID
	Amount          Credits
	TransactionType TransactionType
	IdempotencyKey  IdempotencyKey
	Metadata        MetadataJSON
	Status          string
	Error           error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithPublisher wires the sink for post-commit credit notifications.
func WithPublisher(publisher events.Publisher) ServiceOption {
	return func(service *Service) {
		if publisher != nil {
			service.publisher = publisher
		}
	}
}

// WithIDGenerator overrides transaction id generation.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newID = generate
		}
	}
}

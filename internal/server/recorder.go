package server

import (
	"context"

	"github.com/mattjoyce/requestnet/internal/ledger"
)

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/mattjoyce/requestnet/internal/server DeliveryRecorder

// DeliveryRecorder stores accepted deliveries and serves them back to the read API.
type DeliveryRecorder interface {
	Record(ctx context.Context, req ledger.RecordRequest) (*ledger.Delivery, error)
	Get(ctx context.Context, id string) (*ledger.Delivery, error)
	Recent(ctx context.Context, f ledger.Filter) ([]ledger.Delivery, error)
}

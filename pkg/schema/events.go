package schema

import "encoding/json"

// Webhook event names. This is the closed set accepted by the default registry.
const (
	EventPaymentConfirmed     = "payment.confirmed"
	EventPaymentFailed        = "payment.failed"
	EventPaymentProcessing    = "payment.processing"
	EventPaymentPartial       = "payment.partial"
	EventPaymentRefunded      = "payment.refunded"
	EventPaymentDetailUpdated = "payment_detail.updated"
	EventComplianceUpdated    = "compliance.updated"
	EventRequestRecurring     = "request.recurring"
)

// PaymentProcessor identifies which rail settled a payment.
type PaymentProcessor string

const (
	ProcessorRequestNetwork PaymentProcessor = "request-network"
	ProcessorRequestTech    PaymentProcessor = "request-tech"
)

// FailedSubStatus qualifies a payment.failed event.
type FailedSubStatus string

const (
	FailedSubStatusFailed            FailedSubStatus = "failed"
	FailedSubStatusBounced           FailedSubStatus = "bounced"
	FailedSubStatusInsufficientFunds FailedSubStatus = "insufficient_funds"
)

// ProcessingSubStatus tracks an off-ramp payment through its stages.
type ProcessingSubStatus string

const (
	ProcessingInitiated                 ProcessingSubStatus = "initiated"
	ProcessingPendingInternalAssessment ProcessingSubStatus = "pending_internal_assessment"
	ProcessingOngoingChecks             ProcessingSubStatus = "ongoing_checks"
	ProcessingSendingFiat               ProcessingSubStatus = "sending_fiat"
	ProcessingFiatSent                  ProcessingSubStatus = "fiat_sent"
	ProcessingBounced                   ProcessingSubStatus = "bounced"
	ProcessingRetryRequired             ProcessingSubStatus = "retry_required"
)

// PaymentDetailStatus is the review state of a payer's bank details.
type PaymentDetailStatus string

const (
	PaymentDetailApproved PaymentDetailStatus = "approved"
	PaymentDetailFailed   PaymentDetailStatus = "failed"
	PaymentDetailPending  PaymentDetailStatus = "pending"
	PaymentDetailVerified PaymentDetailStatus = "verified"
)

// KYCStatus is the identity-verification state of a payer.
type KYCStatus string

const (
	KYCNotStarted    KYCStatus = "not_started"
	KYCInitiated     KYCStatus = "initiated"
	KYCPending       KYCStatus = "pending"
	KYCApproved      KYCStatus = "approved"
	KYCRejected      KYCStatus = "rejected"
	KYCFailed        KYCStatus = "failed"
	KYCRetryRequired KYCStatus = "retry_required"
)

// AgreementStatus is the state of the payer's service agreement.
type AgreementStatus string

const (
	AgreementNotStarted AgreementStatus = "not_started"
	AgreementPending    AgreementStatus = "pending"
	AgreementCompleted  AgreementStatus = "completed"
	AgreementSigned     AgreementStatus = "signed"
	AgreementRejected   AgreementStatus = "rejected"
	AgreementFailed     AgreementStatus = "failed"
)

// Fee is a single fee line attached to a payment.
type Fee struct {
	Type        string `json:"type,omitempty"`
	Stage       string `json:"stage,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Amount      string `json:"amount,omitempty"`
	AmountInUSD string `json:"amountInUSD,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

// PaymentFields are shared by the payment.* events.
type PaymentFields struct {
	RequestID        string           `json:"requestId"`
	PaymentReference string           `json:"paymentReference,omitempty"`
	Explorer         string           `json:"explorer,omitempty"`
	Amount           string           `json:"amount,omitempty"`
	TotalAmountPaid  string           `json:"totalAmountPaid,omitempty"`
	ExpectedAmount   string           `json:"expectedAmount,omitempty"`
	Timestamp        string           `json:"timestamp,omitempty"`
	TxHash           string           `json:"txHash,omitempty"`
	Network          string           `json:"network,omitempty"`
	Currency         string           `json:"currency,omitempty"`
	PaymentCurrency  string           `json:"paymentCurrency,omitempty"`
	IsCryptoToFiat   bool             `json:"isCryptoToFiat,omitempty"`
	PaymentProcessor PaymentProcessor `json:"paymentProcessor,omitempty"`
	Fees             []Fee            `json:"fees,omitempty"`
	RawPayload       json.RawMessage  `json:"rawPayload,omitempty"`
}

// PaymentConfirmed is sent once a request has been fully paid.
type PaymentConfirmed struct {
	PaymentFields
}

func (PaymentConfirmed) EventName() string { return EventPaymentConfirmed }

// PaymentFailed is sent when a payment could not be completed.
type PaymentFailed struct {
	PaymentFields
	SubStatus     FailedSubStatus `json:"subStatus"`
	FailureReason string          `json:"failureReason,omitempty"`
}

func (PaymentFailed) EventName() string { return EventPaymentFailed }

// PaymentProcessing reports progress of a crypto-to-fiat payment.
type PaymentProcessing struct {
	PaymentFields
	SubStatus ProcessingSubStatus `json:"subStatus"`
}

func (PaymentProcessing) EventName() string { return EventPaymentProcessing }

// PaymentPartial is sent when a payment covers only part of the expected amount.
type PaymentPartial struct {
	PaymentFields
}

func (PaymentPartial) EventName() string { return EventPaymentPartial }

// PaymentRefunded is sent after a payment has been returned to the payer.
type PaymentRefunded struct {
	PaymentFields
	RefundedTo   string `json:"refundedTo,omitempty"`
	RefundAmount string `json:"refundAmount,omitempty"`
}

func (PaymentRefunded) EventName() string { return EventPaymentRefunded }

// PaymentDetailUpdated reports a review decision on a payer's bank details.
type PaymentDetailUpdated struct {
	PaymentDetailsID string              `json:"paymentDetailsId"`
	PaymentAccountID string              `json:"paymentAccountId,omitempty"`
	ClientUserID     string              `json:"clientUserId,omitempty"`
	Status           PaymentDetailStatus `json:"status"`
	RejectionMessage string              `json:"rejectionMessage,omitempty"`
}

func (PaymentDetailUpdated) EventName() string { return EventPaymentDetailUpdated }

// ComplianceUpdated reports a change in a payer's KYC or agreement state.
type ComplianceUpdated struct {
	ClientUserID    string          `json:"clientUserId"`
	KYCStatus       KYCStatus       `json:"kycStatus,omitempty"`
	AgreementStatus AgreementStatus `json:"agreementStatus,omitempty"`
	IsCompliant     bool            `json:"isCompliant,omitempty"`
}

func (ComplianceUpdated) EventName() string { return EventComplianceUpdated }

// RequestRecurring is sent when a recurring request spawns a new occurrence.
type RequestRecurring struct {
	RequestID                       string `json:"requestId"`
	OriginalRequestID               string `json:"originalRequestId"`
	OriginalRequestPaymentReference string `json:"originalRequestPaymentReference,omitempty"`
	PaymentReference                string `json:"paymentReference,omitempty"`
}

func (RequestRecurring) EventName() string { return EventRequestRecurring }

// RawPayload is used for events registered without a typed decoder.
type RawPayload struct {
	Name   string
	Fields map[string]any
}

func (p RawPayload) EventName() string { return p.Name }

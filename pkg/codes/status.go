package codes

// Session Status Codes
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusBound        = "bound"
	StatusUnbinding    = "unbinding"
	StatusReconnecting = "reconnecting"
	StatusStopped      = "stopped" // terminal, reconnect attempts exhausted
)

// Message Status Codes (persisted verbatim, read by the admin surface)
const (
	MsgStatusReceived     = "received"
	MsgStatusClassified   = "classified"
	MsgStatusUnclassified = "unclassified"
	MsgStatusPending      = "pending"
	MsgStatusSent         = "sent"
	MsgStatusDelivered    = "delivered"
	MsgStatusFailed       = "failed"
)

// Message Types
const (
	MsgTypeSMS     = "SMS"
	MsgTypeMO      = "MO"
	MsgTypeDLR     = "DLR"
	MsgTypeWebhook = "WEBHOOK"
)

// Delivery Attempt Status Codes
const (
	DeliveryStatusPending = "pending"
	DeliveryStatusSent    = "sent"
	DeliveryStatusFailed  = "failed"
)

// Standard DLR status tokens as they appear in receipt payloads.
const (
	DLRStatDelivered   = "DELIVRD"
	DLRStatExpired     = "EXPIRED"
	DLRStatDeleted     = "DELETED"
	DLRStatUndelivered = "UNDELIV"
	DLRStatRejected    = "REJECTD"
)

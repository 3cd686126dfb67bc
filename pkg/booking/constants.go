package booking

import "time"

// Operation names reported in OperationLog.Operation.
const (
	OperationCreate      = "create"
	OperationUpdate      = "update"
	OperationCancel      = "cancel"
	OperationActivate    = "activate"
	OperationPutResource = "put_resource"
	OperationPutHolder   = "put_holder"
	OperationRotateToken = "rotate_token"
	OperationLinkAddress = "link_address"
)

const (
	operationStatusOK     = "ok"
	operationStatusError  = "error"
	errorOperationService = "service"
	errorSubjectToken     = "token"
	errorCodeHash         = "hash"
	errorCodeVerify       = "verify"

	// DefaultNotifyLead is how long before start or end a reminder fires.
	DefaultNotifyLead  = 15 * time.Minute
	// DefaultExpiryGrace is how long after start an unactivated reservation survives.
	DefaultExpiryGrace = 10 * time.Minute
)

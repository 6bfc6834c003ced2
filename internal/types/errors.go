package types

import "errors"

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrConnectionLost = errors.New("connection lost")
	ErrOrderRejected  = errors.New("order rejected")
	ErrPersistence    = errors.New("persistence error")
	ErrDataParse      = errors.New("data parse error")
)

// Error kinds recorded on OrderResult.ErrorKind.
const (
	ErrorKindRejected  = "REJECTED"
	ErrorKindTransport = "TRANSPORT"
	ErrorKindAuth      = "AUTH"
)

package usb

import "errors"

// Errors returned across the host stack. Callers match them with errors.Is;
// wrapped messages carry the OS-level detail.
var (
	ErrIO           = errors.New("input/output error")
	ErrInvalidParam = errors.New("invalid parameter")
	ErrAccess       = errors.New("access denied")
	ErrNoDevice     = errors.New("no such device")
	ErrNotFound     = errors.New("entity not found")
	ErrBusy         = errors.New("resource busy")
	ErrTimeout      = errors.New("operation timed out")
	ErrOverflow     = errors.New("overflow")
	ErrNoMem        = errors.New("insufficient memory")
	ErrNotSupported = errors.New("operation not supported")
	ErrOther        = errors.New("other error")
)

// TransferStatus is the terminal state of an asynchronous transfer.
type TransferStatus uint8

const (
	TransferCompleted TransferStatus = iota
	TransferError
	TransferTimedOut
	TransferCancelled
	TransferStall
	TransferNoDevice
	TransferOverflow
)

func (s TransferStatus) String() string {
	switch s {
	case TransferCompleted:
		return "completed"
	case TransferError:
		return "error"
	case TransferTimedOut:
		return "timed out"
	case TransferCancelled:
		return "cancelled"
	case TransferStall:
		return "stall"
	case TransferNoDevice:
		return "no device"
	case TransferOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Err maps a terminal status to the matching sentinel error, or nil for a
// completed transfer.
func (s TransferStatus) Err() error {
	switch s {
	case TransferCompleted:
		return nil
	case TransferTimedOut:
		return ErrTimeout
	case TransferCancelled:
		return ErrOther
	case TransferStall:
		return ErrIO
	case TransferNoDevice:
		return ErrNoDevice
	case TransferOverflow:
		return ErrOverflow
	default:
		return ErrIO
	}
}

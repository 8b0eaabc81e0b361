package transport

import (
	"errors"
	"fmt"
)

// BindErrorKind distinguishes the causes of a failed bind/listen.
type BindErrorKind int

const (
	// BindErrorOther covers every cause other than an occupied address.
	BindErrorOther BindErrorKind = iota

	// BindErrorAddressInUse means another process already holds the address.
	BindErrorAddressInUse
)

// String returns a string representation of the kind.
func (k BindErrorKind) String() string {
	switch k {
	case BindErrorAddressInUse:
		return "address_in_use"
	default:
		return "other"
	}
}

// BindError reports a failure to acquire or keep serving on a listen address.
// Kind is derived from the OS error number at the transport boundary, so callers
// never need to inspect error strings.
type BindError struct {
	Kind BindErrorKind
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to listen on %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// AddressInUse reports whether the address was already taken.
func (e *BindError) AddressInUse() bool {
	return e.Kind == BindErrorAddressInUse
}

// NewBindError wraps err as a BindError for addr, classifying its cause.
func NewBindError(addr string, err error) *BindError {
	kind := BindErrorOther
	if isAddrInUse(err) {
		kind = BindErrorAddressInUse
	}
	return &BindError{Kind: kind, Addr: addr, Err: err}
}

// IsAddressInUse reports whether err is, or wraps, an address-in-use BindError.
func IsAddressInUse(err error) bool {
	var bindErr *BindError
	return errors.As(err, &bindErr) && bindErr.AddressInUse()
}

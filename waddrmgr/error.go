package waddrmgr

import (
	"errors"
	"fmt"
)

var (
	// errAlreadyExists is the common error description used for the
	// ErrAlreadyExists error code.
	errAlreadyExists = "the specified address manager already exists"

	// errWatchingOnly is the common error description used for the
	// ErrWatchingOnly error code.
	errWatchingOnly = "operation not supported for watching-only address " +
		"managers"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific ManagerError.
const (
	// ErrDatabase indicates an error with the underlying database.  When
	// this error code is set, the Err field of the ManagerError will be
	// set to the underlying error returned from the database.
	ErrDatabase ErrorCode = iota

	// ErrUpgrade indicates the manager needs to be upgraded.  This should
	// not happen in practice unless the version number has been increased
	// and there is not yet any code written to upgrade.
	ErrUpgrade

	// ErrKeyChain indicates an error with the key chain typically either
	// due to the inability to create an extended key or deriving a child
	// extended key.
	ErrKeyChain

	// ErrNoExist indicates that the specified database does not exist.
	ErrNoExist

	// ErrAlreadyExists indicates that the specified database already
	// exists.
	ErrAlreadyExists

	// ErrWrongSeed indicates the seed supplied on open does not match the
	// seed the manager was created with.
	ErrWrongSeed

	// ErrWatchingOnly indicates that the operation requires key material
	// that a watching-only manager does not hold.
	ErrWatchingOnly

	// ErrAccountNumTooHigh indicates that the specified account number is
	// higher than the maximum allowed.
	ErrAccountNumTooHigh

	// ErrAddressNotFound indicates that the requested address is not
	// known to the address manager.
	ErrAddressNotFound

	// ErrBlockNotFound indicates that the requested block is not known to
	// the address manager.
	ErrBlockNotFound

	// ErrAlreadySynced indicates that the operation is only allowed before
	// the first block is synced.
	ErrAlreadySynced
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:          "ErrDatabase",
	ErrUpgrade:           "ErrUpgrade",
	ErrKeyChain:          "ErrKeyChain",
	ErrNoExist:           "ErrNoExist",
	ErrAlreadyExists:     "ErrAlreadyExists",
	ErrWrongSeed:         "ErrWrongSeed",
	ErrWatchingOnly:      "ErrWatchingOnly",
	ErrAccountNumTooHigh: "ErrAccountNumTooHigh",
	ErrAddressNotFound:   "ErrAddressNotFound",
	ErrBlockNotFound:     "ErrBlockNotFound",
	ErrAlreadySynced:     "ErrAlreadySynced",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// ManagerError provides a single type for errors that can happen during
// address manager operation.  It is used to indicate several types of
// failures including errors with caller requests such as invalid accounts
// or requesting keys of unknown addresses, as well as errors with the
// underlying database.
//
// The caller can use type assertions to determine if an error is a
// ManagerError and access the ErrorCode field to ascertain the specific
// reason for the failure.
//
// The ErrDatabase and ErrKeyChain error codes will also have the Err field
// set with the underlying error.
type ManagerError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e ManagerError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e ManagerError) Unwrap() error {
	return e.Err
}

// managerError creates a ManagerError given a set of arguments.
func managerError(c ErrorCode, desc string, err error) ManagerError {
	return ManagerError{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether the error is a ManagerError with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	var e ManagerError
	return errors.As(err, &e) && e.ErrorCode == code
}

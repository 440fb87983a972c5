package shardmedia

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrObjectNotFound indicates no object record exists for a logical name
	ErrObjectNotFound = errors.New("object not found")

	// ErrAccountNotFound indicates an account was not found
	ErrAccountNotFound = errors.New("account not found")

	// ErrDuplicateObject indicates an object record with the same logical name exists
	ErrDuplicateObject = errors.New("object already exists")

	// ErrDuplicateAccount indicates an account with the same identifier exists
	ErrDuplicateAccount = errors.New("account already exists")

	// ErrNoAccounts indicates placement was attempted without any configured account
	ErrNoAccounts = errors.New("no accounts configured")

	// ErrFetchFailed indicates the remote fetch failed, as opposed to an empty object
	ErrFetchFailed = errors.New("fetch failed")
)

// ObjectError represents an error related to an object operation
type ObjectError struct {
	Name string
	Op   string
	Err  error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("object operation %s failed for %s: %v", e.Op, e.Name, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to a transfer backend operation
type StorageError struct {
	Backend string
	Account string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on %s/%s: %v", e.Op, e.Key, e.Backend, e.Account, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// FetchError reports a failed remote fetch. It always matches ErrFetchFailed.
type FetchError struct {
	Name    string
	Account string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch of %s from account %s failed: %v", e.Name, e.Account, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

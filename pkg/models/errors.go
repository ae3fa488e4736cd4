package models

import "errors"

var (
	ErrVenueNotFound       = errors.New("venue not found")
	ErrVenueAlreadyDeleted = errors.New("venue already deleted")
	ErrSelfMerge           = errors.New("cannot merge a venue with itself")
	ErrMergeLogNotFound    = errors.New("merge log entry not found")
	ErrRollbackUnsupported = errors.New("merge rollback is not supported")
	ErrMergeInProgress     = errors.New("another merge holds one of these venues")
	ErrInvalidOption       = errors.New("invalid option")
)

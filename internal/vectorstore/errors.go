package vectorstore

import "errors"

var (
	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrQueryFailed indicates a query was rejected or failed.
	ErrQueryFailed = errors.New("query failed")

	// ErrCollectionNotFound indicates the index or collection is missing.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidCollectionName indicates a malformed collection name.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrInvalidFilter indicates a filter the backend cannot express.
	ErrInvalidFilter = errors.New("invalid filter")
)

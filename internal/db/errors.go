package db

import (
	"errors"
	"fmt"
)

// Sentinel errors for database operations.
var (
	ErrKeyNotFound        = errors.New("db: key not found")
	ErrCollectionNotFound = errors.New("db: collection not found")
	ErrDimensionMismatch  = errors.New("db: dimension mismatch")
)

// Op constants name the failing operation for error context.
const (
	OpPing        = "PING"
	OpMigrate     = "MIGRATE"
	OpEnsure      = "ENSURE_COLLECTION"
	OpCollection  = "COLLECTION"
	OpCollections = "COLLECTIONS"
	OpInsert      = "INSERT_RECORD"
	OpScan        = "SCAN_RECORDS"
	OpRank        = "RANK_RECORDS"
	OpCount       = "COUNT_RECORDS"
	OpGet         = "GET"
	OpSet         = "SET"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// DimensionError reports a vector whose length differs from the collection's.
type DimensionError struct {
	Collection string
	Stored     int
	Got        int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: collection %q has %d dimensions, got %d",
		ErrDimensionMismatch.Error(), e.Collection, e.Stored, e.Got)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

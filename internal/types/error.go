package types

import (
	"errors"
	"fmt"
)

// Error kinds for each migration stage. Stage failures wrap exactly one of these.
var (
	ErrStorage      = errors.New("document storage failed")
	ErrExport       = errors.New("flat file export failed")
	ErrLoad         = errors.New("relational load failed")
	ErrAuth         = errors.New("superset authentication failed")
	ErrRegistration = errors.New("superset registration failed")

	// ErrEmptyCollection is returned by the exporter when the document store holds no records
	ErrEmptyCollection = errors.New("document collection is empty")
)

// Stage names a step of the upload migration
type Stage string

const (
	StageStorage  Stage = "storage"
	StageExport   Stage = "export"
	StageLoad     Stage = "load"
	StageAuth     Stage = "auth"
	StageRegister Stage = "register"
)

// StageError records which migration step failed
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// External reports whether the failure happened after the data was loaded,
// while talking to Superset.
func (e *StageError) External() bool {
	return e.Stage == StageAuth || e.Stage == StageRegister
}

// CustomError carries an HTTP status for the global error handler
type CustomError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (e *CustomError) Error() string {
	return fmt.Sprintf("%d: %s [type: %s]", e.Code, e.Message, e.Type)
}

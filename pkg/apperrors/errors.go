package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrValidation       = errors.New("validation failed")
	ErrFileTooLarge     = errors.New("file too large")
	ErrStoreUnavailable = errors.New("graph store unavailable")
	ErrExtraction       = errors.New("content extraction failed")
	ErrJSONParse        = errors.New("failed to parse model response as JSON")
	ErrConnectionLost   = errors.New("database connection lost")
	ErrBuild            = errors.New("graph build failed")
	ErrOptimizer        = errors.New("graph optimization failed")
)

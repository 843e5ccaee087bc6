package apperrors

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrInvalidSchema  = errors.New("invalid ontology schema")
	ErrNoTenantScope  = errors.New("no tenant scope in context")
	ErrProviderFailed = errors.New("computed edge provider failed")
)

package store

import "errors"

var (
	ErrUnauthorized       = errors.New("invalid credentials")
	ErrVisitNotFound      = errors.New("visit not found")
	ErrDuplicateVisit     = errors.New("visit already queued")
	ErrInvalidVisit       = errors.New("invalid visit number")
	ErrDepartmentNotFound = errors.New("department not found")
	ErrStaffNotFound      = errors.New("staff not found")
)

package models

import "errors"

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrNotFound     = errors.New("resource not found")
	ErrBookNotFound = errors.New("book not found")
	ErrPageNotFound = errors.New("page not found")

	// User & Authentication Errors
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user with this username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTokenInvalid       = errors.New("token is invalid")
	ErrTokenExpired       = errors.New("token has expired")

	// Generation Errors
	ErrGenerationInProgress = errors.New("generation is already in progress for this session")
	ErrGenerationNotFound   = errors.New("generation task not found")
	ErrCaptureInProgress    = errors.New("another capture is already in progress")

	// Storage Errors
	ErrAssetNotFound   = errors.New("asset not found in blob store")
	ErrCorruptedIndex  = errors.New("library index is corrupted")
	ErrSessionNotFound = errors.New("session not found")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
	ErrInvalidInput   = errors.New("invalid input data")
)

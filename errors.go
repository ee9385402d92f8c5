package vauth

import "errors"

var (
	// ErrUnauthorized is an exported constant or variable used by the credential engine.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation is an exported constant or variable used by the credential engine.
	ErrValidation = errors.New("invalid request input")
	// ErrRefreshInvalid is an exported constant or variable used by the credential engine.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is an exported constant or variable used by the credential engine.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrRefreshRateLimited is an exported constant or variable used by the credential engine.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrTokenInvalid is an exported constant or variable used by the credential engine.
	ErrTokenInvalid = errors.New("invalid access token")
	// ErrAPIKeyInvalid is an exported constant or variable used by the credential engine.
	ErrAPIKeyInvalid = errors.New("invalid api key")
	// ErrAPIKeyNotFound is an exported constant or variable used by the credential engine.
	ErrAPIKeyNotFound = errors.New("api key not found")
	// ErrKeyNameExists is an exported constant or variable used by the credential engine.
	ErrKeyNameExists = errors.New("api key name already in use")
	// ErrKeyLimitExceeded is an exported constant or variable used by the credential engine.
	ErrKeyLimitExceeded = errors.New("api key limit exceeded")
	// ErrScopeDenied is an exported constant or variable used by the credential engine.
	ErrScopeDenied = errors.New("scope denied")
	// ErrRateLimited is an exported constant or variable used by the credential engine.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrStoreUnavailable is an exported constant or variable used by the credential engine.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrUserNotFound is an exported constant or variable used by the credential engine.
	ErrUserNotFound = errors.New("user not found")
	// ErrEngineNotReady is an exported constant or variable used by the credential engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Package httpapi exposes the credential lifecycle engine over HTTP: token
// refresh and logout, owner-facing API key CRUD, and a guarded mount point
// for the metrics ingestion handler.
//
// # Routes
//
//	POST   /v1/auth/refresh     — rotate a refresh token
//	POST   /v1/auth/logout      — revoke a single refresh token
//	POST   /v1/auth/logout-all  — revoke every token of the caller (bearer)
//	POST   /v1/keys             — create an API key (bearer; plaintext once)
//	GET    /v1/keys             — list the caller's keys, secrets masked
//	PATCH  /v1/keys/{id}        — update name/scopes/state/limit/expiry
//	DELETE /v1/keys/{id}        — delete a key
//	ANY    /v1/ingest/*         — caller-supplied handler behind the key guard
//
// # Status contract
//
// 401 for missing, malformed, unknown, expired, or reused credentials; 403
// for a valid key lacking the required scope; 429 over the rate limit; 400
// for request shape errors; 409 for key name conflicts and per-user limits.
//
// # Architecture boundaries
//
// Handlers translate JSON bodies into engine calls and engine errors into
// statuses. All credential decisions live in the engine; all request guards
// live in the middleware package.
package httpapi

// Package middleware exposes HTTP middleware adapters for API-key and
// access-token enforcement built on top of vauth.Engine validation.
//
// # Guards
//
//   - [RequireAPIKey] — API key authentication plus optional scope check and
//     per-key rate limiting.
//   - [RequireAccessToken] — stateless JWT verification for management routes.
//
// Each guard extracts the credential from the request, calls the engine, and
// injects the validated result into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself — all decisions are delegated to the
// engine.
//
// # What this package must NOT do
//
//   - Parse keys or JWTs directly (delegates to Engine).
//   - Access Redis or the database (Engine handles I/O).
//   - Make authorization decisions beyond mapping Engine errors to statuses.
package middleware

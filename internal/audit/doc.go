// Package audit implements the asynchronous security/audit event pipeline
// shared by the credential engine: event model, pluggable sinks, and a
// buffered dispatcher with drop accounting.
package audit

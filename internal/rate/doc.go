// Package rate implements the per-API-key request throttle on Redis
// fixed-window counters (atomic INCR with expiry on first hit).
package rate

// Package cryfserr carries no architecture diagram: it is a flat list
// of sentinel and wrapped error types, one per error kind the storage
// stack can produce. Callers check kind with errors.Is/errors.As
// rather than string-matching messages.
package cryfserr

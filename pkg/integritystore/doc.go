/*
Package integritystore implements the rollback/reintroduction
detection layer (L1) that sits directly above pkg/encryptedstore. It
does not encrypt anything itself; it prepends a small integrity header
(writer client id + per-writer version counter) to the plaintext before
handing it down, and on load cross-checks the header against a local
version ledger persisted to a state file.

Violations are sticky by default: once one is observed,
integrity_violation_in_previous_run is written to the state file and
every subsequent Open fails until a human clears it, unless
Config.AllowIntegrityViolations downgrades violations to warnings (the
mode a repair tool would run in).
*/
package integritystore

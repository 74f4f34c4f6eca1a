/*
Package violations is the integrity-violation notification bus: a
synchronous, in-process pub/sub that lets pkg/integritystore report a
violation to whatever wants to react (pkg/stack subscribes the mount
adapter's callback) without importing any of them. The sticky flag and
the violation metric are set by pkg/integritystore itself, not by a
subscriber.

Publish calls every subscriber inline and returns only once they have
all run: the mount adapter's on_integrity_violation callback must see
a violation before the call that detected it returns an error to its
own caller, so there is no internal buffering or background delivery
to race against that return.
*/
package violations

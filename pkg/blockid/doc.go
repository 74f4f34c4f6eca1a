/*
Package blockid defines the identifiers shared by every layer of the
block store stack.

A BlockId is 128 bits of randomness generated once, at block creation,
never reused and never derived from content (this store is not
content-addressed in the dedup sense: two blocks with identical
plaintext get different ids and different ciphertexts). A ClientId
names the process that last wrote a block; client id 0 is reserved as
a tombstone marker by the integrity layer (see pkg/integritystore) and
is never handed out by RandomClientID.
*/
package blockid

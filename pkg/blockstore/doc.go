/*
Package blockstore defines BlockStore, the interface every layer of
the stack (pkg/physicalstore, pkg/encryptedstore, pkg/integritystore,
pkg/blockcache) satisfies, and Create, the collision-retry loop for
"give me a fresh id and store this data under it" that none of the
individual layers implement on their own.
*/
package blockstore

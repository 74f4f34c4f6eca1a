// Package stack composes the full storage stack for one mounted
// filesystem: physical, encrypted, integrity, and caching block stores
// wired under the node, tree, blob, and filesystem-blob layers, plus
// the per-filesystem local state (integrity ledger, client id,
// known-blocks index) that lives outside the encrypted base directory.
//
// The mount adapter opens one Stack per mount and closes it on
// unmount; everything in between goes through the handles the Stack
// exposes.
package stack

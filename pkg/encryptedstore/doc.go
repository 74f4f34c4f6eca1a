/*
Package encryptedstore is the AEAD wrapper layer (L2) between the
integrity store and the physical block store. It holds no domain
knowledge about nodes or trees: every byte it is handed is opaque
plaintext, and every byte it returns on Load has been authenticated
against the block id it was stored under.

A decryption failure (tag mismatch, truncated stored block) surfaces
as *cryfserr.DecryptionFailure rather than a generic error, so the
integrity store above can recognize it and promote it to an
IntegrityViolation: a corrupted block looks identical to a tampered
one from this layer's point of view.
*/
package encryptedstore

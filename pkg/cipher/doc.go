/*
Package cipher wraps the two AEAD algorithms the encrypted block store
(pkg/encryptedstore) is allowed to use: AES-256-GCM from the standard
library's crypto/aes and crypto/cipher, and XChaCha20-Poly1305 from
golang.org/x/crypto/chacha20poly1305. Both satisfy crypto/cipher.AEAD,
so pkg/encryptedstore is written against that interface and never
branches on which algorithm is active outside of New.

KeyBuffer gives the one place a raw key is held outside an AEAD
(between reading the config file and constructing the AEAD, and again
on fsck export/config-changing operations the mount adapter performs)
an mlock-pinned home that keeps the key off swap, and an explicit
Close that zeroes it before releasing the pin. On platforms without
the mlock wiring the pin is skipped; zeroing on Close is unconditional.
*/
package cipher

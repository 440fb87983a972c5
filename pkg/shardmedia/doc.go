// Package shardmedia backs up personal media by splitting, encrypting and
// scattering it across several independent remote storage accounts, and
// streams any item back on demand.
//
// The package itself holds the shared domain types (Account, ObjectRecord),
// the collaborator interfaces (Repository, Transfer, EventSink) and the
// naming rules every other subpackage agrees on. The moving parts live in
// subpackages:
//
//   - crypt: AES-CTR stream cipher and the salted name hash
//   - keywrap: per-object keys and account credentials wrapped under the master secret
//   - chunker: variable-size splitting of large objects
//   - placement: round-robin assignment of objects to accounts
//   - gateway: lookup, fetch and decrypt on retrieval
//   - pipeline: the full upload batch over the on-disk layout
//   - repo/*, storage/*: metadata store and transfer backends
//
// Remote Object Names
//
// Ciphertext is never stored under its logical name. The address at a
// backend account is recomputed on demand as crypt.Hash(name, objectNonce),
// where the object nonce is the random value that also keys the object's
// keystream. Only the wrapped nonce is persisted, so an account holder can
// neither correlate nor guess object identities.
package shardmedia

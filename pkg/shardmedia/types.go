package shardmedia

import (
	"time"
)

// Account identifies one backend storage destination.
//
// Both secrets are stored wrapped under the master secret: WrappedNonce with
// the master nonce, WrappedCredential with the account's own (unwrapped) nonce.
type Account struct {
	ID                string    `json:"id"`
	WrappedCredential []byte    `json:"wrapped_credential"`
	WrappedNonce      []byte    `json:"wrapped_nonce"`
	CreatedAt         time.Time `json:"created_at"`
}

// ObjectRecord is one stored object: a whole file or one chunk of a chunked file.
// Records are never mutated after creation.
type ObjectRecord struct {
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	AccountID  string    `json:"account_id"`
	WrappedKey []byte    `json:"wrapped_key"`
}

// Credential is an unwrapped account credential handed to a Transfer backend.
type Credential struct {
	Login    string
	Password string
}

// String keeps passwords out of logs.
func (c Credential) String() string {
	return c.Login
}

// Placement describes where one object was written during an upload batch.
type Placement struct {
	Record              *ObjectRecord
	RemoteName          string
	PreviewRemoteName   string // empty unless the object is a head unit
	ThumbnailRemoteName string // empty when no thumbnail was found
	Size                int64
	Sequence            int // round-robin counter value the object was assigned with
}

// ListObjectsRequest filters ListObjects. Zero values mean "no filter".
type ListObjectsRequest struct {
	AccountID     string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int

	NewestFirst        bool // order by created_at descending
	SkipTrailingChunks bool // hide video chunks after the head chunk
}

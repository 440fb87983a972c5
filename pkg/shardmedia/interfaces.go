package shardmedia

import (
	"context"
	"io"
)

// Repository is the metadata store: account records and object records.
type Repository interface {
	// Account operations
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)

	// Object operations
	CreateObject(ctx context.Context, record *ObjectRecord) error
	GetObject(ctx context.Context, name string) (*ObjectRecord, error)
	ListObjects(ctx context.Context, req ListObjectsRequest) ([]*ObjectRecord, error)
}

// Snapshotter is implemented by repositories that can copy themselves to a
// single local file, used to back the metadata store up to every account.
type Snapshotter interface {
	Snapshot(ctx context.Context, dst string) error
}

// Transfer moves bytes between local staging and a remote backend account.
type Transfer interface {
	// Put uploads localPath into the remote directory remotePath. A local
	// directory uploads every file beneath it, keeping relative paths.
	Put(ctx context.Context, cred Credential, localPath, remotePath string) error

	// Get streams the raw bytes stored at the remote path remoteName. Bytes
	// must be yielded incrementally; the caller closes the reader to release
	// the fetch.
	Get(ctx context.Context, cred Credential, remoteName string) (io.ReadCloser, error)
}

// EventSink receives notifications from placement and retrieval.
type EventSink interface {
	// ObjectPlaced is fired after an object is encrypted into staging and recorded
	ObjectPlaced(ctx context.Context, placement *Placement) error

	// ObjectRetrieved is fired when a retrieval stream is opened
	ObjectRetrieved(ctx context.Context, name string, fastPath bool) error

	// AccountTransferred is fired after an account's staging directory was uploaded
	AccountTransferred(ctx context.Context, accountID string) error
}

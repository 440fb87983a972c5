package shardmedia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Dump is the portable form of the metadata store.
type Dump struct {
	Accounts []*Account      `json:"accounts"`
	Objects  []*ObjectRecord `json:"objects"`
}

// DumpJSON writes every account and object record of repo to w. It backs up
// repositories that cannot snapshot themselves to a file.
func DumpJSON(ctx context.Context, repo Repository, w io.Writer) error {
	accounts, err := repo.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	objects, err := repo.ListObjects(ctx, ListObjectsRequest{})
	if err != nil {
		return fmt.Errorf("list objects: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Dump{Accounts: accounts, Objects: objects})
}

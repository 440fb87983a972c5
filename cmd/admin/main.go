package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/tendant/shardmedia/pkg/shardmedia"
	"github.com/tendant/shardmedia/pkg/shardmedia/config"
	"github.com/tendant/shardmedia/pkg/shardmedia/crypt"
	"github.com/tendant/shardmedia/pkg/shardmedia/keywrap"
)

const usage = `Shardmedia Admin CLI

Manages storage accounts and inspects the metadata store.

USAGE:
  admin <command> [options]

COMMANDS:
  accounts add <login> <password>   Register a storage account
  accounts list                     List accounts in placement order
  objects list                      List object records
  resolve <name>                    Show where an object is stored

ENVIRONMENT VARIABLES:
  SHARD_ROOT          Layout root (default: ./data)
  SHARD_MASTER_KEY    base64 master key (required)
  SHARD_MASTER_NONCE  base64 master nonce (required)
  DATABASE_URL        sqlite://path, postgres://..., or memory
                      (default: sqlite at $SHARD_ROOT/database.db)
  DB_SCHEMA           PostgreSQL schema name

  Configuration can be loaded from a .env file in the current directory.
  Command line environment variables override .env file values.

EXAMPLES:
  admin accounts add backup01@example.com s3cret
  admin objects list --account=backup01@example.com --limit=20
  admin objects list --json
  admin objects list --after=2024-01-01 --before=2024-02-01
  admin resolve IMG_20240102_030405.jpg

OPTIONS (for objects list):
  --account=<login>   Filter by account
  --limit=<n>         Maximum results (default: 100)
  --offset=<n>        Pagination offset (default: 0)
  --after=<date>      Only objects created at or after date (YYYY-MM-DD or RFC3339)
  --before=<date>     Only objects created at or before date
  --newest            List newest first
  --json              Output as JSON
`

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	command := os.Args[1]
	if command == "help" || command == "--help" || command == "-h" {
		fmt.Println(usage)
		os.Exit(0)
	}

	cfg, err := config.Load(config.WithEnv(), config.WithTransfer("memory://"))
	if err != nil {
		fatal("Failed to load configuration", err)
	}
	wrapper, err := cfg.BuildWrapper()
	if err != nil {
		fatal("Failed to build key wrapper", err)
	}

	ctx := context.Background()
	repo, closeRepo, err := cfg.BuildRepository(ctx)
	if err != nil {
		fatal("Failed to open metadata store", err)
	}
	defer closeRepo()

	args := os.Args[2:]
	switch {
	case command == "accounts" && len(args) >= 1 && args[0] == "add":
		if len(args) != 3 {
			fmt.Println(usage)
			os.Exit(1)
		}
		handleAccountAdd(ctx, repo, wrapper, args[1], args[2])
	case command == "accounts" && len(args) >= 1 && args[0] == "list":
		handleAccountList(ctx, repo, hasFlag(args[1:], "json"))
	case command == "objects" && len(args) >= 1 && args[0] == "list":
		req, useJSON, err := parseListFlags(args[1:])
		if err != nil {
			fatal("Invalid objects list flags", err)
		}
		handleObjectList(ctx, repo, req, useJSON)
	case command == "resolve" && len(args) == 1:
		handleResolve(ctx, repo, wrapper, args[0])
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Println(usage)
		os.Exit(1)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

func parseListFlags(args []string) (shardmedia.ListObjectsRequest, bool, error) {
	req := shardmedia.ListObjectsRequest{Limit: 100}
	useJSON := false

	for _, arg := range args {
		key, value := parseFlag(arg)
		switch key {
		case "json":
			useJSON = true
		case "account":
			req.AccountID = value
		case "limit":
			if n, err := strconv.Atoi(value); err == nil {
				req.Limit = n
			}
		case "offset":
			if n, err := strconv.Atoi(value); err == nil {
				req.Offset = n
			}
		case "newest":
			req.NewestFirst = true
		case "after", "before":
			t, err := shardmedia.ParseDate(value)
			if err != nil {
				return req, useJSON, fmt.Errorf("--%s: %w", key, err)
			}
			if key == "after" {
				req.CreatedAfter = &t
			} else {
				req.CreatedBefore = &t
			}
		}
	}
	return req, useJSON, nil
}

func hasFlag(args []string, name string) bool {
	for _, arg := range args {
		if key, _ := parseFlag(arg); key == name {
			return true
		}
	}
	return false
}

func parseFlag(arg string) (string, string) {
	if len(arg) > 2 && arg[:2] == "--" {
		arg = arg[2:]
		for i, c := range arg {
			if c == '=' {
				return arg[:i], arg[i+1:]
			}
		}
		return arg, "true"
	}
	return "", ""
}

func handleAccountAdd(ctx context.Context, repo shardmedia.Repository, wrapper *keywrap.Wrapper, login, password string) {
	account, err := wrapper.NewAccount(login, password)
	if err != nil {
		fatal("Failed to wrap account credential", err)
	}
	if err := repo.CreateAccount(ctx, account); err != nil {
		fatal("Failed to create account", err)
	}
	fmt.Printf("Account %s added\n", account.ID)
}

type accountSummary struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

func handleAccountList(ctx context.Context, repo shardmedia.Repository, useJSON bool) {
	accounts, err := repo.ListAccounts(ctx)
	if err != nil {
		fatal("Failed to list accounts", err)
	}

	summaries := make([]accountSummary, len(accounts))
	for i, a := range accounts {
		summaries[i] = accountSummary{ID: a.ID, CreatedAt: a.CreatedAt.Format("2006-01-02 15:04:05")}
	}
	if useJSON {
		data, _ := json.MarshalIndent(summaries, "", "  ")
		fmt.Println(string(data))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "#\tACCOUNT\tCREATED\n")
	for i, s := range summaries {
		fmt.Fprintf(w, "%d\t%s\t%s\n", i, s.ID, s.CreatedAt)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d\n", len(summaries))
}

type objectSummary struct {
	Name      string `json:"name"`
	AccountID string `json:"account_id"`
	CreatedAt string `json:"created_at"`
}

func handleObjectList(ctx context.Context, repo shardmedia.Repository, req shardmedia.ListObjectsRequest, useJSON bool) {
	records, err := repo.ListObjects(ctx, req)
	if err != nil {
		fatal("Failed to list objects", err)
	}

	summaries := make([]objectSummary, len(records))
	for i, r := range records {
		summaries[i] = objectSummary{Name: r.Name, AccountID: r.AccountID, CreatedAt: r.CreatedAt.Format("2006-01-02 15:04:05")}
	}
	if useJSON {
		data, _ := json.MarshalIndent(summaries, "", "  ")
		fmt.Println(string(data))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "NAME\tACCOUNT\tCREATED\n")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", truncate(s.Name, 40), s.AccountID, s.CreatedAt)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d", len(summaries))
	if req.Limit > 0 && len(summaries) == req.Limit {
		fmt.Printf(" (may have more, use --offset=%d to continue)", req.Offset+req.Limit)
	}
	fmt.Println()
}

func handleResolve(ctx context.Context, repo shardmedia.Repository, wrapper *keywrap.Wrapper, name string) {
	record, err := repo.GetObject(ctx, name)
	if err != nil {
		fatal("Failed to get object", err)
	}
	nonce, err := wrapper.UnwrapObject(record)
	if err != nil {
		fatal("Failed to unwrap object key", err)
	}

	fmt.Printf("Object:    %s\n", record.Name)
	fmt.Printf("Account:   %s\n", record.AccountID)
	fmt.Printf("Created:   %s\n", record.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Remote:    %s\n", crypt.Hash(record.Name, nonce))
	if shardmedia.IsHeadUnit(record.Name) {
		fmt.Printf("Preview:   %s\n", crypt.Hash(shardmedia.PreviewKey(record.Name), nonce))
		fmt.Printf("Thumbnail: %s\n", crypt.Hash(shardmedia.ThumbnailName(record.Name), nonce))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

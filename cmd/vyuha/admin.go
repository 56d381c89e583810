package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/vyuha/server/internal/persist"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations for the configured backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		// opening the store migrates postgres and sqlite
		return withApp(cmd, func(ctx context.Context, a *app) error {
			switch {
			case a.cfg.Store.Backend == "postgres", a.cfg.Store.Backend == "sqlite":
				fmt.Printf("%s schema is up to date.\n", a.cfg.Store.Backend)
			case a.cfg.Journal.Sink == "postgres":
				if _, err := a.postgres(ctx); err != nil {
					return err
				}
				fmt.Println("postgres journal schema is up to date.")
			default:
				fmt.Printf("Nothing to migrate for the %s store.\n", a.cfg.Store.Backend)
			}
			return nil
		})
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export or import the world as a zstd snapshot",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the current world to file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			st, err := a.store.Read(ctx)
			if err != nil {
				return err
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := persist.WriteSnapshot(f, st); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Printf("Exported version %d to %s.\n", st.Version, args[0])
			return nil
		})
	},
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the world with a snapshot (use \"latest\" for the newest archived one)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			path := args[0]
			if path == "latest" {
				archive := &persist.SnapshotArchive{Dir: a.cfg.Snapshot.Dir, Keep: a.cfg.Snapshot.Keep}
				var err error
				if path, err = archive.Latest(); err != nil {
					return err
				}
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			st, err := persist.ReadSnapshot(f)
			if err != nil {
				return err
			}
			if err := a.store.Write(ctx, st); err != nil {
				return err
			}
			fmt.Printf("Imported %s: %d entities.\n", path, len(st.Entities))
			return nil
		})
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Print the newest activity journal entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			j, err := a.newJournal(ctx)
			if err != nil {
				return err
			}
			if j == nil {
				return errors.New("journal.sink is none")
			}
			entries, err := j.Recent(ctx, limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s  %-14s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, e.Message)
			}
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "hash-token",
	Short: "Read a God Mode admin token from stdin and print its bcrypt hash for http.admin_token_hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read token: %w", err)
		}
		token := strings.TrimSpace(line)
		if token == "" {
			return errors.New("empty token")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		fmt.Println(string(hash))
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotImportCmd)
	journalCmd.Flags().Int("limit", 50, "entries to show")
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/spf13/cobra"
	"github.com/textileio/go-walletsync/pkg/backup"
	"github.com/textileio/go-walletsync/pkg/backup/restorer"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Offers wallet database backup utilities",
	Long:  `Offers wallet database backup utilities`,
	Args:  cobra.ExactArgs(1),
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Creates a backup of the wallet database",
	Long:  `Creates a backup of the wallet database. It's safe to run while walletd is running`,
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, err := databasePath(cmd)
		if err != nil {
			return err
		}
		dir, err := cmd.Flags().GetString("dir")
		if err != nil {
			return errors.New("failed to parse dir")
		}
		vacuum, err := cmd.Flags().GetBool("vacuum")
		if err != nil {
			return errors.New("failed to parse vacuum")
		}
		compress, err := cmd.Flags().GetBool("compress")
		if err != nil {
			return errors.New("failed to parse compress")
		}
		keep, err := cmd.Flags().GetInt("keep")
		if err != nil {
			return errors.New("failed to parse keep")
		}

		backuper, err := backup.NewBackuper(
			dbPath,
			dir,
			backup.WithVacuum(vacuum),
			backup.WithCompression(compress),
			backup.WithPruning(keep > 0, keep),
		)
		if err != nil {
			return fmt.Errorf("creating backuper: %s", err)
		}
		result, err := backuper.Backup(cmd.Context())
		if err != nil {
			return fmt.Errorf("backing up: %s", err)
		}

		fmt.Printf("Backup created at %s in %s\n", result.Path, result.ElapsedTime)
		cp := result.Checkpoint
		fmt.Printf("Confirmed: %d, pending: %d, node head: %d\n", cp.ConfirmedTxs, cp.PendingTxs, cp.NodeHead)
		for _, w := range cp.Wallets {
			fmt.Printf("  %s synced up to block %d\n", w.Address, w.Cursor)
		}
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the backups of a directory",
	Long:  `Lists the backups of a directory, oldest first`,
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := cmd.Flags().GetString("dir")
		if err != nil {
			return errors.New("failed to parse dir")
		}
		files, err := backup.List(dir)
		if err != nil {
			return fmt.Errorf("listing backups: %s", err)
		}
		for _, f := range files {
			fmt.Printf("%s\t%s\n", f.Timestamp.Format(time.RFC3339), f.Path)
		}
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <url or path>",
	Short: "Restores the wallet database from a backup",
	Long:  `Restores the wallet database from a local or remote backup. walletd must be stopped`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, err := databasePath(cmd)
		if err != nil {
			return err
		}
		if _, err := os.Stat(dbPath); err == nil {
			return fmt.Errorf("database %s already exists, remove it first", dbPath)
		}

		if err := restorer.NewBackupRestorer(args[0], dbPath).Restore(cmd.Context()); err != nil {
			return fmt.Errorf("restoring: %s", err)
		}

		fmt.Printf("Database restored at %s\n", dbPath)
		return nil
	},
}

func databasePath(cmd *cobra.Command) (string, error) {
	dbPath, err := cmd.Flags().GetString("db")
	if err != nil {
		return "", errors.New("failed to parse db")
	}
	if dbPath != "" {
		return dbPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %s", err)
	}
	return path.Join(home, ".walletsync", "wallet.db"), nil
}

package main

import (
	"time"

	"github.com/spf13/cobra"
)

var cliName = "walletctl"

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "walletctl is a CLI for the wallet sync daemon",
	Long:  `walletctl manages the watched wallets of a walletd daemon and its database backups`,
	Args:  cobra.ExactArgs(0),
}

func main() {
	rootCmd.Execute() //nolint
}

func init() {
	rootCmd.PersistentFlags().String("api", "http://localhost:8080", "walletd HTTP API base URL")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(walletsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(unwatchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(txsCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(backupCmd)

	txsCmd.Flags().Bool("pending", false, "only list pending transactions")
	txsCmd.Flags().String("filter", "all", "only list the transactions the wallet sent or received (all, sent, received)")

	backupCmd.PersistentFlags().String("db", "", "path of the wallet database (defaults to ~/.walletsync/wallet.db)")
	backupCreateCmd.Flags().String("dir", "backups", "directory where the backup is created")
	backupCreateCmd.Flags().Bool("vacuum", true, "vacuum the backup")
	backupCreateCmd.Flags().Bool("compress", true, "compress the backup with zstd")
	backupCreateCmd.Flags().Int("keep", 0, "prune older backups keeping this many files (0 disables pruning)")
	backupCmd.AddCommand(backupCreateCmd)
	backupListCmd.Flags().String("dir", "backups", "directory of the backups")
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
}

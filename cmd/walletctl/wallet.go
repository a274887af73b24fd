package main

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/textileio/go-walletsync/buildinfo"
	"github.com/textileio/go-walletsync/internal/router/controllers"
	"github.com/textileio/go-walletsync/pkg/session"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the version of walletctl and of the daemon",
	Long:  `Prints the version of walletctl and, if reachable, of the walletd daemon`,
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("walletctl %s\n", buildinfo.GetSummary())

		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		var summary buildinfo.Summary
		if _, err := c.do(cmd.Context(), http.MethodGet, "/version", nil, &summary); err != nil {
			fmt.Printf("walletd unreachable: %s\n", err)
			return nil
		}
		fmt.Printf("walletd %s\n", summary)
		return nil
	},
}

var walletsCmd = &cobra.Command{
	Use:   "wallets",
	Short: "Lists the watched wallets",
	Long:  `Lists the watched wallets with their balances and the total balance`,
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		var wallets controllers.Wallets
		if _, err := c.do(cmd.Context(), http.MethodGet, "/api/v1/wallets", nil, &wallets); err != nil {
			return fmt.Errorf("listing wallets: %s", err)
		}

		for _, w := range wallets.Wallets {
			fmt.Printf("%s  %s ETH  %s  block %d\n", w.Address, w.Balance, w.State, w.Cursor)
		}
		fmt.Printf("Total: %s ETH\n", wallets.Total)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <address>",
	Short: "Starts watching an address",
	Long:  `Starts a sync session for the address`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		var w controllers.Wallet
		status, err := c.do(cmd.Context(), http.MethodPut, "/api/v1/wallets/"+address, nil, &w,
			http.StatusOK, http.StatusCreated)
		if err != nil {
			return fmt.Errorf("watching wallet: %s", err)
		}

		if status == http.StatusOK {
			fmt.Printf("Wallet %s was already watched\n", w.Address)
			return nil
		}
		fmt.Printf("Watching wallet %s\n", w.Address)
		return nil
	},
}

var unwatchCmd = &cobra.Command{
	Use:   "unwatch <address>",
	Short: "Stops watching an address",
	Long:  `Ends the sync session of the address. Its synced transactions are kept`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		if _, err := c.do(cmd.Context(), http.MethodDelete, "/api/v1/wallets/"+address, nil, nil,
			http.StatusNoContent); err != nil {
			return fmt.Errorf("unwatching wallet: %s", err)
		}

		fmt.Printf("Stopped watching wallet %s\n", address)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <address>",
	Short: "Shows the sync status of a wallet",
	Long:  `Shows the balance, the sync state, the cursor and the last pass of a wallet`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		var w controllers.Wallet
		if _, err := c.do(cmd.Context(), http.MethodGet, "/api/v1/wallets/"+address, nil, &w); err != nil {
			return fmt.Errorf("getting wallet: %s", err)
		}
		return printJSON(w)
	},
}

var txsCmd = &cobra.Command{
	Use:   "txs <address>",
	Short: "Lists the transactions of a wallet",
	Long:  `Lists the confirmed and pending transactions of a wallet, most recent first`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		onlyPending, err := cmd.Flags().GetBool("pending")
		if err != nil {
			return errors.New("failed to parse pending flag")
		}
		filter, err := cmd.Flags().GetString("filter")
		if err != nil {
			return errors.New("failed to parse filter flag")
		}
		path, err := transactionsPath(address, filter)
		if err != nil {
			return err
		}
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		var txns []controllers.Transaction
		if _, err := c.do(cmd.Context(), http.MethodGet, path, nil, &txns); err != nil {
			return fmt.Errorf("listing transactions: %s", err)
		}

		for _, t := range txns {
			if onlyPending && t.State != "pending" {
				continue
			}
			state := t.State
			if t.Stale {
				state += " (stale)"
			}
			fmt.Printf("%s  %s  %s -> %s  %s ETH  %s\n",
				time.UnixMilli(t.Timestamp).Format(time.RFC3339),
				t.Hash,
				t.From,
				t.To,
				weiToEther(t.Value),
				state,
			)
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <address>",
	Short: "Triggers a sync pass",
	Long:  `Triggers a sync pass of a wallet. Nothing happens if a pass is already running`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		status, err := c.do(cmd.Context(), http.MethodPost, "/api/v1/wallets/"+address+"/sync", nil, nil,
			http.StatusAccepted, http.StatusConflict)
		if err != nil {
			return fmt.Errorf("triggering sync: %s", err)
		}

		if status == http.StatusConflict {
			fmt.Println("A sync pass is already running")
			return nil
		}
		fmt.Println("Sync pass started")
		return nil
	},
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Shows the status of the chain node",
	Long:  `Shows whether the chain node is listening, syncing and ready`,
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		var node controllers.Node
		if _, err := c.do(cmd.Context(), http.MethodGet, "/api/v1/node", nil, &node); err != nil {
			return fmt.Errorf("getting node status: %s", err)
		}
		return printJSON(node)
	},
}

func transactionsPath(address string, filter string) (string, error) {
	path := "/api/v1/wallets/" + address + "/transactions"
	switch filter {
	case "", "all":
		return path, nil
	case controllers.FilterSent, controllers.FilterReceived:
		return path + "?filter=" + filter, nil
	default:
		return "", fmt.Errorf("invalid filter %q, must be all, sent or received", filter)
	}
}

func parseAddress(s string) (string, error) {
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%s is not a valid address", s)
	}
	return common.HexToAddress(s).Hex(), nil
}

func weiToEther(wei string) string {
	v, ok := new(big.Int).SetString(wei, 10)
	if !ok {
		return wei
	}
	return session.FormatEther(v)
}

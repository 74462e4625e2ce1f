package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/mactrace/pkg/cli"
	"github.com/newtron-network/mactrace/pkg/history"
	"github.com/newtron-network/mactrace/pkg/trace"
)

var (
	historyJSON   bool
	historyForget bool
)

var historyCmd = &cobra.Command{
	Use:   "history [mac]",
	Short: "Show last known MAC locations",
	Long: `Show where a MAC was last found, or list every remembered MAC.

Successful traces are stored in Redis (redis.addr in the config file) and
expire after redis.ttl.

Examples:
  mactrace history
  mactrace history 0011.2233.4455
  mactrace history 0011.2233.4455 --forget`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("history store not configured: set redis.addr")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		h := history.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		defer h.Close()
		if err := h.Ping(ctx); err != nil {
			return err
		}

		if len(args) == 0 {
			return listHistory(ctx, h)
		}
		if historyForget {
			if err := h.Forget(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Forgot %s\n", args[0])
			return nil
		}

		e, err := h.Lookup(ctx, args[0])
		if err != nil {
			return err
		}
		if e == nil {
			fmt.Printf("No history for %s\n", args[0])
			return nil
		}
		if historyJSON {
			return writeJSON(os.Stdout, e)
		}
		fmt.Printf("%s %s\n", cli.DotPad("Traced", 12), e.Time.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("%s %s\n", cli.DotPad("From", 12), e.Start)
		cli.PrintPath(os.Stdout, &trace.Result{MAC: e.MAC, Path: e.Path, Outcome: e.Outcome})
		return nil
	},
}

func listHistory(ctx context.Context, h *history.Store) error {
	entries, err := h.List(ctx)
	if err != nil {
		return err
	}
	if historyJSON {
		return writeJSON(os.Stdout, entries)
	}
	if len(entries) == 0 {
		fmt.Println("No history")
		return nil
	}

	t := cli.NewTable("MAC", "DEVICE", "PORT", "VLAN", "OUTCOME", "TRACED")
	for _, e := range entries {
		t.Row(e.MAC, e.Device, e.Port, e.VLAN, cli.OutcomeColor(e.Outcome), e.Time.Local().Format("2006-01-02 15:04"))
	}
	t.Flush()
	return nil
}

func init() {
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")
	historyCmd.Flags().BoolVar(&historyForget, "forget", false, "Delete the stored location")
}

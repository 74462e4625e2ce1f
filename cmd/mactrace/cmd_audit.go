package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/mactrace/pkg/audit"
	"github.com/newtron-network/mactrace/pkg/cli"
	"github.com/newtron-network/mactrace/pkg/parse"
	"github.com/newtron-network/mactrace/pkg/trace"
)

var (
	auditMAC      string
	auditUser     string
	auditFrom     string
	auditOutcome  string
	auditLast     string
	auditLimit    int
	auditFailures bool
	auditJSON     bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the trace audit log",
	Long: `View the audit log of traces, newest first.

Every trace is logged with:
  - Timestamp and user
  - MAC and starting device
  - Outcome, hop count and final port

Examples:
  mactrace audit --mac 0011.2233.4455
  mactrace audit --last 24h --failures
  mactrace audit --user alice --limit 10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := audit.Filter{
			User:        auditUser,
			Start:       auditFrom,
			Outcome:     trace.Outcome(auditOutcome),
			FailureOnly: auditFailures,
			Newest:      true,
			Limit:       auditLimit,
		}
		if auditMAC != "" {
			mac, err := parse.NormalizeMAC(auditMAC)
			if err != nil {
				return err
			}
			filter.MAC = mac
		}
		if auditLast != "" {
			duration, err := time.ParseDuration(auditLast)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", auditLast)
			}
			filter.StartTime = time.Now().Add(-duration)
		}

		events, err := audit.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		if auditJSON {
			return writeJSON(os.Stdout, events)
		}
		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}

		t := cli.NewTable("TIMESTAMP", "USER", "MAC", "FROM", "HOPS", "LOCATION", "OUTCOME")
		for _, event := range events {
			outcome := cli.OutcomeColor(event.Outcome)
			if event.DryRun {
				outcome += cli.Dim(" (lab)")
			}
			location := ""
			if event.Device != "" {
				location = event.Device + " " + event.Port
			}
			t.Row(
				event.Timestamp.Format("2006-01-02 15:04:05"),
				event.User,
				event.MAC,
				event.Start,
				strconv.Itoa(event.Hops),
				location,
				outcome,
			)
		}
		t.Flush()
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditMAC, "mac", "", "Filter by MAC")
	auditCmd.Flags().StringVar(&auditUser, "user", "", "Filter by user")
	auditCmd.Flags().StringVar(&auditFrom, "from", "", "Filter by starting device")
	auditCmd.Flags().StringVar(&auditOutcome, "outcome", "", "Filter by outcome (e.g. access-port, not-found)")
	auditCmd.Flags().StringVar(&auditLast, "last", "", "Show events from last duration (e.g., 24h)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum events to show")
	auditCmd.Flags().BoolVar(&auditFailures, "failures", false, "Show only failed traces")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "Output as JSON")
}

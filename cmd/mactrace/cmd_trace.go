package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/mactrace/pkg/audit"
	"github.com/newtron-network/mactrace/pkg/cli"
	"github.com/newtron-network/mactrace/pkg/config"
	"github.com/newtron-network/mactrace/pkg/credential"
	"github.com/newtron-network/mactrace/pkg/history"
	"github.com/newtron-network/mactrace/pkg/lab"
	"github.com/newtron-network/mactrace/pkg/trace"
	"github.com/newtron-network/mactrace/pkg/util"
)

var (
	traceFrom        string
	traceCore        bool
	traceCoreAddress string
	traceProfile     string
	traceTransport   string
	traceLab         string
	traceJSON        bool
)

var traceCmd = &cobra.Command{
	Use:   "trace <mac>",
	Short: "Trace a MAC address to its switch port",
	Long: `Trace a MAC address from a starting device to the edge port it is
learned on.

The MAC may be written as 0011.2233.4455, 00:11:22:33:44:55 or
00-11-22-33-44-55. The starting device must be reachable directly; with
--transport jump every further hop is opened from the previous device's
CLI.

Examples:
  mactrace trace 0011.2233.4455 --from 10.0.0.1 --core
  mactrace trace 0011.2233.4455 --from acc-7 --core-address 10.0.0.1
  mactrace trace 0011.2233.4455 --from 10.0.0.1 --lab testdata/chain.yaml --profile lab`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := traceRequest{
			MAC:         args[0],
			From:        firstOf(traceFrom, userSettings.LastStart),
			Core:        traceCore,
			CoreAddress: firstOf(traceCoreAddress, userSettings.DefaultCoreAddress),
			Profile:     firstOf(traceProfile, userSettings.DefaultProfile),
			Transport:   firstOf(traceTransport, userSettings.DefaultTransport),
			Lab:         traceLab,
		}
		if req.From == "" {
			return fmt.Errorf("starting device required: use --from <address>")
		}

		store, err := loadCredentials()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		began := time.Now()
		res, err := runTrace(ctx, cfg, req, store, newTerminal(store, req.CoreAddress))
		event := audit.NewEvent(currentUser(), req.MAC, req.From).
			WithTransport(firstOf(req.Transport, cfg.Transport)).
			WithProfile(req.Profile).
			WithDryRun(req.Lab != "").
			WithResult(res).
			WithDuration(time.Since(began))
		if res == nil {
			event.WithError(err)
		}
		if aerr := audit.Log(event); aerr != nil {
			util.Warnf("audit: %v", aerr)
		}
		if res == nil {
			return err
		}

		recordHistory(ctx, res, req)
		userSettings.LastStart = req.From
		if serr := userSettings.Save(); serr != nil {
			util.Debugf("saving settings: %v", serr)
		}

		if traceJSON {
			if err := writeJSON(os.Stdout, res); err != nil {
				return err
			}
		} else {
			cli.PrintPath(os.Stdout, res)
		}
		if !res.Outcome.Success() {
			return &exitError{code: exitCode(res.Outcome)}
		}
		return nil
	},
}

func init() {
	traceCmd.Flags().StringVarP(&traceFrom, "from", "f", "", "Starting device address (default: last start)")
	traceCmd.Flags().BoolVar(&traceCore, "core", false, "Starting device is a core device (ARP fallback allowed)")
	traceCmd.Flags().StringVar(&traceCoreAddress, "core-address", "", "Core device to retry on when a switch has no entry")
	traceCmd.Flags().StringVarP(&traceProfile, "profile", "p", "", "Credential profile")
	traceCmd.Flags().StringVarP(&traceTransport, "transport", "t", "", "ssh, telnet or jump")
	traceCmd.Flags().StringVar(&traceLab, "lab", "", "Trace against simulated devices from a lab file")
	traceCmd.Flags().BoolVar(&traceJSON, "json", false, "Output as JSON")
	traceCmd.Flags().Int("max-hops", 0, "Hop ceiling")
	mustBind("max_hops", traceCmd.Flags().Lookup("max-hops"))
}

// traceRequest is one trace as asked for on the command line, after
// settings defaults are applied.
type traceRequest struct {
	MAC         string
	From        string
	Core        bool
	CoreAddress string
	Profile     string
	Transport   string
	Lab         string
}

// runTrace opens the starting session and traces req.MAC. The result is
// nil only when the request could not be set up.
func runTrace(ctx context.Context, cfg *config.Config, req traceRequest, store *credential.Store, collab trace.Collaborator) (*trace.Result, error) {
	var cred credential.Credential
	if req.Profile != "" {
		c, err := store.Get(req.Profile)
		if err != nil {
			return nil, err
		}
		cred = c
	}

	conn, startConn, err := connectors(cfg, req)
	if err != nil {
		return nil, err
	}
	tr, err := trace.New(conn, collab, cfg.TraceOptions())
	if err != nil {
		return nil, err
	}

	start, cred, err := tr.Start(ctx, startConn, req.From, req.Core, cred)
	if err != nil {
		res := &trace.Result{MAC: req.MAC, Outcome: trace.OutcomeOf(err), Err: err, Error: err.Error()}
		return res, err
	}
	defer start.Close()

	return tr.Trace(ctx, req.MAC, start, cred)
}

// connectors returns the connector for hops and the one for the starting
// device. They differ for jump, where the first device is reached over SSH.
func connectors(cfg *config.Config, req traceRequest) (conn, start trace.Connector, err error) {
	transport := firstOf(req.Transport, cfg.Transport)
	if req.Lab != "" {
		l, err := lab.Load(req.Lab)
		if err != nil {
			return nil, nil, err
		}
		start = lab.Connector{Lab: l}
		if transport != config.TransportJump {
			return start, start, nil
		}
	}

	conn, err = cfg.Connector(transport)
	if err != nil {
		return nil, nil, err
	}
	if start != nil {
		return conn, start, nil
	}
	if transport == config.TransportJump {
		start, err = cfg.Connector(config.TransportSSH)
		return conn, start, err
	}
	return conn, conn, nil
}

// recordHistory stores successful traces when a history store is
// configured. Failures only log.
func recordHistory(ctx context.Context, res *trace.Result, req traceRequest) {
	if cfg.Redis.Addr == "" || req.Lab != "" || !res.Outcome.Success() {
		return
	}
	h := history.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
	defer h.Close()
	if err := h.Record(ctx, history.NewEntry(res, req.From, time.Now())); err != nil {
		util.Warnf("history: %v", err)
	}
}

// loadCredentials reads the credential file named by config or settings.
// A missing default file yields an empty store.
func loadCredentials() (*credential.Store, error) {
	path := firstOf(cfg.Credentials, userSettings.CredentialFile)
	if path == "" {
		path = filepath.Join(config.Dir(), "credentials.yaml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return credential.NewStore(), nil
		}
	}
	return credential.Load(path)
}

// exitCode maps a failed outcome to the process exit status: 2 when the
// MAC could not be placed, 3 when a device could not be reached or read.
func exitCode(o trace.Outcome) int {
	switch o {
	case trace.OutcomeAmbiguous, trace.OutcomeNotFound, trace.OutcomeCoreRequired:
		return 2
	case trace.OutcomeCanceled:
		return 130
	default:
		return 3
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

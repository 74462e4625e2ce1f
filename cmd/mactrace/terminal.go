package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/newtron-network/mactrace/pkg/cli"
	"github.com/newtron-network/mactrace/pkg/credential"
)

// terminal answers the tracer's questions on the operator's terminal: a
// logon menu of stored profiles with manual entry, and the core device to
// fall back to.
type terminal struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	store       *credential.Store

	// coreAddress is offered without asking when set.
	coreAddress string

	// password reads a secret without echo.
	password func() (string, error)
}

func newTerminal(store *credential.Store, coreAddress string) *terminal {
	fd := int(os.Stdin.Fd())
	t := &terminal{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stderr,
		interactive: term.IsTerminal(fd),
		store:       store,
		coreAddress: coreAddress,
	}
	t.password = func() (string, error) {
		if !t.interactive {
			return t.readLine()
		}
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(t.out)
		return string(b), err
	}
	return t
}

var errNoTerminal = errors.New("no terminal to ask on: use --profile")

// SelectCredential implements trace.Collaborator.
func (t *terminal) SelectCredential(ctx context.Context, address string, failed error) (credential.Credential, error) {
	if failed != nil {
		fmt.Fprintf(t.out, "%s %v\n", cli.Red("Login to "+address+" rejected:"), failed)
	}
	if !t.interactive {
		return credential.Credential{}, errNoTerminal
	}

	labels := t.store.Labels()
	fmt.Fprintf(t.out, "\n%s for %s\n", cli.Bold("LOGON MENU"), address)
	for i, label := range labels {
		c, _ := t.store.Get(label)
		fmt.Fprintf(t.out, "  %d) %s\n", i+1, c)
	}
	fmt.Fprintln(t.out, "  m) enter credentials manually")
	fmt.Fprintln(t.out, "  q) quit")

	for {
		if err := ctx.Err(); err != nil {
			return credential.Credential{}, err
		}
		fmt.Fprint(t.out, "Choice: ")
		choice, err := t.readLine()
		if err != nil {
			return credential.Credential{}, err
		}
		switch choice = strings.ToLower(choice); choice {
		case "m":
			return t.manual()
		case "q":
			return credential.Credential{}, context.Canceled
		}
		n, err := strconv.Atoi(choice)
		if err != nil || n < 1 || n > len(labels) {
			fmt.Fprintln(t.out, cli.Yellow("Invalid choice"))
			continue
		}
		return t.store.Get(labels[n-1])
	}
}

func (t *terminal) manual() (credential.Credential, error) {
	c := credential.Credential{Label: "manual"}
	var err error
	fmt.Fprint(t.out, "Username: ")
	if c.Username, err = t.readLine(); err != nil {
		return c, err
	}
	fmt.Fprint(t.out, "Password: ")
	if c.Password, err = t.password(); err != nil {
		return c, err
	}
	fmt.Fprint(t.out, "Enable password (blank to reuse): ")
	if c.EnablePassword, err = t.password(); err != nil {
		return c, err
	}
	return c, nil
}

// CoreAddress implements trace.Collaborator.
func (t *terminal) CoreAddress(ctx context.Context, device string) (string, error) {
	if t.coreAddress != "" {
		fmt.Fprintf(t.out, "MAC not on %s, retrying on core %s\n", device, t.coreAddress)
		return t.coreAddress, nil
	}
	if !t.interactive {
		return "", nil
	}
	fmt.Fprintf(t.out, "MAC not on %s. Core device address (blank to stop): ", device)
	return t.readLine()
}

func (t *terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("reading answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

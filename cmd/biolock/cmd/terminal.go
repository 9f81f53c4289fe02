package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pilab-dev/biolock/capability"
	"golang.org/x/term"
)

// terminal reads user input. Secrets are read without echo when in is a terminal.
type terminal struct {
	in    *bufio.Reader
	out   io.Writer
	fd    int
	isTTY bool
}

func newTerminal(in io.Reader, out io.Writer) *terminal {
	t := &terminal{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		t.fd = int(f.Fd())
		t.isTTY = true
	}
	return t
}

// readLine prints prompt and returns the trimmed line. io.EOF is returned once
// input is exhausted.
func (t *terminal) readLine(prompt string) (string, error) {
	printf(t.out, "%s", prompt)

	line, err := t.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}

	return strings.TrimSpace(line), nil
}

func (t *terminal) readSecret(prompt string) (string, error) {
	if !t.isTTY {
		return t.readLine(prompt)
	}

	printf(t.out, "%s", prompt)
	secret, err := term.ReadPassword(t.fd)
	printf(t.out, "\n")
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}

	return string(secret), nil
}

// terminalPrompter simulates the biometric sheet on the terminal. The user can
// match, fail or cancel the scan, or fall back to the device PIN.
type terminalPrompter struct {
	term   *terminal
	device *capability.DeviceCredentialPrompter
}

func newTerminalPrompter(t *terminal, devicePIN string) (*terminalPrompter, error) {
	p := &terminalPrompter{term: t}

	device, err := capability.NewDeviceCredentialPrompter(capability.NewBcryptHasher(0), devicePIN,
		func(ctx context.Context, info capability.PromptInfo) (string, bool, error) {
			pin, err := t.readSecret("Device PIN: ")
			if err != nil {
				return "", false, err
			}
			return pin, pin != "", nil
		})
	if err != nil {
		return nil, err
	}
	p.device = device

	return p, nil
}

func (p *terminalPrompter) Prompt(ctx context.Context, info capability.PromptInfo) (capability.Outcome, error) {
	printf(p.term.out, "\n== %s ==\n%s\n%s\n", info.Title, info.Subtitle, info.Description)

	answer, err := p.term.readLine("Scan finger? [y]es match / [n]o match / [p]in / [c]ancel: ")
	if err != nil {
		return capability.OutcomeFailed, err
	}
	if ctx.Err() != nil {
		return capability.OutcomeCancelled, nil
	}

	switch strings.ToLower(answer) {
	case "y", "yes":
		return capability.OutcomeOK, nil
	case "n", "no":
		return capability.OutcomeFailed, nil
	case "p", "pin":
		return p.device.Prompt(ctx, info)
	default:
		printf(p.term.out, "%s\n", info.NegativeButton)
		return capability.OutcomeCancelled, nil
	}
}

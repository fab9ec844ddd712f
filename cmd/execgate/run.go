package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/odvcencio/execgate/pkg/approval"
	"github.com/odvcencio/execgate/pkg/config"
	"github.com/odvcencio/execgate/pkg/gateway"
	"github.com/odvcencio/execgate/pkg/logging"
	"github.com/odvcencio/execgate/pkg/sandbox"
	"github.com/odvcencio/execgate/pkg/telemetry"
)

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// stdinIsTerminalFn allows tests to stub terminal detection.
var stdinIsTerminalFn = stdinIsTerminal

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "configuration file")
	cwd := fs.String("cwd", "", "logical working directory")
	pty := fs.Bool("pty", false, "allocate a pseudo-terminal")
	timeout := fs.Duration("timeout", 0, "kill the command after this duration")
	background := fs.Bool("background", false, "start the command and print its session id")
	approvalID := fs.String("approval-id", "", "present a previously issued approval id")
	yes := fs.Bool("yes", false, "approve pending commands without prompting")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}

	command := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(command) == "" {
		return withExitCode(errors.New("usage: execgate run [flags] -- <command>"), 2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	g, err := buildGateway(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := gateway.Request{
		Command:    command,
		ApprovalID: *approvalID,
		PTY:        *pty,
		Timeout:    *timeout,
		Background: *background,
		Cwd:        *cwd,
	}

	result, err := g.Exec(ctx, req)
	if result != nil && result.Status == gateway.StatusApprovalPending {
		approved, confirmErr := confirmPending(result.Approval, *yes)
		if confirmErr != nil {
			return confirmErr
		}
		if !approved {
			g.DenyApproval(result.Approval.ID)
			return withExitCode(errors.New("command not approved"), 1)
		}
		req.ApprovalID = result.Approval.ID
		result, err = g.Exec(ctx, req)
	}

	return reportResult(result, err, *background)
}

// confirmPending asks the human at the terminal to sign off on a
// pending command. Without a terminal the prompt cannot happen and the
// command stays unapproved.
func confirmPending(record *approval.Record, preApproved bool) (bool, error) {
	if preApproved {
		return true, nil
	}
	if !stdinIsTerminalFn() {
		return false, withExitCode(
			fmt.Errorf("approval %s required; re-run with -approval-id or -yes", record.Slug), 1)
	}

	fmt.Fprintf(os.Stderr, "Command requires approval [%s]:\n  %s\nApprove? [y/N] ", record.Slug, record.Command)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func reportResult(result *gateway.Result, err error, background bool) error {
	if result == nil {
		return err
	}

	switch result.Status {
	case gateway.StatusDenied:
		return withExitCode(fmt.Errorf("denied: %s", result.Reason), 1)
	case gateway.StatusRunning:
		fmt.Println(result.SessionID)
		if background {
			return nil
		}
	}

	if result.Output != "" {
		fmt.Print(result.Output)
	}
	if err != nil {
		return withExitCode(err, 1)
	}
	if result.Status == gateway.StatusFailed {
		// Propagate the child's exit code without extra noise.
		return withExitCode(errors.New(""), result.ExitCode)
	}
	return nil
}

func buildGateway(cfg *config.Config) (*gateway.Gateway, error) {
	logger := logging.New(os.Stderr)
	metrics := telemetry.New(nil)

	host := cfg.Approval.Host
	if host == "" {
		if h, err := os.Hostname(); err == nil {
			host = h
		}
	}
	pol := cfg.Approval
	pol.Host = host

	var sb *sandbox.Sandbox
	if cfg.Sandbox.Root != "" {
		sb = &sandbox.Sandbox{
			Root:          cfg.Sandbox.Root,
			WorkspaceOnly: cfg.Sandbox.WorkspaceOnly,
			Bridge: &sandbox.HostBridge{
				HostRoot:      cfg.Sandbox.Root,
				ContainerRoot: cfg.Sandbox.ContainerRoot,
			},
			Logger: logger,
		}
	}

	g := gateway.New(pol, sb, logger, metrics)
	g.WrapperDepth = cfg.Wrapper.MaxDepth
	g.ApprovalTTL = cfg.Runner.ApprovalTTL()
	g.InboundDir = cfg.Sandbox.InboundDir
	g.Runner.KillGrace = cfg.Runner.KillGrace()
	g.Runner.Retention = cfg.Runner.Retention()
	g.Runner.MaxOutputBytes = cfg.Runner.MaxOutputBytes
	g.Runner.AllowBackground = cfg.Runner.AllowBackground
	return g, nil
}

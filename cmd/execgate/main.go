package main

import (
	"fmt"
	"io"
	"os"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "run":
		err = runCommand(args[1:])
	case "analyze":
		err = analyzeCommand(args[1:])
	case "resolve":
		err = resolveCommand(args[1:])
	case "version":
		fmt.Printf("execgate %s (%s, built %s)\n", version, commit, buildDate)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", args[0])
		printUsage(os.Stderr)
		os.Exit(2)
	}

	if err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		}
		os.Exit(exitCodeForError(err))
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `execgate - sandboxed command execution gateway

Usage:
  execgate run [flags] -- <command>   analyze, approve and execute a command
  execgate analyze <command>          show how a command splits into segments
  execgate resolve <argv...>          show wrapper resolution for an argv
  execgate version                    print version information

Run flags:
  -config path      configuration file (YAML)
  -cwd dir          logical working directory, resolved through the sandbox
  -pty              allocate a pseudo-terminal
  -timeout d        kill the command after this duration (e.g. 30s)
  -background       start the command and print its session id
  -approval-id id   present a previously issued approval id
  -yes              approve pending commands without prompting
`)
}

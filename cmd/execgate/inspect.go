package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/execgate/pkg/launcher"
	"github.com/odvcencio/execgate/pkg/shellparse"
)

// analyzeCommand prints how a raw command line splits into pipeline
// segments, or reports that the analyzer refused it.
func analyzeCommand(args []string) error {
	command := strings.Join(args, " ")
	if strings.TrimSpace(command) == "" {
		return withExitCode(errors.New("usage: execgate analyze <command>"), 2)
	}

	analysis := shellparse.Analyze(command)
	if !analysis.OK {
		return withExitCode(errors.New("analysis failed: command uses constructs that cannot be statically resolved"), 1)
	}

	for i, segment := range analysis.Segments {
		fmt.Printf("segment %d: %q\n", i, segment.Argv)
	}
	return nil
}

// resolveCommand prints the wrapper resolution for an argv.
func resolveCommand(args []string) error {
	if len(args) == 0 {
		return withExitCode(errors.New("usage: execgate resolve <argv...>"), 2)
	}

	res := launcher.Resolve(args)
	fmt.Printf("executable: %s\n", res.ResolvedExecutable)
	if len(res.WrapperChain) > 0 {
		fmt.Printf("wrappers:   %s\n", strings.Join(res.WrapperChain, " -> "))
	}
	fmt.Printf("elevated:   %v\n", res.Elevated)
	return nil
}

// Package launcher unwraps transparent launcher commands (sudo, env,
// nohup, ...) to find the executable that will actually run. Only the
// resolved executable feeds policy decisions; the traversed chain is
// kept for audit.
package launcher

import (
	"strings"

	"github.com/odvcencio/execgate/pkg/shellparse"
)

// Kind identifies a known transparent launcher. The set is closed:
// adding a wrapper means adding a constant and a case to the two
// switches below, which the compiler checks exhaustively via the
// default panic in properties().
type Kind int

const (
	// KindNone marks a non-wrapper executable.
	KindNone Kind = iota
	// KindSudo is the sudo elevation wrapper.
	KindSudo
	// KindDoas is the doas elevation wrapper.
	KindDoas
	// KindEnv is env, which sets variables then runs its operand.
	KindEnv
	// KindNice adjusts scheduling priority.
	KindNice
	// KindIonice adjusts IO scheduling priority.
	KindIonice
	// KindNohup detaches from the controlling terminal.
	KindNohup
	// KindSetsid starts the operand in a new session.
	KindSetsid
	// KindStdbuf adjusts stdio buffering.
	KindStdbuf
	// KindTimeout runs the operand with a duration limit.
	KindTimeout
	// KindTime measures the operand's run time.
	KindTime
	// KindCommand is the shell builtin spelled as an executable.
	KindCommand
	// KindExec replaces the shell with the operand.
	KindExec
)

// String returns the wrapper's command name, or "" for KindNone.
func (k Kind) String() string {
	return k.properties().name
}

// Elevated reports whether the wrapper grants elevated privileges.
func (k Kind) Elevated() bool {
	return k.properties().elevated
}

// kindProperties describes how a wrapper consumes its own arguments
// before the wrapped command begins.
type kindProperties struct {
	name     string
	elevated bool
	// flagsWithValue lists flags that consume the following argument.
	flagsWithValue map[string]bool
	// skipAssigns skips leading VAR=value operands (env).
	skipAssigns bool
	// leadingOperands is the count of non-flag operands that belong to
	// the wrapper itself (timeout's DURATION).
	leadingOperands int
}

func (k Kind) properties() kindProperties {
	switch k {
	case KindNone:
		return kindProperties{}
	case KindSudo:
		return kindProperties{
			name:     "sudo",
			elevated: true,
			flagsWithValue: map[string]bool{
				"-u": true, "-g": true, "-p": true, "-h": true,
				"-C": true, "-D": true, "-r": true, "-t": true, "-T": true,
			},
		}
	case KindDoas:
		return kindProperties{
			name:           "doas",
			elevated:       true,
			flagsWithValue: map[string]bool{"-u": true, "-C": true},
		}
	case KindEnv:
		return kindProperties{
			name:           "env",
			skipAssigns:    true,
			flagsWithValue: map[string]bool{"-u": true, "-C": true, "-S": true},
		}
	case KindNice:
		return kindProperties{
			name:           "nice",
			flagsWithValue: map[string]bool{"-n": true},
		}
	case KindIonice:
		return kindProperties{
			name:           "ionice",
			flagsWithValue: map[string]bool{"-c": true, "-n": true, "-p": true, "-P": true},
		}
	case KindNohup:
		return kindProperties{name: "nohup"}
	case KindSetsid:
		return kindProperties{name: "setsid"}
	case KindStdbuf:
		return kindProperties{
			name:           "stdbuf",
			flagsWithValue: map[string]bool{"-i": true, "-o": true, "-e": true},
		}
	case KindTimeout:
		return kindProperties{
			name:            "timeout",
			flagsWithValue:  map[string]bool{"-k": true, "-s": true},
			leadingOperands: 1,
		}
	case KindTime:
		return kindProperties{
			name:           "time",
			flagsWithValue: map[string]bool{"-f": true, "-o": true},
		}
	case KindCommand:
		return kindProperties{name: "command"}
	case KindExec:
		return kindProperties{name: "exec"}
	default:
		panic("launcher: unhandled wrapper kind")
	}
}

// allKinds enumerates every wrapper kind except KindNone.
var allKinds = []Kind{
	KindSudo, KindDoas, KindEnv, KindNice, KindIonice, KindNohup,
	KindSetsid, KindStdbuf, KindTimeout, KindTime, KindCommand, KindExec,
}

// classify maps an executable identity to its wrapper kind.
func classify(argv0 string) Kind {
	name := shellparse.ExecutableName(argv0)
	for _, kind := range allKinds {
		if kind.properties().name == name {
			return kind
		}
	}
	return KindNone
}

// DefaultMaxDepth bounds wrapper recursion. Deep enough for any chain
// a human would write; finite so self-referential chains terminate.
const DefaultMaxDepth = 8

// Resolution is the result of unwrapping one argument vector.
type Resolution struct {
	// RawExecutable is the basename identity of argv[0] as written.
	RawExecutable string

	// ResolvedExecutable is the basename identity after unwrapping.
	ResolvedExecutable string

	// ResolvedArgv0 is the unwrapped command's argv[0] exactly as
	// written, path intact. Policy uses it to locate the binary on
	// disk; a wrapper's own path never stands in for it.
	ResolvedArgv0 string

	// WrapperChain lists the wrapper names traversed, outermost first.
	// Its length equalling the resolution depth bound signals
	// exhaustion rather than a terminal executable.
	WrapperChain []string

	// Elevated is true when the chain contains an elevation wrapper.
	Elevated bool
}

// Resolve unwraps argv with the default recursion bound.
func Resolve(argv []string) Resolution {
	return ResolveDepth(argv, DefaultMaxDepth)
}

// ResolveDepth unwraps argv through at most maxDepth wrapper layers.
// When the bound is exhausted the last-seen executable is the
// resolution; this is a soft condition, distinguishable by the chain
// length, not an error.
func ResolveDepth(argv []string, maxDepth int) Resolution {
	res := Resolution{}
	if len(argv) == 0 {
		return res
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	res.RawExecutable = shellparse.ExecutableName(argv[0])
	res.ResolvedExecutable = res.RawExecutable
	res.ResolvedArgv0 = argv[0]

	current := argv
	for depth := 0; depth < maxDepth; depth++ {
		kind := classify(current[0])
		if kind == KindNone {
			return res
		}
		res.WrapperChain = append(res.WrapperChain, kind.String())
		if kind.Elevated() {
			res.Elevated = true
		}
		inner := wrappedCommand(kind, current[1:])
		if len(inner) == 0 {
			// A wrapper with no operand runs nothing further (sudo -i
			// drops into a shell); the wrapper itself is the
			// resolution, but its elevation still counts.
			return res
		}
		res.ResolvedExecutable = shellparse.ExecutableName(inner[0])
		res.ResolvedArgv0 = inner[0]
		current = inner
	}
	return res
}

// wrappedCommand returns the argument vector the wrapper will execute,
// skipping the wrapper's own flags, flag values, assignments and
// leading operands.
func wrappedCommand(kind Kind, args []string) []string {
	props := kind.properties()
	operandsToSkip := props.leadingOperands

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return args[i+1:]
		}
		if strings.HasPrefix(arg, "-") && arg != "-" {
			if props.flagsWithValue[arg] {
				i++ // the next argument is this flag's value
			}
			continue
		}
		if props.skipAssigns && strings.Contains(arg, "=") {
			continue
		}
		if operandsToSkip > 0 {
			operandsToSkip--
			continue
		}
		return args[i:]
	}
	return nil
}

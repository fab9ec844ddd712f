// Package shellparse turns a raw shell command string into pipeline
// segments with fully resolved argument vectors.
//
// The analyzer is the parsing foundation for approval decisions, so it
// fails closed: any construct whose runtime value cannot be determined
// statically (substitutions, parameter expansion, control flow) fails
// the whole analysis rather than producing a partial parse that a
// policy check could be fooled by.
package shellparse

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Segment is one pipeline stage reduced to an argument vector.
type Segment struct {
	// Argv is the word-split argument vector. Never empty for a
	// well-formed segment.
	Argv []string

	// Raw is the original text span of this stage.
	Raw string
}

// Analysis is the result of parsing a command string. Failure is
// total: OK false means Segments is empty, never a partial list.
type Analysis struct {
	OK       bool
	Segments []Segment
}

// Analyze splits command on pipeline and sequencing operators and
// tokenizes each clause into an argument vector, honoring quoting and
// backslash escapes. Returns OK false if any part of the command could
// not be unambiguously resolved.
func Analyze(command string) Analysis {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return Analysis{}
	}

	var segments []Segment
	for _, stmt := range file.Stmts {
		if !collectSegments(stmt, command, &segments) {
			return Analysis{}
		}
	}
	if len(segments) == 0 {
		return Analysis{}
	}
	return Analysis{OK: true, Segments: segments}
}

// collectSegments walks one statement, appending a segment per
// pipeline stage. Returns false on any construct the analyzer cannot
// resolve statically.
func collectSegments(stmt *syntax.Stmt, src string, segments *[]Segment) bool {
	for _, redir := range stmt.Redirs {
		if !redirectIsStatic(redir) {
			return false
		}
	}

	switch cmd := stmt.Cmd.(type) {
	case *syntax.CallExpr:
		// Leading VAR=value assignments do not change the executable
		// and are skipped, but their values must still be static: an
		// expansion hiding in an assignment is an expansion all the
		// same.
		for _, assign := range cmd.Assigns {
			if assign.Array != nil || assign.Index != nil {
				return false
			}
			if assign.Value != nil {
				if _, ok := literalValue(assign.Value); !ok {
					return false
				}
			}
		}
		if len(cmd.Args) == 0 {
			return false
		}
		argv := make([]string, 0, len(cmd.Args))
		for _, word := range cmd.Args {
			value, ok := literalValue(word)
			if !ok {
				return false
			}
			argv = append(argv, value)
		}
		if argv[0] == "" {
			return false
		}
		*segments = append(*segments, Segment{
			Argv: argv,
			Raw:  rawSpan(stmt, src),
		})
		return true

	case *syntax.BinaryCmd:
		switch cmd.Op {
		case syntax.AndStmt, syntax.OrStmt, syntax.Pipe, syntax.PipeAll:
			return collectSegments(cmd.X, src, segments) &&
				collectSegments(cmd.Y, src, segments)
		default:
			return false
		}

	default:
		// Subshells, functions, loops, conditionals, case statements:
		// all change what actually runs in ways a static gate cannot
		// track, so the analysis refuses them wholesale.
		return false
	}
}

// redirectIsStatic reports whether a redirection has a plain literal
// target. Here-docs and dynamic targets are rejected.
func redirectIsStatic(redir *syntax.Redirect) bool {
	switch redir.Op {
	case syntax.RdrOut, syntax.AppOut, syntax.RdrIn, syntax.RdrAll, syntax.AppAll, syntax.DplOut, syntax.DplIn:
	default:
		return false
	}
	if redir.Hdoc != nil {
		return false
	}
	if redir.Word == nil {
		return false
	}
	_, ok := literalValue(redir.Word)
	return ok
}

// literalValue resolves a word to its literal string value, applying
// quote removal and escape resolution. Returns ok false if the word
// contains any expansion whose value is not known statically.
func literalValue(word *syntax.Word) (string, bool) {
	var sb strings.Builder
	for _, part := range word.Parts {
		value, ok := literalPart(part, false)
		if !ok {
			return "", false
		}
		sb.WriteString(value)
	}
	return sb.String(), true
}

func literalPart(part syntax.WordPart, quoted bool) (string, bool) {
	switch p := part.(type) {
	case *syntax.Lit:
		return unescapeLit(p.Value, quoted), true
	case *syntax.SglQuoted:
		if p.Dollar {
			// $'...' ANSI-C quoting; not worth interpreting for a gate.
			return "", false
		}
		return p.Value, true
	case *syntax.DblQuoted:
		var sb strings.Builder
		for _, inner := range p.Parts {
			value, ok := literalPart(inner, true)
			if !ok {
				return "", false
			}
			sb.WriteString(value)
		}
		return sb.String(), true
	default:
		// ParamExp, CmdSubst, ProcSubst, ArithmExp, ExtGlob, brace
		// expansion: the runtime value is unknowable here.
		return "", false
	}
}

// unescapeLit resolves backslash escapes in a literal. Outside double
// quotes a backslash escapes any character; inside double quotes it is
// only special before $, `, ", \ and newline.
func unescapeLit(value string, quoted bool) string {
	if !strings.ContainsRune(value, '\\') {
		return value
	}
	var sb strings.Builder
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c != '\\' || i == len(value)-1 {
			sb.WriteByte(c)
			continue
		}
		next := value[i+1]
		if quoted {
			switch next {
			case '$', '`', '"', '\\', '\n':
				sb.WriteByte(next)
				i++
			default:
				sb.WriteByte(c)
			}
			continue
		}
		if next == '\n' {
			// Line continuation: contributes nothing.
			i++
			continue
		}
		sb.WriteByte(next)
		i++
	}
	return sb.String()
}

func rawSpan(stmt *syntax.Stmt, src string) string {
	start := stmt.Pos().Offset()
	end := stmt.End().Offset()
	if start >= uint(len(src)) || end > uint(len(src)) || start >= end {
		return ""
	}
	return strings.TrimSpace(src[start:end])
}

// ExecutableName reduces an argv[0] value to its policy identity: the
// path basename, lower-cased, with a trailing ".exe" stripped. Both
// separator styles are handled so /usr/bin/rm, rm and C:\tools\RM.EXE
// share one identity.
func ExecutableName(argv0 string) string {
	name := argv0
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.ToLower(name)
	name = strings.TrimSuffix(name, ".exe")
	return name
}

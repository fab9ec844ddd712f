package shellparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeSingleCommand(t *testing.T) {
	tests := []struct {
		command string
		argv    []string
	}{
		{"ls", []string{"ls"}},
		{"ls -la /tmp", []string{"ls", "-la", "/tmp"}},
		{"git log --oneline -n 5", []string{"git", "log", "--oneline", "-n", "5"}},
		{`echo 'single quoted arg'`, []string{"echo", "single quoted arg"}},
		{`echo "double quoted arg"`, []string{"echo", "double quoted arg"}},
		{`echo a\ b`, []string{"echo", "a b"}},
		{`grep -e "foo bar" file.txt`, []string{"grep", "-e", "foo bar", "file.txt"}},
		{`/usr/bin/rm -f x`, []string{"/usr/bin/rm", "-f", "x"}},
		{`FOO=bar make test`, []string{"make", "test"}},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			analysis := Analyze(tt.command)
			require.True(t, analysis.OK, "expected parse to succeed")
			require.Len(t, analysis.Segments, 1)
			assert.Equal(t, tt.argv, analysis.Segments[0].Argv)
		})
	}
}

func TestAnalyzePipeline(t *testing.T) {
	analysis := Analyze("echo hi | grep h")
	require.True(t, analysis.OK)
	require.Len(t, analysis.Segments, 2)
	assert.Equal(t, "echo", ExecutableName(analysis.Segments[0].Argv[0]))
	assert.Equal(t, "grep", ExecutableName(analysis.Segments[1].Argv[0]))
	assert.Equal(t, []string{"echo", "hi"}, analysis.Segments[0].Argv)
	assert.Equal(t, []string{"grep", "h"}, analysis.Segments[1].Argv)
}

func TestAnalyzeSequencing(t *testing.T) {
	tests := []struct {
		command string
		argv0s  []string
	}{
		{"make build && make test", []string{"make", "make"}},
		{"false || echo fallback", []string{"false", "echo"}},
		{"cd /tmp; ls", []string{"cd", "ls"}},
		{"sleep 10 &", []string{"sleep"}},
		{"cat a | sort | uniq -c", []string{"cat", "sort", "uniq"}},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			analysis := Analyze(tt.command)
			require.True(t, analysis.OK)
			require.Len(t, analysis.Segments, len(tt.argv0s))
			for i, want := range tt.argv0s {
				assert.Equal(t, want, analysis.Segments[i].Argv[0])
			}
		})
	}
}

func TestAnalyzeFailsClosed(t *testing.T) {
	tests := []string{
		`echo "unbalanced`,
		`echo 'unbalanced`,
		``,
		`   `,
		`echo $HOME`,
		`echo $(whoami)`,
		"echo `whoami`",
		`cat <(ls)`,
		`echo $((1+2))`,
		`if true; then ls; fi`,
		`for f in *; do cat $f; done`,
		`(cd /tmp && ls)`,
		`ls > "$OUT"`,
		`cat <<EOF
body
EOF`,
		`FOO=bar`,
		`FOO=$(whoami) make`,
		`FOO=$HOME ls`,
		`echo $'ansi\tquoted'`,
	}

	for _, command := range tests {
		t.Run(command, func(t *testing.T) {
			analysis := Analyze(command)
			assert.False(t, analysis.OK, "expected fail-closed for %q", command)
			assert.Empty(t, analysis.Segments, "failure must not expose partial segments")
		})
	}
}

func TestAnalyzePartialFailureIsTotal(t *testing.T) {
	// First stage is fine, second uses command substitution; the whole
	// analysis must fail, not return the parseable stage.
	analysis := Analyze("ls -la | grep $(cat pattern)")
	assert.False(t, analysis.OK)
	assert.Empty(t, analysis.Segments)
}

func TestAnalyzeLiteralRedirects(t *testing.T) {
	analysis := Analyze("echo hi > /tmp/out.txt")
	require.True(t, analysis.OK)
	require.Len(t, analysis.Segments, 1)
	// The redirection target is not part of argv.
	assert.Equal(t, []string{"echo", "hi"}, analysis.Segments[0].Argv)
}

func TestAnalyzeRawSpans(t *testing.T) {
	analysis := Analyze("echo hi | grep h")
	require.True(t, analysis.OK)
	assert.Equal(t, "echo hi", analysis.Segments[0].Raw)
	assert.Equal(t, "grep h", analysis.Segments[1].Raw)
}

func TestExecutableName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"rm", "rm"},
		{"/usr/bin/rm", "rm"},
		{"RM.EXE", "rm"},
		{`C:\Windows\System32\cmd.exe`, "cmd"},
		{"./script.sh", "script.sh"},
		{"Git", "git"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExecutableName(tt.in), "input %q", tt.in)
	}
}

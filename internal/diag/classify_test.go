package diag

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gccLog = `main.c: In function 'main':
main.c:12:5: error: expected ';' before 'return'
   12 |     return 0
      |     ^~~~~~
main.c:7:9: warning: unused variable 'tmp' [-Wunused-variable]
util.c:3:10: fatal error: missing.h: No such file or directory
/usr/bin/ld: main.o: in function ` + "`main':" + `
main.c:(.text+0x1e): undefined reference to ` + "`add_numbers'" + `
collect2: error: ld returned 1 exit status
compilation terminated.
`

func TestClassify_SplitsErrorsAndWarnings(t *testing.T) {
	t.Parallel()

	res := Classify(gccLog)

	require.Len(t, res.Errors, 4)
	require.Len(t, res.Warnings, 1)

	first := res.Errors[0]
	assert.Equal(t, KindError, first.Kind)
	assert.Equal(t, "main.c:12:5: error: expected ';' before 'return'", first.Raw)
	assert.Equal(t, "main.c", first.File)
	assert.Equal(t, 12, first.Line)
	assert.Equal(t, 5, first.Column)
	assert.Equal(t, "expected ';' before 'return'", first.Message)
	assert.Equal(t, "error", first.Category)

	assert.Equal(t, "fatal", res.Errors[1].Category)
	assert.Equal(t, "util.c", res.Errors[1].File)
	assert.Equal(t, "undefined_reference", res.Errors[2].Category)
	assert.False(t, res.Errors[2].HasLocation())
	assert.Equal(t, "linker", res.Errors[3].Category)

	warn := res.Warnings[0]
	assert.Equal(t, KindWarning, warn.Kind)
	assert.Equal(t, 7, warn.Line)
	assert.Equal(t, "unused", warn.Category)
}

func TestClassify_IsDeterministicAndSkipsBlankLines(t *testing.T) {
	t.Parallel()

	assert.True(t, Classify("\n\n   \n\t\n").Clean())
	assert.Equal(t, Classify(gccLog), Classify(gccLog))
}

func TestClassify_ErrorTakesPrecedence(t *testing.T) {
	t.Parallel()

	res := Classify("a.c:1:1: error: 'gets' is deprecated [-Werror=deprecated-declarations]")
	assert.Len(t, res.Errors, 1)
	assert.Empty(t, res.Warnings)
}

func TestClassify_WarningPatterns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		line     string
		category string
	}{
		{name: "generic", line: "a.c:2:3: warning: comparison of integers", category: "warning"},
		{name: "flag only", line: "cc1: note: enabled by -Wextra", category: "flag"},
		{name: "deprecated", line: "a.c:2:3: note: 'foo' is Deprecated", category: "deprecated"},
		{name: "uninitialized", line: "a.c:4:7: note: 'x' may be used uninitialized", category: "uninitialized"},
		{name: "unused parameter", line: "a.c:9:1: note: unused parameter 'argc'", category: "unused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := Classify(tt.line)
			require.Empty(t, res.Errors)
			require.Len(t, res.Warnings, 1)
			assert.Equal(t, tt.category, res.Warnings[0].Category)
		})
	}
}

func TestClassify_CapKeepsFirstEncountered(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 1; i <= 30; i++ {
		if i%2 == 0 {
			fmt.Fprintf(&b, "a.c:%d:1: warning: w%d\n", i, i)
			continue
		}
		fmt.Fprintf(&b, "a.c:%d:1: error: e%d\n", i, i)
	}

	res := NewClassifier(10).Classify(b.String())
	assert.Equal(t, 10, res.Total())
	assert.Equal(t, 1, res.Errors[0].Line)
	assert.Equal(t, 10, res.Warnings[len(res.Warnings)-1].Line)
}

func TestClassify_KeepsCRLFLinesIntact(t *testing.T) {
	t.Parallel()

	res := Classify("a.c:3:1: error: boom\r\nb.c:4:1: warning: hmm\r\n")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "a.c:3:1: error: boom", res.Errors[0].Raw)
	assert.Equal(t, "boom", res.Errors[0].Message)
}

func TestParseLocation(t *testing.T) {
	t.Parallel()

	file, line, ok := ParseLocation(`C:\src\main.c:44:2: error: x`)
	require.True(t, ok)
	assert.Equal(t, `C:\src\main.c`, file)
	assert.Equal(t, 44, line)

	_, _, ok = ParseLocation("collect2: error: ld returned 1 exit status")
	assert.False(t, ok)
}

func TestIssueIdentity(t *testing.T) {
	t.Parallel()

	a := Classify("main.c:12:5: error: expected ‘;’ before   'return'").Errors[0]
	b := Classify("main.c:12:9: ERROR: expected ';' before 'return'").Errors[0]
	c := Classify("main.c:13:5: error: expected ';' before 'return'").Errors[0]

	assert.True(t, a.Same(b), "column and quoting must not change identity")
	assert.False(t, a.Same(c))

	res := Result{Errors: []Issue{c}}
	assert.True(t, res.Contains(c))
	assert.False(t, res.Contains(a))
}

func TestSignature_IsOrderIndependent(t *testing.T) {
	t.Parallel()

	res := Classify(gccLog)
	all := append(append([]Issue{}, res.Errors...), res.Warnings...)
	reversed := make([]Issue, len(all))
	for i := range all {
		reversed[len(all)-1-i] = all[i]
	}

	assert.Equal(t, Signature(all), Signature(reversed))
	assert.NotEqual(t, Signature(all), Signature(all[:1]))
	assert.Len(t, Signature(nil), 64)
}

func TestResultTarget(t *testing.T) {
	t.Parallel()

	_, ok := Result{}.Target()
	assert.False(t, ok)

	res := Classify("a.c:1:1: warning: first\nb.c:2:2: error: second\n")
	target, ok := res.Target()
	require.True(t, ok)
	assert.Equal(t, KindError, target.Kind)
	assert.Equal(t, "b.c", target.File)
}

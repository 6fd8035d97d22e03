package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `gcc main.c -o app
main.c:4:13: error: expected ';' before 'return'
main.c:2:9: warning: unused variable 'x' [-Wunused-variable]
`

type classified struct {
	Errors   []map[string]any `json:"errors"`
	Warnings []map[string]any `json:"warnings"`
}

func runClassify(t *testing.T, stdin string, args ...string) classified {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)
	rootDir = t.TempDir()
	t.Cleanup(func() { rootDir = "" })

	cmd := classifyCmd()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"--json"}, args...))
	require.NoError(t, cmd.Execute())

	var got classified
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	return got
}

func TestClassifyCmd_ReadsStdin(t *testing.T) {
	got := runClassify(t, sampleLog)

	require.Len(t, got.Errors, 1)
	require.Len(t, got.Warnings, 1)
	assert.Equal(t, "main.c", got.Errors[0]["file"])
	assert.EqualValues(t, 4, got.Errors[0]["line"])
}

func TestClassifyCmd_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.log")
	require.NoError(t, writeTestFile(path, sampleLog))

	got := runClassify(t, "ignored stdin", path)

	assert.Len(t, got.Errors, 1)
	assert.Len(t, got.Warnings, 1)
}

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRules = `pii_rules:
  - name: SSN
    pattern: '\d{3}-\d{2}-\d{4}'
    strategy: redact
  - name: EMAIL
    pattern: '[\w.+-]+@[\w-]+\.[\w.]+'
    mask_replacement: '[EMAIL]'
  - name: BROKEN
    pattern: '('
`

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	dir := t.TempDir()
	rules := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rules, []byte(testRules), 0o600))
	cfg := filepath.Join(dir, "sentinel.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("metrics:\n  enabled: false\n"), 0o600))

	flagScanJSON, flagScanExitCode, flagMaskJSON = false, false, false
	flagBackend, flagLogLevel = "", "error"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append(args, "--config", cfg, "--rules", rules))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestScanCommand(t *testing.T) {
	out, err := runCLI(t, "", "scan", "ssn 123-45-6789 and a@b.io")
	require.NoError(t, err)
	assert.Equal(t, "PII DETECTED:\n- SSN: 123-45-6789\n- EMAIL: a@b.io\n", out)

	out, err = runCLI(t, "", "scan", "nothing")
	require.NoError(t, err)
	assert.Equal(t, "No PII detected\n", out)
}

func TestScanCommandExitCode(t *testing.T) {
	_, err := runCLI(t, "", "scan", "--exit-code", "a@b.io")
	assert.True(t, errors.Is(err, errPIIFound))

	_, err = runCLI(t, "", "scan", "--exit-code", "clean")
	assert.NoError(t, err)
}

func TestScanCommandJSON(t *testing.T) {
	out, err := runCLI(t, "", "scan", "--json", "a@b.io")
	require.NoError(t, err)

	var findings []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &findings))
	require.Len(t, findings, 1)
	assert.Equal(t, "EMAIL", findings[0]["pii_type"])
}

func TestMaskCommand(t *testing.T) {
	out, err := runCLI(t, "", "mask", "ssn", "123-45-6789")
	require.NoError(t, err)
	assert.Equal(t, "ssn ***********\n", out)

	out, err = runCLI(t, "write a@b.io", "mask", "-")
	require.NoError(t, err)
	assert.Equal(t, "write [EMAIL]", out)
}

func TestRulesCommand(t *testing.T) {
	out, err := runCLI(t, "", "rules")
	require.NoError(t, err)
	assert.Contains(t, out, "Active:     2")
	assert.Contains(t, out, "-> [EMAIL]")
	assert.Contains(t, out, "Dropped: 1")
	assert.Contains(t, out, "BROKEN")
}

func TestUnknownBackend(t *testing.T) {
	_, err := runCLI(t, "", "scan", "--backend", "nlp", "x")
	require.Error(t, err)
}

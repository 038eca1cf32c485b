package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const offerConfig = `
version: 1
machines:
  - name: offer
    version: v1
    states:
      - name: in_creation
        initial: true
      - name: active
      - name: accepted
        terminal: true
      - name: canceled
        terminal: true
      - name: archived
    events:
      - name: activate
        transitions:
          - from: [in_creation]
            to: active
            guards: [enough_options]
            before: [stamp_validity]
      - name: accept
        transitions:
          - from: [active]
            to: accepted
            after: [send_thank_you_email]
      - name: cancel
        transitions:
          - from: [in_creation, active]
            to: canceled
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "machines.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, &stdout, &stderr)
	return stdout.String(), err
}

func TestValidateReportsWarnings(t *testing.T) {
	cfg := writeConfig(t, offerConfig)

	out, err := runCLI(t, "validate", "--config", cfg)

	require.NoError(t, err)
	assert.Contains(t, out, "ok   offer (5 states, 3 events, initial in_creation)")
	assert.Contains(t, out, "UNREACHABLE_STATE")
	assert.Contains(t, out, "archived")
}

func TestValidateUnknownMachine(t *testing.T) {
	cfg := writeConfig(t, offerConfig)

	_, err := runCLI(t, "validate", "--config", cfg, "--machine", "mandate")

	require.Error(t, err)
	assert.True(t, fsm.IsConfiguration(err))
}

func TestValidateFailsOnBrokenGraph(t *testing.T) {
	cfg := writeConfig(t, `
machines:
  - name: broken
    states:
      - name: open
        initial: true
    events:
      - name: close
        transitions:
          - from: [open]
            to: closed
`)

	out, err := runCLI(t, "validate", "-c", cfg)

	require.Error(t, err)
	assert.Contains(t, out, "FAIL broken")
}

func TestDiagram(t *testing.T) {
	cfg := writeConfig(t, offerConfig)

	out, err := runCLI(t, "diagram", "-c", cfg, "-m", "offer", "--direction", "LR", "--fenced")

	require.NoError(t, err)
	assert.Contains(t, out, "```mermaid")
	assert.Contains(t, out, "direction LR")
	assert.Contains(t, out, "[*] --> in_creation")
	assert.Contains(t, out, "enough_options")

	out, err = runCLI(t, "diagram", "-c", cfg, "-m", "offer", "--no-guards")
	require.NoError(t, err)
	assert.NotContains(t, out, "enough_options")
}

func TestEvents(t *testing.T) {
	cfg := writeConfig(t, offerConfig)

	out, err := runCLI(t, "events", "-c", cfg, "-m", "offer", "-s", "active")
	require.NoError(t, err)
	assert.Equal(t, "accept\ncancel\n", out)

	out, err = runCLI(t, "events", "-c", cfg, "-m", "offer")
	require.NoError(t, err)
	assert.Equal(t, "activate\ncancel\n", out)

	_, err = runCLI(t, "events", "-c", cfg, "-m", "offer", "-s", "nowhere")
	assert.True(t, fsm.IsConfiguration(err))
}

func TestFireAgainstSQLite(t *testing.T) {
	cfg := writeConfig(t, offerConfig)
	db := filepath.Join(t.TempDir(), "fsm.db")

	_, err := runCLI(t, "fire", "-c", cfg, "-m", "offer", "--db", db, "--id", "o-1", "-e", "activate")
	require.Error(t, err, "record does not exist yet")

	out, err := runCLI(t, "fire", "-c", cfg, "-m", "offer", "--db", db, "--id", "o-1", "-e", "activate", "--create")
	require.Error(t, err)
	assert.Equal(t, fsm.CodeGuardFailed, fsm.Code(err))
	assert.Contains(t, out, "guard_failed")

	out, err = runCLI(t, "fire", "-c", cfg, "-m", "offer", "--db", db, "--id", "o-1", "-e", "activate",
		"--create", "--pass", "enough_options")
	require.NoError(t, err)
	assert.Contains(t, out, "success offer/o-1 activate: in_creation -> active (v1)")

	out, err = runCLI(t, "fire", "-c", cfg, "-m", "offer", "--db", db, "--id", "o-1", "-e", "accept")
	require.NoError(t, err)
	assert.Contains(t, out, "active -> accepted (v2)")

	_, err = runCLI(t, "fire", "-c", cfg, "-m", "offer", "--db", db, "--id", "o-1", "-e", "cancel")
	require.Error(t, err)
	assert.Equal(t, fsm.CodeInvalidEvent, fsm.Code(err))
}

func TestFireWithPaddedNames(t *testing.T) {
	cfg := writeConfig(t, `
machines:
  - name: offer
    states:
      - name: in_creation
        initial: true
      - name: active
    events:
      - name: activate
        transitions:
          - from: [in_creation]
            to: active
            guards: [" enough_options "]
            before: ["stamp_validity "]
`)
	db := filepath.Join(t.TempDir(), "fsm.db")

	out, err := runCLI(t, "fire", "-c", cfg, "-m", "offer", "--db", db, "--id", "o-1", "-e", "activate",
		"--create", "--pass", "enough_options")

	require.NoError(t, err)
	assert.Contains(t, out, "in_creation -> active (v1)")
}

func TestReferencedNamesAreDeduplicated(t *testing.T) {
	guards, hooks := referencedNames(mustConfig(t, offerConfig))

	assert.Equal(t, []string{"enough_options"}, guards)
	assert.Equal(t, []string{"send_thank_you_email", "stamp_validity"}, hooks)
}

func mustConfig(t *testing.T, body string) machine.MachineConfig {
	t.Helper()
	set, err := machine.ParseConfig([]byte(body))
	require.NoError(t, err)
	cfg, ok := set.Machine("offer")
	require.True(t, ok)
	return cfg
}

package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackctl/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.InitForCLI(logging.LevelError, io.Discard)
	os.Exit(m.Run())
}

func writeStackFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateCommandPrintsStartOrder(t *testing.T) {
	path := writeStackFile(t, `
services:
  db:
    image: postgres:16
  app:
    image: myapp:latest
    dependsOn: [db]
`)

	cmd := newValidateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"-f", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "2 services")
	assert.Contains(t, out.String(), "db -> app")
}

func TestValidateCommandRejectsUnknownDependency(t *testing.T) {
	path := writeStackFile(t, `
services:
  app:
    image: myapp:latest
    dependsOn: [db]
`)

	cmd := newValidateCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"-f", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db")
}

func TestValidateCommandMissingFile(t *testing.T) {
	cmd := newValidateCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"-f", filepath.Join(t.TempDir(), "absent.yaml")})

	assert.Error(t, cmd.Execute())
}

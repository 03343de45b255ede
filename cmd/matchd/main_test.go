package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"serve", "load"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}

	for _, sub := range []string{"up", "down", "version"} {
		cmd, _, err := root.Find([]string{"migrate", sub})
		require.NoError(t, err)
		assert.Equal(t, sub, cmd.Name())
	}
}

func TestMigrateDownRejectsBadSteps(t *testing.T) {
	for _, arg := range []string{"abc", "0", "-2"} {
		root := newRootCmd()
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs([]string{"migrate", "down", "--", arg})

		err := root.Execute()
		require.Error(t, err, arg)
		assert.Contains(t, err.Error(), "steps must be a positive integer")
	}
}

func TestMigrateReportsMissingConfigFile(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", t.TempDir() + "/missing.yaml", "migrate", "version"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read")
}

func TestLoadRejectsNonPositivePairs(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"load", "--pairs", "0"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--pairs must be positive")
}

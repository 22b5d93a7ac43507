package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/km-arc/go-inject/framework/inject"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := root.Execute()
	return out.String(), err
}

func TestInspect_JSON(t *testing.T) {
	out, err := runCmd(t, "inspect")
	require.NoError(t, err)

	var entries []inject.EntryInfo
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	types := map[string]string{}
	for _, e := range entries {
		types[e.Type] = e.State
	}
	assert.Equal(t, "started", types["*app.Garage"], "the snapshot is taken before shutdown")
	assert.Contains(t, types, "*routing.Router")
	assert.Contains(t, types, "*app.Engine")
}

func TestInspect_YAML(t *testing.T) {
	out, err := runCmd(t, "inspect", "-o", "yaml")
	require.NoError(t, err)

	var entries []inject.EntryInfo
	require.NoError(t, yaml.Unmarshal([]byte(out), &entries))
	assert.NotEmpty(t, entries)
}

func TestInspect_UnknownFormat(t *testing.T) {
	_, err := runCmd(t, "inspect", "-o", "toml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestInspect_MissingConfig(t *testing.T) {
	_, err := runCmd(t, "inspect", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

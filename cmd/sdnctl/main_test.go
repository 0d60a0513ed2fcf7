package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-sdn/pkg/topology"
	"github.com/dd0wney/cluso-sdn/pkg/topology/topotest"
)

func writeFixture(t *testing.T) (cfgPath, topoPath string) {
	t.Helper()
	dir := t.TempDir()
	data, err := topotest.Ring(t, true).Document().Encode()
	require.NoError(t, err)
	topoPath = filepath.Join(dir, "topo.json")
	require.NoError(t, os.WriteFile(topoPath, data, 0o644))

	cfgPath = filepath.Join(dir, "sdnctl.yaml")
	yaml := "topology:\n  file: " + topoPath + "\n  save_file: " + filepath.Join(dir, "auto.json") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o644))
	return cfgPath, topoPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRoot()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTopologyShow(t *testing.T) {
	cfgPath, _ := writeFixture(t)
	out, err := execute(t, "topology", "show", "-c", cfgPath)
	require.NoError(t, err)
	for _, want := range []string{"NODES", "LINKS", "ROUTES", "S1", "H2", "external", "protected"} {
		assert.Contains(t, out, want)
	}
}

func TestTopologyGenerate(t *testing.T) {
	cfgPath, topoPath := writeFixture(t)
	out := filepath.Join(t.TempDir(), "generated.json")
	_, err := execute(t, "topology", "generate", "-c", cfgPath, "-f", topoPath, "-o", out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	doc, err := topology.ParseDocument(data)
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 6)
	assert.NotEmpty(t, doc.Routes)

	// The save file belongs to the running controller.
	_, err = os.Stat(filepath.Join(filepath.Dir(cfgPath), "auto.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestTopologyGenerate_Stdout(t *testing.T) {
	cfgPath, _ := writeFixture(t)
	out, err := execute(t, "topology", "generate", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"emacs"`)
}

func TestTopologyShow_Malformed(t *testing.T) {
	cfgPath, topoPath := writeFixture(t)
	require.NoError(t, os.WriteFile(topoPath, []byte("{not json"), 0o644))
	_, err := execute(t, "topology", "show", "-c", cfgPath)
	assert.Error(t, err)
}

func TestConfigCommand(t *testing.T) {
	cfgPath, topoPath := writeFixture(t)
	out, err := execute(t, "config", "-c", cfgPath, "--log-level", "debug")
	require.NoError(t, err)
	assert.Contains(t, out, topoPath)
	assert.Contains(t, out, "level: debug")
}

func TestBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nope: 1\n"), 0o644))
	_, err := execute(t, "config", "-c", path)
	assert.Error(t, err)
}

package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-sdn/pkg/failover"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4*time.Second, cfg.Sync.SettleDelay)
	assert.Equal(t, uint64(255), cfg.Topology.MaxNodeID)
	assert.Equal(t, "nl-hr", cfg.Failover.Link)

	triggers, err := cfg.TriggerTable()
	require.NoError(t, err)
	assert.Nil(t, triggers)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
topology:
  file: ring.json
  sources: [n1.example.net, 192.0.2.7]
  link_generator: fullmesh
  poll_interval: 500ms
failover:
  link: S1-S2
  triggers:
    10.10.10.40:
      start: 1s
      duration: 2s
      reroute: 100ms
      restore: true
    10.10.10.99:
      reset_all: true
log:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, "ring.json", cfg.Topology.File)
	assert.Equal(t, "auto_topo.json", cfg.Topology.SaveFile)
	assert.Equal(t, []string{"n1.example.net", "192.0.2.7"}, cfg.Topology.Sources)
	assert.Equal(t, "fullmesh", cfg.Topology.LinkGenerator)
	assert.Equal(t, 500*time.Millisecond, cfg.Topology.PollInterval)
	assert.Equal(t, "debug", cfg.Log.Level)

	triggers, err := cfg.TriggerTable()
	require.NoError(t, err)
	assert.Equal(t, map[netip.Addr]failover.Trigger{
		netip.MustParseAddr("10.10.10.40"): {Start: time.Second, Duration: 2 * time.Second, Reroute: 100 * time.Millisecond, Restore: true},
		netip.MustParseAddr("10.10.10.99"): {ResetAll: true},
	}, triggers)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "topology:\n  fiel: x\n", "fiel"},
		{"bad generator", "topology:\n  link_generator: star\n", "LinkGenerator"},
		{"prefix too long", "topology:\n  prefix_len: 33\n", "PrefixLen"},
		{"no workers", "probe:\n  workers: 0\n", "Workers"},
		{"bad level", "log:\n  level: loud\n", "Level"},
		{"export without address", "export:\n  enabled: true\n  address: \"\"\n", "Address"},
		{"trigger outside prefix", "failover:\n  triggers:\n    10.0.0.1:\n      start: 1s\n", "outside"},
		{"bad trigger address", "failover:\n  triggers:\n    nope:\n      start: 1s\n", "failover.triggers"},
		{"bad source", "topology:\n  sources: [\"not a host\"]\n", "Sources"},
		{"node id beyond one byte", "topology:\n  max_node_id: 256\n", "MaxNodeID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(dir, "sdn.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: 127.0.0.1:9090\n"), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)

	require.NoError(t, os.WriteFile(path, []byte("server: [\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, path)
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Topology.Sources = []string{"n1.example.net"}
	data, err := cfg.Marshal()
	require.NoError(t, err)

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

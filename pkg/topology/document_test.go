package topology

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `{
  "nodes": [
    {"name": "S1", "DPID": "0000000000000001", "hostname": "s1.lab", "site": "bme"},
    {"name": "S2", "DPID": "0000000000000002"},
    {"name": "H1", "DPID": "000000000000000a", "external": true,
     "ports": {"1": {"ip": "10.0.0.1", "mac": "22:01:00:00:00:0a"}}}
  ],
  "links": [
    "S1-S2",
    "H1:1-S1",
    {"name_a": "S2", "name_b": "H1", "prop": "hidden", "properties": ["protected"]}
  ],
  "routes": ["H1-S1-S2", ["S1-S2", "protect", "S1-H1"]]
}`

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleDocument))
	require.NoError(t, err)

	require.Len(t, doc.Nodes, 3)
	assert.Equal(t, "bme", strings.Trim(string(doc.Nodes[0].Extra["site"]), `"`))
	require.NotNil(t, doc.Nodes[2].External)
	assert.True(t, *doc.Nodes[2].External)

	want := []LinkDoc{
		{NameA: "S1", NameB: "S2"},
		{NameA: "H1", NameB: "S1", PortA: 1},
		{NameA: "S2", NameB: "H1", Props: []string{PropHidden, PropProtected}},
	}
	if diff := cmp.Diff(want, doc.Links); diff != "" {
		t.Errorf("links mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, doc.Routes, 2)
	assert.Equal(t, []string{"H1", "S1", "S2"}, doc.Routes[0].Hops)
	assert.Equal(t, []string{"protect", "S1-H1"}, doc.Routes[1].Props)
}

func TestParseDocument_Malformed(t *testing.T) {
	_, err := ParseDocument([]byte(`{"nodes": [`))
	assert.Error(t, err)

	_, err = ParseDocument([]byte(`{"links": ["not a link"]}`))
	assert.Error(t, err)

	doc, err := ParseDocument(nil)
	require.NoError(t, err)
	assert.Empty(t, doc.Nodes)
}

func TestBuildGraph(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleDocument))
	require.NoError(t, err)

	g := NewGraph(nil)
	errs := BuildGraph(doc, g, func(hostname string) bool { return hostname != "s1.lab" })
	require.Empty(t, errs)

	s1, _ := g.NodeByName("S1")
	s2, _ := g.NodeByName("S2")
	assert.False(t, s1.External)
	assert.True(t, s2.External, "unlisted hostname defaults to external")

	p, ok := g.PortToward(10, 1)
	require.True(t, ok)
	assert.Equal(t, 1, p.Number)
	assert.Equal(t, "10.0.0.1", p.IP.String(), "explicit port keeps its address")

	l, ok := g.LinkByName("H1-S2")
	require.True(t, ok)
	assert.True(t, l.Hidden())
	assert.True(t, l.Protected())
	assert.Len(t, g.Routes(PropProtect), 1)
}

func TestBuildGraph_ReportsBrokenEntries(t *testing.T) {
	doc := &Document{
		Nodes:  []NodeDoc{{Name: "A", DPID: "1"}, {Name: "B", DPID: "zz"}},
		Links:  []LinkDoc{{NameA: "A", NameB: "B"}},
		Routes: []RouteDoc{{Hops: []string{"A", "B"}}},
	}
	g := NewGraph(nil)
	errs := BuildGraph(doc, g, nil)
	assert.Len(t, errs, 3)
	assert.Equal(t, 1, g.Len())
	for _, err := range errs {
		assert.True(t, IsKind(err, KindStructural), err.Error())
	}
}

func TestDocument_EncodeCanonical(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleDocument))
	require.NoError(t, err)
	g := NewGraph(nil)
	require.Empty(t, BuildGraph(doc, g, nil))

	out, err := g.Document().Encode()
	require.NoError(t, err)
	text := string(out)

	assert.True(t, strings.HasPrefix(text, "{\n    \"emacs\": \""+EditorHint+"\",\n"), text)
	assert.Less(t, strings.Index(text, `"links"`), strings.Index(text, `"nodes"`))
	assert.Less(t, strings.Index(text, `"nodes"`), strings.Index(text, `"routes"`))
	assert.Contains(t, text, `"DPID": "000000000000000a"`)
	assert.Contains(t, text, `"site": "bme"`)
	assert.Contains(t, text, `"H1:1-S1"`, "external endpoint keeps its port")
	assert.Contains(t, text, `"S1-S2"`)

	// The canonical form is a fixed point.
	again, err := ParseDocument(out)
	require.NoError(t, err)
	g2 := NewGraph(nil)
	require.Empty(t, BuildGraph(again, g2, nil))
	out2, err := g2.Document().Encode()
	require.NoError(t, err)
	assert.Equal(t, text, string(out2))

	var generic map[string]any
	require.NoError(t, json.Unmarshal(out, &generic))
	assert.Len(t, generic["routes"], 2)
}

func TestParseLinkString(t *testing.T) {
	tests := []struct {
		in   string
		want LinkDoc
		err  bool
	}{
		{"A-B", LinkDoc{NameA: "A", NameB: "B"}, false},
		{"A:3-B", LinkDoc{NameA: "A", NameB: "B", PortA: 3}, false},
		{"A:3-B:12", LinkDoc{NameA: "A", NameB: "B", PortA: 3, PortB: 12}, false},
		{"AB", LinkDoc{}, true},
		{"A-B-C", LinkDoc{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLinkString(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

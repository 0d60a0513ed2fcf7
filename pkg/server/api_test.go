package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-sdn/pkg/controller"
	"github.com/dd0wney/cluso-sdn/pkg/failover"
	"github.com/dd0wney/cluso-sdn/pkg/flowsync"
	"github.com/dd0wney/cluso-sdn/pkg/health"
	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/metrics"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

type fakeTopology struct {
	graph     *topology.Graph
	loadErr   error
	loads     int
	attachErr error
	attached  []string
}

func (f *fakeTopology) Graph() *topology.Graph { return f.graph }

func (f *fakeTopology) Load(context.Context) error {
	f.loads++
	return f.loadErr
}

func (f *fakeTopology) Attach(_ context.Context, host string, peers []string, short string) ([]controller.LinkParams, error) {
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	f.attached = append(f.attached, host)
	var out []controller.LinkParams
	for i, p := range peers {
		out = append(out, controller.LinkParams{Link: p + "-H13", Node: "H13", Peer: p, Port: i + 1, TunMode: "tap"})
	}
	return out, nil
}

func (f *fakeTopology) AttachCandidates(ctx context.Context, host string, candidates []string, count int, short string) ([]controller.LinkParams, error) {
	return f.Attach(ctx, host, candidates[:count], short)
}

type fakeFailover struct {
	staged  []string
	actions []string
	emus    []*failover.Emulation
}

func (f *fakeFailover) StagedLinks() []string { return f.staged }

func (f *fakeFailover) act(name, link string) error {
	for _, l := range f.staged {
		if l == link {
			f.actions = append(f.actions, name+" "+link)
			return nil
		}
	}
	return topology.NewError(name).Kind(topology.KindRouteComputation).Link(link).Cause(topology.ErrNoProtection).Err()
}

func (f *fakeFailover) Activate(link string) error   { return f.act("activate", link) }
func (f *fakeFailover) Deactivate(link string) error { return f.act("deactivate", link) }

func (f *fakeFailover) Emulate(p failover.Params) (*failover.Emulation, error) {
	if p.Link != "S1-S2" {
		return nil, topology.NewError("emulate").Link(p.Link).Cause(topology.ErrLinkNotFound).Err()
	}
	e := &failover.Emulation{Params: p, Scheduled: time.Unix(100, 0).UTC()}
	f.emus = append(f.emus, e)
	return e, nil
}

func (f *fakeFailover) Emulations() []*failover.Emulation { return f.emus }

type fakeSwitches map[uint64]flowsync.State

func (f fakeSwitches) States() map[uint64]flowsync.State { return f }

// inline runs functions directly; the fakes need no loop.
type inline struct{}

func (inline) Do(_ context.Context, fn func()) error {
	fn()
	return nil
}

type apiFixture struct {
	topo    *fakeTopology
	fo      *fakeFailover
	metrics *metrics.Registry
	handler http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	g := topology.NewGraph(nil)
	require.NoError(t, g.AddNode(topology.NewNode(1, "S1")))
	require.NoError(t, g.AddNode(topology.NewNode(2, "S2")))
	_, err := g.AddLink("S1", "S2", 0, 0, topology.PropProtected)
	require.NoError(t, err)

	hc := health.NewHealthChecker(nil)
	hc.RegisterCheck("topology", health.TopologyCheck(func() (bool, int, int, int) { return true, g.Len(), g.LinkCount(), 0 }))

	f := &apiFixture{
		topo:    &fakeTopology{graph: g},
		fo:      &fakeFailover{staged: []string{"S1-S2"}},
		metrics: metrics.NewRegistry(),
	}
	f.handler = NewHandler(Deps{
		Metrics:  f.metrics,
		Health:   hc,
		Topology: f.topo,
		Failover: f.fo,
		Switches: fakeSwitches{2: flowsync.Settling, 1: flowsync.Synced},
		Loop:     inline{},
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)
	return rec
}

func TestAPI_Topology(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/topology", "")
	require.Equal(t, http.StatusOK, rec.Code)
	doc, err := topology.ParseDocument(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 2)
	assert.True(t, strings.HasPrefix(rec.Body.String(), `{`+"\n"+`    "emacs"`))

	rec = f.do(t, http.MethodPost, "/topology/reload", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"nodes": 2, "links": 1, "routes": 0}`, rec.Body.String())
	assert.Equal(t, 1, f.topo.loads)

	f.topo.loadErr = topology.NewError("load").Cause(errors.New("bad json")).Err()
	rec = f.do(t, http.MethodPost, "/topology/reload", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAPI_Attach(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/attach", `{"hostname": "h9.example.net", "peers": ["S1", "S2"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var params []controller.LinkParams
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &params))
	require.Len(t, params, 2)
	assert.Equal(t, "S2-H13", params[1].Link)

	rec = f.do(t, http.MethodPost, "/attach", `{"hostname": "h9.example.net", "candidates": ["S1", "S2"], "count": 1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &params))
	assert.Len(t, params, 1)

	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"no peers", `{"hostname": "h9"}`, nil, http.StatusBadRequest},
		{"unknown field", `{"hostname": "h9", "peers": ["S1"], "bogus": 1}`, nil, http.StatusBadRequest},
		{"exhausted", `{"hostname": "h9", "peers": ["S1"]}`,
			topology.NewError("attach").Kind(topology.KindResourceExhaustion).Cause(topology.ErrIDExhausted).Err(), http.StatusConflict},
		{"unknown peer", `{"hostname": "h9", "peers": ["X"]}`, topology.UnknownNodeError("attach", "X"), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.topo.attachErr = tt.err
			rec := f.do(t, http.MethodPost, "/attach", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAPI_Switches(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/switches", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []SwitchView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []SwitchView{
		{DPID: "0000000000000001", Name: "S1", State: "synced"},
		{DPID: "0000000000000002", Name: "S2", State: "settling"},
	}, got)
}

func TestAPI_Failover(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/failover", "")
	assert.JSONEq(t, `{"links": ["S1-S2"]}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/failover/S1-S2/activate", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/failover/S1-S2/deactivate", "").Code)
	assert.Equal(t, []string{"activate S1-S2", "deactivate S1-S2"}, f.fo.actions)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/failover/S2-S3/activate", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/failover/S1-S2/explode", "").Code)
}

func TestAPI_Emulations(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/emulations", `{"link": "S1-S2", "start": "3s", "duration": "10s", "reroute": "200ms", "restore": true}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var v EmulationView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "S1-S2", v.Link)
	assert.Equal(t, "3s", v.Start)
	assert.Equal(t, "200ms", v.Reroute)
	assert.True(t, v.Restore)
	assert.Empty(t, v.Events)

	require.Len(t, f.fo.emus, 1)
	assert.Equal(t, failover.Params{Link: "S1-S2", Start: 3 * time.Second, Duration: 10 * time.Second, Reroute: 200 * time.Millisecond, Restore: true}, f.fo.emus[0].Params)

	rec = f.do(t, http.MethodGet, "/emulations", "")
	var list []EmulationView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/emulations", `{"link": "S1-S2", "duration": "soon"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/emulations", `{"link": "S1-S2"}`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/emulations", `{"link": "S7-S8", "duration": "1s"}`).Code)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"topology"`)

	rec = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sdn_topology_nodes")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HTTPRequestsTotal.WithLabelValues("GET", "GET /health", "200")))
	f.do(t, http.MethodGet, "/nowhere", "")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestRecovery(t *testing.T) {
	h := withRecovery(logging.NewNopLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

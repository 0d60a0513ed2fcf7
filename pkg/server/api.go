package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-sdn/pkg/controller"
	"github.com/dd0wney/cluso-sdn/pkg/failover"
	"github.com/dd0wney/cluso-sdn/pkg/flowsync"
	"github.com/dd0wney/cluso-sdn/pkg/health"
	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/metrics"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

// Topology is the part of the topology controller the API drives.
type Topology interface {
	Graph() *topology.Graph
	Load(ctx context.Context) error
	Attach(ctx context.Context, hostname string, peers []string, shortName string) ([]controller.LinkParams, error)
	AttachCandidates(ctx context.Context, hostname string, candidates []string, count int, shortName string) ([]controller.LinkParams, error)
}

// Failover is the part of the failover manager the API drives. Its
// actions run on the loop.
type Failover interface {
	StagedLinks() []string
	Activate(link string) error
	Deactivate(link string) error
	Emulate(p failover.Params) (*failover.Emulation, error)
	Emulations() []*failover.Emulation
}

type Switches interface {
	States() map[uint64]flowsync.State
}

// Runner executes a function on the event loop and waits for it.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

// Deps are the handler collaborators. Nil components leave their routes
// unregistered.
type Deps struct {
	Metrics  *metrics.Registry
	Health   *health.HealthChecker
	Topology Topology
	Failover Failover
	Switches Switches
	Loop     Runner
	Logger   logging.Logger
}

// NewHandler builds the HTTP routes.
func NewHandler(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = logging.NewNopLogger()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewRegistry()
	}
	a := &api{Deps: d, logger: d.Logger.With(logging.Component("api"))}

	mux := http.NewServeMux()
	reg := d.Metrics.GetPrometheusRegistry()
	mux.Handle("GET /metrics", promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	if d.Health != nil {
		mux.Handle("GET /health", d.Health.HTTPHandler())
		mux.Handle("GET /health/ready", d.Health.ReadinessHandler())
		mux.Handle("GET /health/live", d.Health.LivenessHandler())
	}
	if d.Topology != nil {
		mux.HandleFunc("GET /topology", a.getTopology)
		mux.HandleFunc("POST /topology/reload", a.reload)
		mux.HandleFunc("POST /attach", a.attach)
	}
	if d.Switches != nil {
		mux.HandleFunc("GET /switches", a.switches)
	}
	if d.Failover != nil && d.Loop != nil {
		mux.HandleFunc("GET /failover", a.staged)
		mux.HandleFunc("POST /failover/{link}/{action}", a.failoverAction)
		mux.HandleFunc("GET /emulations", a.emulations)
		mux.HandleFunc("POST /emulations", a.emulate)
	}
	return withRecovery(a.logger, withMetrics(d.Metrics, mux))
}

type api struct {
	Deps
	logger logging.Logger
}

func (a *api) getTopology(w http.ResponseWriter, r *http.Request) {
	data, err := a.Topology.Graph().Document().Encode()
	if err != nil {
		a.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (a *api) reload(w http.ResponseWriter, r *http.Request) {
	if err := a.Topology.Load(r.Context()); err != nil {
		a.fail(w, err)
		return
	}
	g := a.Topology.Graph()
	writeJSON(w, http.StatusOK, map[string]int{"nodes": g.Len(), "links": g.LinkCount(), "routes": len(g.Routes())})
}

// AttachRequest asks for an endpoint to be linked to the given peers, or
// to the first Count reachable Candidates.
type AttachRequest struct {
	Hostname   string   `json:"hostname"`
	Peers      []string `json:"peers,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
	Count      int      `json:"count,omitempty"`
	ShortName  string   `json:"short_name,omitempty"`
}

func (a *api) attach(w http.ResponseWriter, r *http.Request) {
	var req AttachRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Hostname == "" || (len(req.Peers) == 0 && len(req.Candidates) == 0) {
		writeError(w, http.StatusBadRequest, "hostname and peers or candidates are required")
		return
	}

	var (
		params []controller.LinkParams
		err    error
	)
	if len(req.Peers) > 0 {
		params, err = a.Topology.Attach(r.Context(), req.Hostname, req.Peers, req.ShortName)
	} else {
		params, err = a.Topology.AttachCandidates(r.Context(), req.Hostname, req.Candidates, req.Count, req.ShortName)
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, params)
}

// SwitchView is one entry of GET /switches.
type SwitchView struct {
	DPID  string `json:"dpid"`
	Name  string `json:"name,omitempty"`
	State string `json:"state"`
}

func (a *api) switches(w http.ResponseWriter, r *http.Request) {
	var g *topology.Graph
	if a.Topology != nil {
		g = a.Topology.Graph()
	}
	states := a.Switches.States()
	out := make([]SwitchView, 0, len(states))
	for id, st := range states {
		v := SwitchView{DPID: topology.FormatDPID(id), State: st.String()}
		if g != nil {
			if n, ok := g.Node(id); ok {
				v.Name = n.Name
			}
		}
		out = append(out, v)
	}
	slices.SortFunc(out, func(x, y SwitchView) int {
		switch {
		case x.DPID < y.DPID:
			return -1
		case x.DPID > y.DPID:
			return 1
		}
		return 0
	})
	writeJSON(w, http.StatusOK, out)
}

func (a *api) staged(w http.ResponseWriter, r *http.Request) {
	links := a.Failover.StagedLinks()
	if links == nil {
		links = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"links": links})
}

func (a *api) failoverAction(w http.ResponseWriter, r *http.Request) {
	link := r.PathValue("link")
	var action func(string) error
	switch r.PathValue("action") {
	case "activate":
		action = a.Failover.Activate
	case "deactivate":
		action = a.Failover.Deactivate
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}

	var err error
	if doErr := a.Loop.Do(r.Context(), func() { err = action(link) }); doErr != nil {
		a.fail(w, doErr)
		return
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"link": link, "action": r.PathValue("action")})
}

// EmulationRequest schedules a link failure. Durations use Go syntax
// ("3s", "200ms").
type EmulationRequest struct {
	Link     string `json:"link"`
	Start    string `json:"start"`
	Duration string `json:"duration"`
	Reroute  string `json:"reroute,omitempty"`
	Restore  bool   `json:"restore,omitempty"`
}

func (req EmulationRequest) params() (failover.Params, error) {
	p := failover.Params{Link: req.Link, Restore: req.Restore}
	for _, f := range []struct {
		s   string
		dst *time.Duration
	}{{req.Start, &p.Start}, {req.Duration, &p.Duration}, {req.Reroute, &p.Reroute}} {
		if f.s == "" {
			continue
		}
		d, err := time.ParseDuration(f.s)
		if err != nil {
			return p, err
		}
		if d < 0 {
			return p, errors.New("negative duration")
		}
		*f.dst = d
	}
	if p.Link == "" || p.Duration == 0 {
		return p, errors.New("link and duration are required")
	}
	return p, nil
}

func (a *api) emulate(w http.ResponseWriter, r *http.Request) {
	var req EmulationRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := req.params()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var e *failover.Emulation
	if doErr := a.Loop.Do(r.Context(), func() { e, err = a.Failover.Emulate(p) }); doErr != nil {
		a.fail(w, doErr)
		return
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newEmulationView(e))
}

// EventView renders one emulation step.
type EventView struct {
	Kind   string    `json:"kind"`
	Switch string    `json:"switch,omitempty"`
	Port   uint16    `json:"port,omitempty"`
	At     time.Time `json:"at"`
	Gap    string    `json:"gap"`
	XID    string    `json:"xid,omitempty"`
	RTT    string    `json:"rtt,omitempty"`
	Acked  bool      `json:"acked"`
	Error  string    `json:"error,omitempty"`
}

// EmulationView renders an emulation and its measurements.
type EmulationView struct {
	Link      string      `json:"link"`
	Start     string      `json:"start"`
	Duration  string      `json:"duration"`
	Reroute   string      `json:"reroute,omitempty"`
	Restore   bool        `json:"restore"`
	Scheduled time.Time   `json:"scheduled"`
	Finished  bool        `json:"finished"`
	Events    []EventView `json:"events"`
}

func newEmulationView(e *failover.Emulation) EmulationView {
	v := EmulationView{
		Link:      e.Link,
		Start:     e.Start.String(),
		Duration:  e.Duration.String(),
		Restore:   e.Restore,
		Scheduled: e.Scheduled,
		Finished:  e.Finished(),
		Events:    []EventView{},
	}
	if e.Reroute > 0 {
		v.Reroute = e.Reroute.String()
	}
	for _, ev := range e.Events() {
		ew := EventView{Kind: string(ev.Kind), Port: ev.Port, At: ev.At, Gap: ev.Gap.String(), XID: ev.XID, Acked: ev.Acked}
		if ev.Switch != 0 {
			ew.Switch = topology.FormatDPID(ev.Switch)
		}
		if ev.Acked {
			ew.RTT = ev.RTT.String()
		}
		if ev.Err != nil {
			ew.Error = ev.Err.Error()
		}
		v.Events = append(v.Events, ew)
	}
	return v
}

func (a *api) emulations(w http.ResponseWriter, r *http.Request) {
	list := a.Failover.Emulations()
	out := make([]EmulationView, 0, len(list))
	for _, e := range list {
		out = append(out, newEmulationView(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// fail maps controller errors onto status codes.
func (a *api) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	case topology.IsNotFound(err):
		status = http.StatusNotFound
	case topology.IsKind(err, topology.KindResourceExhaustion), topology.IsKind(err, topology.KindRouteComputation):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", logging.Error(err))
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package controller owns the topology: it loads and persists the
// topology document, fills in links and routes, answers queries and tells
// the rest of the system when the topology changes.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-sdn/pkg/eventloop"
	"github.com/dd0wney/cluso-sdn/pkg/generate"
	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/metrics"
	"github.com/dd0wney/cluso-sdn/pkg/probe"
	"github.com/dd0wney/cluso-sdn/pkg/pubsub"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

// Listener is told about every published topology. It runs on the loop.
type Listener interface {
	TopologyChanged()
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func()

func (f ListenerFunc) TopologyChanged() { f() }

type Config struct {
	File     string
	SaveFile string
	// Sources are host names nodes are synthesised from when the document
	// has no nodes.
	Sources           []string
	CheckAvailability bool
	LinkGenerator     string
	PrefixLen         int
	PollInterval      time.Duration
	Watch             bool
	MaxNodeID         uint64
	HostnameTTL       time.Duration
}

// Deps are the collaborators of a Controller. Loop is required.
type Deps struct {
	Loop     *eventloop.Loop
	Bus      *pubsub.PubSub
	Metrics  *metrics.Registry
	Logger   logging.Logger
	Filter   *probe.Filter
	Resolver topology.Resolver
	Rand     *rand.Rand
}

// Changed is published on pubsub.TopicTopologyChanged.
type Changed struct {
	Reason   string
	Graph    *topology.Graph
	Document []byte
	At       time.Time
}

// Controller publishes the topology as an immutable snapshot. Loads and
// attachments build a new graph off the loop and swap it in on the loop,
// where listeners are notified.
type Controller struct {
	cfg      Config
	loop     *eventloop.Loop
	bus      *pubsub.PubSub
	metrics  *metrics.Registry
	logger   logging.Logger
	filter   *probe.Filter
	resolver topology.Resolver
	links    generate.LinkGenerator
	routes   *generate.RouteGenerator

	graph     atomic.Pointer[topology.Graph]
	hostnames *topology.HostnameCache

	// buildMu serialises loads and attachments.
	buildMu sync.Mutex

	mu        sync.Mutex
	listeners []Listener
	modTime   time.Time
	loaded    bool
}

func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Loop == nil {
		return nil, errors.New("controller: nil loop")
	}
	if cfg.LinkGenerator == "" {
		cfg.LinkGenerator = generate.Ring
	}
	if cfg.MaxNodeID == 0 || cfg.MaxNodeID > topology.MaxHostID {
		cfg.MaxNodeID = topology.MaxHostID
	}
	if cfg.HostnameTTL <= 0 {
		cfg.HostnameTTL = 10 * time.Minute
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	links, err := generate.NewLinkGenerator(cfg.LinkGenerator, deps.Rand, deps.Logger)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:      cfg,
		loop:     deps.Loop,
		bus:      deps.Bus,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With(logging.Component("controller")),
		filter:   deps.Filter,
		resolver: deps.Resolver,
		links:    links,
		routes:   generate.NewRouteGenerator(cfg.PrefixLen, deps.Logger),
	}
	c.graph.Store(topology.NewGraph(c.logger))
	c.hostnames = topology.NewHostnameCache(c.resolver, cfg.HostnameTTL)
	return c, nil
}

// AddListener registers l for topology changes.
func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Graph returns the current snapshot. It is never nil and must not be
// modified.
func (c *Controller) Graph() *topology.Graph {
	return c.graph.Load()
}

// Loaded reports whether a topology has been published.
func (c *Controller) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Load reads the topology file, completes and persists the topology and
// publishes it. A missing file is an empty document; a malformed one is
// reported and also treated as empty, so a topology is published either
// way.
func (c *Controller) Load(ctx context.Context) error {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	timer := logging.StartTimer(c.logger, "topology loaded", logging.Path(c.cfg.File))
	g, loadErr := c.build(ctx)
	if err := c.persist(g); err != nil {
		c.logger.Error("cannot save topology", logging.Path(c.cfg.SaveFile), logging.Error(err))
	}
	mtime := c.stat()

	if err := c.loop.Do(ctx, func() { c.publish(g, "load") }); err != nil {
		timer.EndError(err)
		return err
	}
	c.mu.Lock()
	c.modTime = mtime
	c.mu.Unlock()

	result := "loaded"
	switch {
	case loadErr != nil:
		result = "error"
	case g.Len() == 0:
		result = "empty"
	}
	c.metrics.TopologyReloadsTotal.WithLabelValues(result).Inc()
	timer.AddFields(
		logging.Int("nodes", g.Len()),
		logging.Int("links", g.LinkCount()),
		logging.Int("routes", len(g.Routes())))
	if loadErr != nil {
		timer.EndError(loadErr)
		return loadErr
	}
	timer.End()
	return nil
}

func (c *Controller) build(ctx context.Context) (*topology.Graph, error) {
	doc, loadErr := c.readDocument()

	g := topology.NewGraph(c.logger)
	for _, err := range topology.BuildGraph(doc, g, nil) {
		c.logger.Warn("skipping topology entry", logging.Error(err))
	}

	if len(doc.Nodes) == 0 {
		c.synthesize(ctx, g)
	}
	if g.LinkCount() == 0 {
		if _, err := c.links.GenerateLinks(g); err != nil {
			c.logger.Error("link generation failed", logging.String("generator", c.links.Name()), logging.Error(err))
		}
	}

	skipped := 0
	if len(g.Routes()) > 0 {
		g.DisableRouteGeneration()
	} else {
		res, _ := c.routes.Apply(g)
		skipped = len(res.Skipped)
	}
	c.recordTopology(g, skipped)
	return g, loadErr
}

// recordTopology updates the topology gauges and warns when the switch
// fabric has split into islands.
func (c *Controller) recordTopology(g *topology.Graph, skipped int) {
	c.metrics.UpdateTopology(g.Len(), g.LinkCount(), len(g.Routes()), skipped)
	parts := generate.Partitions(g)
	c.metrics.UpdateFabric(generate.Diameter(g), len(parts))
	if len(parts) > 1 {
		c.logger.Warn("switch fabric is partitioned", logging.Int("partitions", len(parts)))
	}
}

func (c *Controller) readDocument() (*topology.Document, error) {
	data, err := os.ReadFile(c.cfg.File)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("topology file does not exist", logging.Path(c.cfg.File))
		return &topology.Document{}, nil
	}
	if err != nil {
		return &topology.Document{}, topology.NewError("load").Cause(err).Err()
	}
	doc, err := topology.ParseDocument(data)
	if err != nil {
		return &topology.Document{}, topology.NewError("load").Cause(fmt.Errorf("%s: %w", c.cfg.File, err)).Err()
	}
	return doc, nil
}

// synthesize creates N1..Nn from the configured sources, keeping only
// reachable hosts when availability checks are on.
func (c *Controller) synthesize(ctx context.Context, g *topology.Graph) {
	hosts := c.cfg.Sources
	if c.cfg.CheckAvailability && c.filter != nil {
		hosts = c.filter.Reachable(ctx, hosts)
	}
	for i, host := range hosts {
		id := uint64(i + 1)
		n := topology.NewNode(id, fmt.Sprintf("N%d", id))
		n.Hostname = host
		if err := g.AddNode(n); err != nil {
			c.logger.Warn("cannot add synthesised node", logging.String("host", host), logging.Error(err))
		}
	}
	if len(hosts) > 0 {
		c.logger.Info("nodes synthesised", logging.Count(len(hosts)))
	}
}

// persist overwrites the save file with the canonical document.
func (c *Controller) persist(g *topology.Graph) error {
	if c.cfg.SaveFile == "" {
		return nil
	}
	data, err := g.Document().Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(c.cfg.SaveFile, data, 0o644)
}

// publish swaps in g and notifies everyone. It runs on the loop.
func (c *Controller) publish(g *topology.Graph, reason string) {
	c.graph.Store(g)
	c.hostnames.Invalidate()

	c.mu.Lock()
	c.loaded = true
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	c.logger.Info("topology changed",
		logging.String("reason", reason),
		logging.Int("nodes", g.Len()),
		logging.Int("links", g.LinkCount()))
	for _, l := range listeners {
		l.TopologyChanged()
	}

	if c.bus == nil {
		return
	}
	data, err := g.Document().Encode()
	if err != nil {
		c.logger.Error("cannot encode topology", logging.Error(err))
	}
	c.bus.Publish(pubsub.TopicTopologyChanged, Changed{
		Reason:   reason,
		Graph:    g,
		Document: data,
		At:       c.loop.Now(),
	})
}

func (c *Controller) stat() time.Time {
	fi, err := os.Stat(c.cfg.File)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

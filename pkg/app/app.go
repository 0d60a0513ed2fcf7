// Package app wires the controller components into one process.
package app

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-sdn/pkg/config"
	"github.com/dd0wney/cluso-sdn/pkg/controller"
	"github.com/dd0wney/cluso-sdn/pkg/eventloop"
	"github.com/dd0wney/cluso-sdn/pkg/export"
	"github.com/dd0wney/cluso-sdn/pkg/failover"
	"github.com/dd0wney/cluso-sdn/pkg/flowsync"
	"github.com/dd0wney/cluso-sdn/pkg/health"
	"github.com/dd0wney/cluso-sdn/pkg/linkutil"
	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/metrics"
	"github.com/dd0wney/cluso-sdn/pkg/openflow"
	"github.com/dd0wney/cluso-sdn/pkg/openflow/sim"
	"github.com/dd0wney/cluso-sdn/pkg/parallel"
	"github.com/dd0wney/cluso-sdn/pkg/probe"
	"github.com/dd0wney/cluso-sdn/pkg/pubsub"
	"github.com/dd0wney/cluso-sdn/pkg/resolve"
	"github.com/dd0wney/cluso-sdn/pkg/server"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

const (
	systemMetricsInterval = 15 * time.Second
	barrierBacklogLimit   = 100
	livenessTimeout       = time.Second
)

// Options configure an App. Config is required.
type Options struct {
	Config *config.Config
	Logger logging.Logger
	Clock  clockwork.Clock
	// Transport delivers switch events; nil runs without switches unless
	// Simulate is set.
	Transport openflow.Transport
	// Simulate runs an in-memory switch for every non-external node.
	Simulate bool
}

// App owns every component of a running controller.
type App struct {
	cfg     *config.Config
	logger  logging.Logger
	started time.Time

	loop      *eventloop.Loop
	metrics   *metrics.Registry
	bus       *pubsub.PubSub
	pool      *parallel.WorkerPool
	ctrl      *controller.Controller
	sync      *flowsync.Synchronizer
	failover  *failover.Manager
	links     *linkutil.Tracker
	health    *health.HealthChecker
	server    *server.GracefulServer
	exporter  *export.Exporter
	transport openflow.Transport
	sim       *sim.Network
}

func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	a := &App{
		cfg:       cfg,
		logger:    logger.With(logging.Component("app")),
		started:   clock.Now(),
		loop:      eventloop.New(clock, logger),
		metrics:   metrics.NewRegistry(),
		bus:       pubsub.NewPubSub(pubsub.DefaultBuffer, logger),
		transport: opts.Transport,
	}

	pool, err := parallel.NewWorkerPool(cfg.Probe.Workers, logger)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	prober := probe.DefaultICMP()
	prober.Count = cfg.Probe.Count
	prober.Timeout = cfg.Probe.Timeout
	prober.Privileged = cfg.Probe.Privileged

	a.ctrl, err = controller.New(controller.Config{
		File:              cfg.Topology.File,
		SaveFile:          cfg.Topology.SaveFile,
		Sources:           cfg.Topology.Sources,
		CheckAvailability: cfg.Topology.CheckAvailability,
		LinkGenerator:     cfg.Topology.LinkGenerator,
		PrefixLen:         cfg.Topology.PrefixLen,
		PollInterval:      cfg.Topology.PollInterval,
		Watch:             cfg.Topology.Watch,
		MaxNodeID:         cfg.Topology.MaxNodeID,
		HostnameTTL:       cfg.Topology.HostnameTTL,
	}, controller.Deps{
		Loop:     a.loop,
		Bus:      a.bus,
		Metrics:  a.metrics,
		Logger:   logger,
		Filter:   probe.NewFilter(prober, pool, a.metrics, logger),
		Resolver: a.resolver(),
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	codec := openflow.JSONCodec{}
	a.sync = flowsync.New(flowsync.Config{SettleDelay: cfg.Sync.SettleDelay}, a.loop, a.ctrl, codec, a.metrics, logger)

	triggers, err := cfg.TriggerTable()
	if err != nil {
		pool.Close()
		return nil, err
	}
	a.failover = failover.NewManager(failover.Config{Link: cfg.Failover.Link, Triggers: triggers},
		a.loop, a.ctrl, a.sync, codec, a.metrics, logger)
	a.sync.AddBarrierListener(a.failover)
	a.ctrl.AddListener(a.sync)
	a.ctrl.AddListener(a.failover)

	a.links = linkutil.New(clock, a.ctrl, a.bus, a.metrics, logger)

	if opts.Simulate {
		a.sim = sim.NewNetwork(codec, logger)
		a.transport = a.sim
		a.ctrl.AddListener(controller.ListenerFunc(a.addSimulatedSwitches))
	}

	if cfg.Export.Enabled {
		sock, err := export.Listen(cfg.Export.Transport, cfg.Export.Address)
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.exporter = export.New(sock, a.bus, a.metrics, logger, cfg.Export.Compress)
	}

	a.health = a.healthChecker(clock)
	a.server = server.NewGracefulServer(cfg.Server.Addr, server.NewHandler(server.Deps{
		Metrics:  a.metrics,
		Health:   a.health,
		Topology: a.ctrl,
		Failover: a.failover,
		Switches: a.sync,
		Loop:     a.loop,
		Logger:   logger,
	}), logger)
	a.server.SetShutdownTimeout(cfg.Server.ShutdownTimeout)
	a.server.SetReloadFunc(a.ctrl.Load)
	return a, nil
}

// resolver prefers configured servers over the system resolver
// configuration; without either, host names come from the document only.
func (a *App) resolver() topology.Resolver {
	rc := a.cfg.Resolver
	if len(rc.Servers) > 0 {
		return resolve.New(rc.Servers, rc.Timeout)
	}
	if rc.ResolvConf == "" {
		return nil
	}
	r, err := resolve.FromResolvConf(rc.ResolvConf, rc.Timeout)
	if err != nil {
		a.logger.Warn("reverse lookups disabled", logging.Path(rc.ResolvConf), logging.Error(err))
		return nil
	}
	return r
}

func (a *App) healthChecker(clock clockwork.Clock) *health.HealthChecker {
	hc := health.NewHealthChecker(clock)
	topo := health.TopologyCheck(func() (bool, int, int, int) {
		g := a.ctrl.Graph()
		return a.ctrl.Loaded(), g.Len(), g.LinkCount(), len(g.Routes())
	})
	hc.RegisterCheck("topology", topo)
	hc.RegisterCheck("switches", health.SwitchesCheck(a.sync.Summary))
	hc.RegisterCheck("barriers", health.BarrierCheck(a.sync.Barriers().Pending, barrierBacklogLimit))
	hc.RegisterReadinessCheck("topology", topo)
	hc.RegisterLivenessCheck("loop", func() health.Check {
		ctx, cancel := context.WithTimeout(context.Background(), livenessTimeout)
		defer cancel()
		if err := a.loop.Do(ctx, func() {}); err != nil {
			return health.Check{Status: health.StatusUnhealthy, Message: "event loop not responding: " + err.Error()}
		}
		return health.Check{Status: health.StatusHealthy}
	})
	return hc
}

// addSimulatedSwitches gives every switch node of the topology a simulated
// datapath. It runs on the loop.
func (a *App) addSimulatedSwitches() {
	for _, n := range a.ctrl.Graph().Nodes() {
		if n.External {
			continue
		}
		if _, ok := a.sim.Switch(n.ID); !ok {
			a.sim.AddSwitch(n.ID)
			a.logger.Debug("simulated switch added", logging.SwitchID(n.ID), logging.NodeName(n.Name))
		}
	}
}

// Run starts every component and blocks until ctx ends or one of them
// fails.
func (a *App) Run(ctx context.Context) error {
	defer a.pool.Close()
	defer a.bus.Shutdown()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.loop.Run(gctx) })

	if err := a.ctrl.Load(gctx); err != nil && gctx.Err() == nil {
		a.logger.Error("initial topology load failed", logging.Error(err))
	}

	sys := a.loop.Every(systemMetricsInterval, func() {
		queued, timers := a.loop.Pending()
		a.metrics.UpdateSystemMetrics(a.started, queued, timers)
	})
	defer sys.Stop()

	g.Go(func() error { return a.ctrl.Watch(gctx) })
	g.Go(func() error { return a.server.Run(gctx) })
	if a.transport != nil {
		h := Handler{Loop: a.loop, Sync: a.sync, Failover: a.failover, Links: a.links, Logger: a.logger}
		g.Go(func() error { return a.transport.Run(gctx, h) })
	} else {
		a.logger.Warn("no switch transport configured")
	}
	if a.exporter != nil {
		g.Go(func() error { return a.exporter.Run(gctx) })
	}

	a.logger.Info("controller running",
		logging.String("http", a.cfg.Server.Addr),
		logging.Int("pid", os.Getpid()))
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) Controller() *controller.Controller   { return a.ctrl }
func (a *App) Synchronizer() *flowsync.Synchronizer { return a.sync }
func (a *App) Failover() *failover.Manager          { return a.failover }
func (a *App) Server() *server.GracefulServer       { return a.server }
func (a *App) Metrics() *metrics.Registry           { return a.metrics }
func (a *App) Bus() *pubsub.PubSub                  { return a.bus }
func (a *App) Loop() *eventloop.Loop                { return a.loop }

// Simulation returns the simulated network, nil unless Simulate was set.
func (a *App) Simulation() *sim.Network { return a.sim }

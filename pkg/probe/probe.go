// Package probe checks whether candidate hosts answer before they are
// taken into a topology.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/metrics"
	"github.com/dd0wney/cluso-sdn/pkg/parallel"
)

var ErrUnreachable = errors.New("host unreachable")

// Prober decides whether one host is reachable.
type Prober interface {
	Probe(ctx context.Context, host string) error
}

// Func adapts a function to Prober.
type Func func(ctx context.Context, host string) error

func (f Func) Probe(ctx context.Context, host string) error { return f(ctx, host) }

// ICMP probes with echo requests.
type ICMP struct {
	Count    int
	Interval time.Duration
	Timeout  time.Duration
	// Privileged uses raw sockets instead of unprivileged datagram ICMP.
	Privileged bool
}

// DefaultICMP sends two echoes and waits at most two seconds.
func DefaultICMP() ICMP {
	return ICMP{Count: 2, Interval: 200 * time.Millisecond, Timeout: 2 * time.Second}
}

func (p ICMP) Probe(ctx context.Context, host string) error {
	pr := probing.New(host)
	pr.SetNetwork("ip4")
	if err := pr.Resolve(); err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	pr.Count = p.Count
	pr.Interval = p.Interval
	pr.Timeout = p.Timeout
	pr.RecordRtts = false
	pr.SetPrivileged(p.Privileged)
	pr.SetLogger(nil)

	if err := pr.RunWithContext(ctx); err != nil {
		return fmt.Errorf("ping %s (%s): %w", host, pr.IPAddr(), err)
	}
	if pr.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("%s: %w", host, ErrUnreachable)
	}
	return nil
}

// Filter probes hosts in parallel.
type Filter struct {
	prober  Prober
	pool    *parallel.WorkerPool
	metrics *metrics.Registry
	logger  logging.Logger
}

func NewFilter(p Prober, pool *parallel.WorkerPool, reg *metrics.Registry, logger logging.Logger) *Filter {
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Filter{prober: p, pool: pool, metrics: reg, logger: logger.With(logging.Component("probe"))}
}

// Reachable returns the hosts that answered, in their original order.
func (f *Filter) Reachable(ctx context.Context, hosts []string) []string {
	errs := parallel.Map(ctx, f.pool, hosts, func(ctx context.Context, host string) error {
		return f.prober.Probe(ctx, host)
	})

	out := make([]string, 0, len(hosts))
	for i, host := range hosts {
		// Hosts never probed because ctx ended count as unreachable.
		err := errs[i]
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			f.metrics.ReachabilityProbesTotal.WithLabelValues("unreachable").Inc()
			f.logger.Warn("host unreachable", logging.String("host", host), logging.Error(err))
			continue
		}
		f.metrics.ReachabilityProbesTotal.WithLabelValues("reachable").Inc()
		f.logger.Info("host reachable", logging.String("host", host))
		out = append(out, host)
	}
	return out
}

// Package resolve maps management addresses to host names with reverse
// DNS lookups.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

var ErrNoPTR = errors.New("no PTR record")

// DefaultTimeout bounds one exchange with one server.
const DefaultTimeout = 2 * time.Second

// PTR resolves addresses through the configured servers, trying them in
// order until one answers.
type PTR struct {
	client  *dns.Client
	servers []string
}

// New returns a resolver for servers given as host or host:port.
func New(servers []string, timeout time.Duration) *PTR {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	addrs := make([]string, len(servers))
	for i, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		addrs[i] = s
	}
	return &PTR{client: &dns.Client{Net: "udp", Timeout: timeout}, servers: addrs}
}

// FromResolvConf reads the servers of a resolv.conf style file.
func FromResolvConf(path string, timeout time.Duration) (*PTR, error) {
	conf, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	servers := make([]string, len(conf.Servers))
	for i, s := range conf.Servers {
		servers[i] = net.JoinHostPort(s, conf.Port)
	}
	return New(servers, timeout), nil
}

// LookupAddr returns the first PTR name of addr without the trailing dot.
func (r *PTR) LookupAddr(ctx context.Context, addr string) (string, error) {
	name, err := dns.ReverseAddr(addr)
	if err != nil {
		return "", err
	}
	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypePTR)

	lastErr := fmt.Errorf("%s: no servers configured", addr)
	for _, server := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = fmt.Errorf("query %s for %s: %w", server, addr, err)
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s: %s from %s: %w", addr, dns.RcodeToString[resp.Rcode], server, ErrNoPTR)
			continue
		}
		for _, rr := range resp.Answer {
			if ptr, ok := rr.(*dns.PTR); ok {
				return strings.TrimSuffix(ptr.Ptr, "."), nil
			}
		}
		return "", fmt.Errorf("%s: %w", addr, ErrNoPTR)
	}
	return "", lastErr
}

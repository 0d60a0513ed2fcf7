package resolve

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve answers PTR queries from records on a loopback UDP socket.
func serve(t *testing.T, records map[string]string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			resp := new(dns.Msg)
			resp.SetReply(req)
			q := req.Question[0]
			name, ok := records[q.Name]
			if !ok || q.Qtype != dns.TypePTR {
				resp.SetRcode(req, dns.RcodeNameError)
			} else {
				resp.Answer = append(resp.Answer, &dns.PTR{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 60},
					Ptr: name,
				})
			}
			_ = w.WriteMsg(resp)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestPTR_LookupAddr(t *testing.T) {
	addr := serve(t, map[string]string{
		"1.0.0.10.in-addr.arpa.": "n1.example.net.",
	})
	r := New([]string{addr}, time.Second)

	name, err := r.LookupAddr(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "n1.example.net", name)

	_, err = r.LookupAddr(context.Background(), "10.0.0.2")
	assert.ErrorIs(t, err, ErrNoPTR)
}

func TestPTR_FallsBackToNextServer(t *testing.T) {
	dead, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.LocalAddr().String()
	require.NoError(t, dead.Close())

	addr := serve(t, map[string]string{"2.0.0.10.in-addr.arpa.": "n2.example.net."})
	r := New([]string{deadAddr, addr}, 200*time.Millisecond)

	name, err := r.LookupAddr(context.Background(), "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, "n2.example.net", name)
}

func TestPTR_BadAddress(t *testing.T) {
	r := New(nil, 0)
	_, err := r.LookupAddr(context.Background(), "not-an-ip")
	assert.Error(t, err)

	_, err = r.LookupAddr(context.Background(), "10.0.0.1")
	assert.Error(t, err)
}

func TestNew_DefaultPort(t *testing.T) {
	r := New([]string{"192.0.2.53", "192.0.2.54:5353"}, 0)
	assert.Equal(t, []string{"192.0.2.53:53", "192.0.2.54:5353"}, r.servers)
	assert.Equal(t, DefaultTimeout, r.client.Timeout)
}

func TestFromResolvConf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	require.NoError(t, os.WriteFile(path, []byte("nameserver 192.0.2.1\nnameserver 192.0.2.2\n"), 0o644))

	r, err := FromResolvConf(path, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.1:53", "192.0.2.2:53"}, r.servers)

	_, err = FromResolvConf(filepath.Join(t.TempDir(), "missing"), time.Second)
	assert.Error(t, err)
}

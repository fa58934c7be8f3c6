package magpie

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// ReverseResolver resolves client IPs to hostnames via PTR lookups. The
// result is recorded in the connection trace and log lines only; delivery
// decisions never depend on it.
type ReverseResolver struct {
	servers []string
	client  *dns.Client
}

// NewReverseResolver creates a resolver using the given DNS servers in
// "host:port" form. With no servers, the system resolv.conf is used, with
// public resolvers as a last resort.
func NewReverseResolver(servers ...string) *ReverseResolver {
	if len(servers) == 0 {
		if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil {
			for _, server := range conf.Servers {
				servers = append(servers, net.JoinHostPort(server, conf.Port))
			}
		}
	}
	if len(servers) == 0 {
		servers = []string{"8.8.8.8:53", "1.1.1.1:53"}
	}

	return &ReverseResolver{
		servers: servers,
		client:  &dns.Client{Timeout: 3 * time.Second},
	}
}

// Lookup returns the first PTR name for ip, without the trailing dot.
func (r *ReverseResolver) Lookup(ctx context.Context, ip net.IP) (string, error) {
	arpa, err := dns.ReverseAddr(ip.String())
	if err != nil {
		return "", fmt.Errorf("smtp: reverse lookup of %s: %w", ip, err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		reply, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		for _, answer := range reply.Answer {
			if ptr, ok := answer.(*dns.PTR); ok {
				return strings.TrimSuffix(ptr.Ptr, "."), nil
			}
		}
		return "", fmt.Errorf("smtp: no PTR record for %s", ip)
	}

	return "", fmt.Errorf("smtp: reverse lookup of %s: %w", ip, lastErr)
}

// Package probe resolves connector hosts through DNS so that a connector can
// report an unreachable name before it attempts any API call.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	// DefaultTimeout is the default DNS query timeout.
	DefaultTimeout = 3 * time.Second

	defaultResolvConf = "/etc/resolv.conf"
)

// ErrNoAddresses is returned when a name resolves without any A or AAAA record.
var ErrNoAddresses = errors.New("no addresses found")

// Resolver looks up A and AAAA records against a single DNS server.
type Resolver struct {
	server     string
	resolvConf string
	timeout    time.Duration
	client     *dns.Client
}

// Option is a functional option for configuring a Resolver.
type Option func(*Resolver) error

// WithServer queries the given server instead of the first nameserver in
// /etc/resolv.conf. A missing port defaults to 53.
func WithServer(server string) Option {
	return func(r *Resolver) error {
		server = strings.TrimSpace(server)
		if server == "" {
			return nil
		}
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}
		r.server = server
		return nil
	}
}

// WithResolvConf reads the fallback nameserver from path.
func WithResolvConf(path string) Option {
	return func(r *Resolver) error {
		r.resolvConf = path
		return nil
	}
}

// WithTimeout sets the DNS query timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		r.timeout = d
		return nil
	}
}

// New creates a Resolver.
func New(opts ...Option) (*Resolver, error) {
	r := &Resolver{
		resolvConf: defaultResolvConf,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("probe: %w", err)
		}
	}

	if r.server == "" {
		conf, err := dns.ClientConfigFromFile(r.resolvConf)
		if err != nil {
			return nil, fmt.Errorf("probe: read %s: %w", r.resolvConf, err)
		}
		if len(conf.Servers) == 0 {
			return nil, fmt.Errorf("probe: no nameserver in %s", r.resolvConf)
		}
		r.server = net.JoinHostPort(conf.Servers[0], conf.Port)
	}

	r.client = &dns.Client{Timeout: r.timeout}
	return r, nil
}

// Server returns the host:port queried by the resolver.
func (r *Resolver) Server() string {
	return r.server
}

// Resolve returns the IPv4 and IPv6 addresses of host. IP literals and
// localhost are returned without a query.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]string, error) {
	host = strings.TrimSuffix(strings.TrimSpace(host), ".")
	if host == "" {
		return nil, errors.New("host must not be empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return []string{ip.String()}, nil
	}
	if strings.EqualFold(host, "localhost") {
		return []string{"127.0.0.1", "::1"}, nil
	}

	var addrs []string
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		found, err := r.query(ctx, host, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		addrs = append(addrs, found...)
	}
	if len(addrs) > 0 {
		return addrs, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("dns %s: %w", host, ErrNoAddresses)
}

func (r *Resolver) query(ctx context.Context, host string, qtype uint16) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, fmt.Errorf("dns %s %s: %w", dns.TypeToString[qtype], host, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns %s %s: rcode %s", dns.TypeToString[qtype], host, dns.RcodeToString[resp.Rcode])
	}

	addrs := make([]string, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		switch record := rr.(type) {
		case *dns.A:
			addrs = append(addrs, record.A.String())
		case *dns.AAAA:
			addrs = append(addrs, record.AAAA.String())
		}
	}
	return addrs, nil
}

// HostCheck returns a check handler that resolves the host of rawURL.
func (r *Resolver) HostCheck(rawURL string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		host, err := Host(rawURL)
		if err != nil {
			return "", err
		}
		addrs, err := r.Resolve(ctx, host)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s resolved to %s", host, strings.Join(addrs, ", ")), nil
	}
}

// Host extracts the host name of an absolute URL.
func Host(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return parsed.Hostname(), nil
}

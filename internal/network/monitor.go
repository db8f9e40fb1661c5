package network

import (
	"context"
	"net"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Prober checks whether the backend can be reached.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to a Prober.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// TCPProber dials the backend host.
type TCPProber struct {
	Addr    string
	Timeout time.Duration
}

// NewTCPProber builds a prober for the host of an API base URL.
func NewTCPProber(baseURL string, timeout time.Duration) (*TCPProber, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return &TCPProber{Addr: net.JoinHostPort(u.Hostname(), port), Timeout: timeout}, nil
}

func (p *TCPProber) Probe(ctx context.Context) bool {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Monitor polls a Prober and feeds the result into a Machine.
type Monitor struct {
	machine  *Machine
	prober   Prober
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewMonitor creates a connectivity monitor.
func NewMonitor(m *Machine, p Prober, interval time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{machine: m, prober: p, interval: interval, logger: logger}
}

// Start probes once and then on every interval until Stop.
func (mon *Monitor) Start(ctx context.Context) {
	ctx, mon.cancel = context.WithCancel(ctx)
	mon.done = make(chan struct{})
	go func() {
		defer close(mon.done)
		ticker := time.NewTicker(mon.interval)
		defer ticker.Stop()

		mon.Check(ctx)
		for {
			select {
			case <-ticker.C:
				mon.Check(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops polling and waits for the loop to exit.
func (mon *Monitor) Stop() {
	if mon.cancel != nil {
		mon.cancel()
		<-mon.done
	}
}

// Check runs a single probe.
func (mon *Monitor) Check(ctx context.Context) {
	online := mon.prober.Probe(ctx)
	if mon.machine.Set(online) {
		mon.logger.Info("connectivity changed", zap.String("state", string(mon.machine.Current())))
	}
}

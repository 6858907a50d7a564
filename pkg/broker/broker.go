// Package broker implements the daplinkd server: it accepts client
// connections on a unix or TCP socket, runs one goroutine per client
// dispatching wire.Request to a session.Session, and writes each command's
// result back on the wire as a response frame, or as an error frame when
// the command failed. Shutdown
// needs no self-pipe or wakeup channel: closing a Go net.Listener
// unblocks any goroutine parked in Accept with net.ErrClosed, so that's
// exactly what Shutdown does.
package broker

import (
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/otj-daplink/daplinkd/pkg/selection"
	"github.com/otj-daplink/daplinkd/pkg/session"
	"github.com/otj-daplink/daplinkd/pkg/wire"
)

var (
	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "daplinkd",
		Name:      "sessions_active",
		Help:      "Number of currently connected client sessions.",
	})
	commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daplinkd",
		Name:      "commands_total",
		Help:      "Commands handled, partitioned by command name and outcome.",
	}, []string{"command", "outcome"})
)

func init() {
	prometheus.MustRegister(sessionsActive, commandsTotal)
}

// Config controls how the broker binds and when it exits on its own.
type Config struct {
	// Address is either a filesystem path (unix socket) or a host:port
	// pair (TCP), auto-detected by the presence of a colon.
	Address string
	// Temporary, when set, makes Run return once the client count has
	// gone from zero to nonzero and back to zero again (--temporary
	// mode), instead of running until Shutdown is called.
	Temporary bool
}

// Broker owns the listening socket and the shared probe registry every
// session draws its board selections from.
type Broker struct {
	cfg      Config
	registry *selection.Registry

	mu       sync.Mutex
	listener net.Listener
	clients  int32
	sawAny   bool
	done     chan struct{}
}

// New constructs a broker that has not yet started listening.
func New(cfg Config) *Broker {
	return &Broker{
		cfg:      cfg,
		registry: selection.New(),
		done:     make(chan struct{}),
	}
}

func isTCPAddress(addr string) bool {
	return strings.Contains(addr, ":") && !strings.HasPrefix(addr, "/")
}

// Run binds the configured address and serves until Shutdown is called,
// or, in --temporary mode, until the client count returns to zero after
// having been nonzero at least once. It always unlinks a unix socket
// path it created, on the way out.
func (b *Broker) Run() error {
	network := "unix"
	addr := b.cfg.Address
	if isTCPAddress(addr) {
		network = "tcp"
	} else {
		os.Remove(addr)
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	if network == "unix" {
		if err := chmodSocket(addr); err != nil {
			glog.Warningf("broker: chmod %s: %v", addr, err)
		}
	}
	b.mu.Lock()
	b.listener = ln
	b.mu.Unlock()
	defer func() {
		ln.Close()
		if network == "unix" {
			os.Remove(addr)
		}
	}()

	glog.Infof("broker: listening on %s://%s", network, addr)

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if b.shuttingDown() {
				break
			}
			glog.Warningf("broker: accept: %v", err)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.serveClient(conn)
		}()
	}
	wg.Wait()
	return nil
}

func (b *Broker) shuttingDown() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Shutdown closes the listening socket, unblocking Run's Accept loop.
// It does not close connections that were already accepted: their
// sessions keep serving, and Run returns only after those clients have
// disconnected.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.done:
		return
	default:
		close(b.done)
	}
	if b.listener != nil {
		b.listener.Close()
	}
}

// ClientCount returns the number of currently connected clients.
func (b *Broker) ClientCount() int {
	return int(atomic.LoadInt32(&b.clients))
}

func (b *Broker) clientConnected() {
	n := atomic.AddInt32(&b.clients, 1)
	sessionsActive.Set(float64(n))
	b.mu.Lock()
	b.sawAny = true
	b.mu.Unlock()
}

func (b *Broker) clientDisconnected() {
	n := atomic.AddInt32(&b.clients, -1)
	sessionsActive.Set(float64(n))
	if !b.cfg.Temporary {
		return
	}
	b.mu.Lock()
	sawAny := b.sawAny
	b.mu.Unlock()
	if sawAny && n == 0 {
		b.Shutdown()
	}
}

func (b *Broker) serveClient(conn net.Conn) {
	corrID := uuid.New().String()
	glog.V(1).Infof("broker: client %s connected from %s", corrID, conn.RemoteAddr())
	b.clientConnected()
	defer func() {
		b.clientDisconnected()
		conn.Close()
		glog.V(1).Infof("broker: client %s disconnected", corrID)
	}()

	sess := session.New(b.registry)
	defer sess.Close()

	dec := wire.NewDecoder(conn)
	enc := wire.NewEncoder(conn)

	for {
		req, err := dec.ReadRequest()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				glog.V(2).Infof("broker: client %s: %v", corrID, err)
			}
			return
		}
		resp := sess.Handle(req)
		outcome := "ok"
		if resp.IsError() {
			outcome = "error"
		}
		commandsTotal.WithLabelValues(req.Command, outcome).Inc()
		if err := enc.WriteResponse(resp); err != nil {
			glog.V(1).Infof("broker: client %s: write: %v", corrID, err)
			return
		}
	}
}

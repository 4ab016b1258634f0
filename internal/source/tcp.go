// Package source implements concrete Pipeline Node entry points. TCP
// syslog is the reference source driver: a net.Listener that hands
// each accepted connection to the auto-detecting protocol server and
// forwards every decoded Event into a configured pipeline entry node.
//
// The read-loop and per-connection dispatch shape follows
// internal/monitors/file_monitor.go and
// internal/monitors/docker_json_parser.go's tailing loop, generalized
// here from tailing a file to accepting socket connections: each
// accepted connection gets its own goroutine (matching file_monitor's
// workerJob-per-line dispatch into its workerPool), and each decoded
// event is handed to the configured pipeline the same way a tailed
// line there is wrapped into a workerJob.
package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sswcorp/flowcore/pkg/event"
	"github.com/sswcorp/flowcore/pkg/handle"
	"github.com/sswcorp/flowcore/pkg/metrics"
	"github.com/sswcorp/flowcore/pkg/pipeline"
	"github.com/sswcorp/flowcore/pkg/protocol"
	"github.com/sswcorp/flowcore/pkg/transport"
	"github.com/sswcorp/flowcore/pkg/tracing"
)

// Config configures one TCP syslog listener.
type Config struct {
	Name          string
	Bind          string
	TLSConfig     *tls.Config
	ProxyProtocol bool
}

// TCPSource accepts connections on a TCP listener and feeds decoded
// events into Entry.
type TCPSource struct {
	cfg         Config
	registry    *handle.Registry
	tagRegistry *event.TagRegistry
	entry       pipeline.Node
	metrics     *metrics.Registry
	tracer      *tracing.Manager
	logger      *logrus.Logger

	ln net.Listener
	wg sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a TCPSource. entry is the compiled pipeline's first node;
// emit calls its Queue directly on the connection's goroutine.
func New(cfg Config, registry *handle.Registry, tagRegistry *event.TagRegistry, entry pipeline.Node, metricsReg *metrics.Registry, tracer *tracing.Manager, logger *logrus.Logger) *TCPSource {
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPSource{
		cfg:         cfg,
		registry:    registry,
		tagRegistry: tagRegistry,
		entry:       entry,
		metrics:     metricsReg,
		tracer:      tracer,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start binds the listener and launches the accept loop.
func (s *TCPSource) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Bind)
	if err != nil {
		return fmt.Errorf("source: listening on %s: %w", s.cfg.Bind, err)
	}
	s.ln = ln

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.WithFields(logrus.Fields{
		"listener": s.cfg.Name,
		"bind":     s.cfg.Bind,
	}).Info("source: tcp syslog listener started")
	return nil
}

// Stop closes the listener and waits for every in-flight connection
// handler to exit.
func (s *TCPSource) Stop() error {
	s.cancel()
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *TCPSource) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.logger.WithError(err).Warn("source: accept failed")
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *TCPSource) handleConn(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	connID := uuid.NewString()

	var layer transport.Layer = transport.NewStreamLayer(netConn)
	if s.cfg.ProxyProtocol {
		proxyLayer := transport.NewProxyProtoLayer(layer)
		if err := proxyLayer.ConsumePreamble(); err != nil {
			s.logger.WithField("conn_id", connID).WithError(err).Debug("source: PROXY preamble")
			return
		}
		layer = proxyLayer
	}

	if s.tracer != nil {
		_, span := s.tracer.StartProtocolDetect(context.Background(), s.cfg.Name)
		defer span.End()
	}

	c := protocol.NewConn(layer, s.cfg.TLSConfig, s.registry, s.tagRegistry)
	err := c.Run(func(ev *event.Event) error {
		return s.emit(ev)
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"listener": s.cfg.Name,
			"remote":   netConn.RemoteAddr(),
			"conn_id":  connID,
			"error":    err,
		}).Debug("source: connection closed")
	}
	if s.metrics != nil {
		s.metrics.IncDetectOutcome(s.cfg.Name, c.State().String())
	}
}

// emit hands a decoded event to the configured pipeline entry node,
// requesting an ack so the originating connection can eventually learn
// the delivery outcome (used for flow control on a future bidirectional
// transport; a bare syslog socket has nowhere to propagate it today).
func (s *TCPSource) emit(ev *event.Event) error {
	po := event.DefaultPathOptions().WithAckNeeded(true)
	ev.SetAckCallback(func(e *event.Event, outcome event.Outcome) {}, nil)
	if s.entry == nil {
		ev.Ack(po, event.Processed)
		return nil
	}
	return s.entry.Queue(ev, po)
}

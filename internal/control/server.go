// Package control implements the Unix-domain-socket control protocol: a
// length-prefixed text command/response channel used by an operator CLI
// to reload configuration, request shutdown, adjust log verbosity,
// inspect queue/position state, and attach to live log output.
//
// Each accepted connection gets its own handler goroutine tracked by a
// WaitGroup, the same lifecycle pattern pkg/task_manager uses for its
// background tasks. Unlike the config-file watcher's RELOAD path, a
// command arriving here is applied immediately: an operator issuing
// RELOAD has already made the decision, so no debounce window applies.
package control

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handlers bundles the callbacks the control socket dispatches
// commands to; each maps to one named command the protocol supports.
type Handlers struct {
	// Reload re-reads and installs configuration under the worker-sync
	// barrier. Returns an error to report FAIL with its message.
	Reload func() error
	// Stop initiates graceful process shutdown.
	Stop func() error
	// Reopen re-opens any file-based destination handles (log rotation).
	Reopen func() error
	// SetLogLevel adjusts the running logger's verbosity.
	SetLogLevel func(level logrus.Level) error
	// ConfigID returns a short identifier for the currently active config.
	ConfigID func() string
	// ConfigGet returns a text rendering of the currently active
	// configuration.
	ConfigGet func() string
	// ConfigVerify validates a candidate configuration without installing it.
	ConfigVerify func() error
	// PWDStatus reports the current source-position/backlog state.
	PWDStatus func() string
	// PWDAdd records an externally-supplied position entry.
	PWDAdd func(arg string) error
	// ListFiles reports the names of the running process's configured
	// destinations.
	ListFiles func() []string
	// ExportConfigGraph renders the compiled pipeline DAG as text
	// (e.g. Graphviz dot), for EXPORT_CONFIG_GRAPH.
	ExportConfigGraph func() string
	// AttachLogs streams subsequent log lines to w until the
	// connection or context closes; used by ATTACH LOGS.
	AttachLogs func(w io.Writer, stop <-chan struct{})
}

// Server accepts connections on a Unix domain socket and dispatches
// each line-oriented command to Handlers.
type Server struct {
	socketPath string
	logger     *logrus.Logger
	handlers   Handlers

	ln net.Listener
	wg sync.WaitGroup
}

// New binds a Server to socketPath. Any stale socket file left behind
// by a previous unclean shutdown is removed first.
func New(socketPath string, handlers Handlers, logger *logrus.Logger) (*Server, error) {
	os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("control: listening on %s: %w", socketPath, err)
	}
	return &Server{socketPath: socketPath, logger: logger, handlers: handlers, ln: ln}, nil
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

// Close stops accepting connections, waits for in-flight handlers to
// finish, and removes the socket file.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	os.Remove(s.socketPath)
	return err
}

// writeFrame writes a length-prefixed (4-byte big-endian) response
// frame, the same framing the command channel reads requests with.
func writeFrame(w io.Writer, payload string) error {
	buf := []byte(payload)
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(buf)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

func readFrame(r *bufio.Reader) (string, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		line, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				s.logger.WithError(err).Debug("control: reading command frame")
			}
			return
		}

		resp, unixConn := s.dispatch(conn, strings.TrimSpace(line))
		if unixConn != nil {
			return // ATTACH already wrote its own response frame and took over the connection.
		}
		if err := writeFrame(conn, resp); err != nil {
			s.logger.WithError(err).Debug("control: writing response frame")
			return
		}
	}
}

// dispatch parses and runs one command line, returning the response
// frame text. unixConn is non-nil only for ATTACH, signaling the
// command loop to stop reading further commands on this connection.
func (s *Server) dispatch(conn net.Conn, line string) (resp string, unixConn *net.UnixConn) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "FAIL empty command", nil
	}
	cmd := strings.ToUpper(fields[0])
	args := fields[1:]

	switch cmd {
	case "RELOAD":
		return s.runOrFail(s.handlers.Reload), nil

	case "STOP":
		return s.runOrFail(s.handlers.Stop), nil

	case "REOPEN":
		return s.runOrFail(s.handlers.Reopen), nil

	case "LOG":
		if len(args) != 2 || strings.ToUpper(args[0]) != "LEVEL" {
			return "FAIL usage: LOG LEVEL <n>", nil
		}
		return s.handleLogLevel(args[1]), nil

	case "CONFIG":
		if len(args) != 1 {
			return "FAIL usage: CONFIG ID|GET|VERIFY", nil
		}
		return s.handleConfig(strings.ToUpper(args[0])), nil

	case "PWD":
		if len(args) == 0 {
			return "FAIL usage: PWD status|add <entry>", nil
		}
		return s.handlePWD(args), nil

	case "LISTFILES":
		files := s.handlers.ListFiles()
		return "OK " + strings.Join(files, ","), nil

	case "EXPORT_CONFIG_GRAPH":
		if s.handlers.ExportConfigGraph == nil {
			return "FAIL not supported", nil
		}
		return "OK " + s.handlers.ExportConfigGraph(), nil

	case "ATTACH":
		if len(args) == 0 {
			return "FAIL usage: ATTACH STDIO|LOGS|DEBUGGER", nil
		}
		return s.handleAttach(conn, args)

	default:
		return fmt.Sprintf("FAIL unknown command %q", cmd), nil
	}
}

func (s *Server) runOrFail(fn func() error) string {
	if fn == nil {
		return "FAIL not supported"
	}
	if err := fn(); err != nil {
		return "FAIL " + err.Error()
	}
	return "OK"
}

func (s *Server) handleLogLevel(levelArg string) string {
	n, err := strconv.Atoi(levelArg)
	if err != nil {
		return "FAIL LOG LEVEL requires an integer 0-6"
	}
	if n < 0 || n > int(logrus.TraceLevel) {
		return fmt.Sprintf("FAIL LOG LEVEL must be 0-%d", int(logrus.TraceLevel))
	}
	if s.handlers.SetLogLevel == nil {
		return "FAIL not supported"
	}
	if err := s.handlers.SetLogLevel(logrus.Level(n)); err != nil {
		return "FAIL " + err.Error()
	}
	return "OK"
}

func (s *Server) handleConfig(sub string) string {
	switch sub {
	case "ID":
		if s.handlers.ConfigID == nil {
			return "FAIL not supported"
		}
		return "OK " + s.handlers.ConfigID()
	case "GET":
		if s.handlers.ConfigGet == nil {
			return "FAIL not supported"
		}
		return "OK " + s.handlers.ConfigGet()
	case "VERIFY":
		return s.runOrFail(s.handlers.ConfigVerify)
	default:
		return "FAIL usage: CONFIG ID|GET|VERIFY"
	}
}

func (s *Server) handlePWD(args []string) string {
	switch strings.ToUpper(args[0]) {
	case "STATUS":
		if s.handlers.PWDStatus == nil {
			return "FAIL not supported"
		}
		return "OK " + s.handlers.PWDStatus()
	case "ADD":
		if len(args) < 2 {
			return "FAIL usage: PWD add <entry>"
		}
		if s.handlers.PWDAdd == nil {
			return "FAIL not supported"
		}
		if err := s.handlers.PWDAdd(strings.Join(args[1:], " ")); err != nil {
			return "FAIL " + err.Error()
		}
		return "OK"
	default:
		return "FAIL usage: PWD status|add <entry>"
	}
}

// handleAttach implements ATTACH STDIO|LOGS|DEBUGGER. Only LOGS is
// fully implemented (streaming subsequent log lines over the same
// connection); STDIO/DEBUGGER are answered with FAIL because this build
// includes no interactive debugger.
func (s *Server) handleAttach(conn net.Conn, args []string) (string, *net.UnixConn) {
	mode := strings.ToUpper(args[0])
	switch mode {
	case "LOGS":
		uc, ok := conn.(*net.UnixConn)
		if !ok || s.handlers.AttachLogs == nil {
			return "FAIL ATTACH LOGS requires a unix socket connection", nil
		}
		if err := writeFrame(conn, "OK streaming"); err != nil {
			return "", nil
		}
		stop := make(chan struct{})
		go func() {
			var buf [1]byte
			conn.Read(buf[:]) // unblocks once the peer closes the connection
			close(stop)
		}()
		s.handlers.AttachLogs(conn, stop)
		return "", uc
	case "STDIO", "DEBUGGER":
		return "FAIL " + mode + " attach requires the interactive debugger, not built", nil
	default:
		return "FAIL usage: ATTACH STDIO|LOGS|DEBUGGER", nil
	}
}

// SendFD passes an open file descriptor to a Unix socket peer via
// SCM_RIGHTS, for handing off a log file or terminal descriptor rather
// than proxying its bytes. ATTACH LOGS does not use it: it streams log
// lines over the command connection itself.
func SendFD(conn *net.UnixConn, fd uintptr, name string) error {
	rights := unixRights(int(fd))
	_, _, err := conn.WriteMsgUnix([]byte(name), rights, nil)
	return err
}

package server

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/paulbellamy/ratecounter"
	"github.com/pkg/errors"
	"golang.org/x/net/netutil"

	"github.com/andrewlidong/keystonelight/logger"
	"github.com/andrewlidong/keystonelight/storage/engine"
)

const (
	defaultAddr       = "127.0.0.1:7878"
	defaultWorkers    = 4
	defaultMaxClients = 100

	bindRetryInterval = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type Config struct {
	Addr       string         `json:"addr"`
	Workers    int            `json:"workers"`
	MaxClients int            `json:"max_clients"`
	Logger     *logger.Logger `json:"-"`
}

func DefaultConfig() *Config {
	return &Config{
		Addr:       defaultAddr,
		Workers:    defaultWorkers,
		MaxClients: defaultMaxClients,
	}
}

type counters struct {
	sets        int64
	gets        int64
	deletes     int64
	compactions int64
}

// Server accepts line-oriented commands over TCP and executes them against
// the storage engine. Connections are handled by a fixed-size worker pool;
// when every worker is busy the accept loop blocks until one frees up.
type Server struct {
	counters

	config     *Config
	engine     *engine.DB
	logger     *logger.Logger
	pool       *ants.Pool
	setRate    *ratecounter.RateCounter
	getRate    *ratecounter.RateCounter
	deleteRate *ratecounter.RateCounter

	mu       sync.Mutex
	listener net.Listener
	closed   bool

	connMu      sync.Mutex
	connections map[net.Conn]struct{}

	quit  chan struct{}
	fatal chan error
}

// NewServer opens the storage engine and builds the worker pool. The engine
// options are passed through to engine.Open.
func NewServer(config *Config, engineConfig *engine.Config, options ...engine.Option) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Addr == "" {
		config.Addr = defaultAddr
	}
	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}
	if config.MaxClients <= 0 {
		config.MaxClients = defaultMaxClients
	}
	logr := config.Logger
	if logr == nil {
		logr = logger.Default()
	}

	db, err := engine.Open(engineConfig, options...)
	if err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(config.Workers, ants.WithPanicHandler(func(v interface{}) {
		logr.Error("connection handler panic: %v", v)
	}))
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create worker pool")
	}

	return &Server{
		config:      config,
		engine:      db,
		logger:      logr,
		pool:        pool,
		setRate:     ratecounter.NewRateCounter(time.Second),
		getRate:     ratecounter.NewRateCounter(time.Second),
		deleteRate:  ratecounter.NewRateCounter(time.Second),
		connections: make(map[net.Conn]struct{}),
		quit:        make(chan struct{}),
		fatal:       make(chan error, 1),
	}, nil
}

// ListenAndServe binds the configured address and serves until Shutdown. If
// the bind fails it logs the error and retries every five seconds, so a
// restarting server waits out a predecessor that has not yet released the
// port.
func (s *Server) ListenAndServe() error {
	var listener net.Listener
	for {
		var err error
		listener, err = net.Listen("tcp", s.config.Addr)
		if err == nil {
			break
		}
		s.logger.Error("bind %s: %v, retrying in %s", s.config.Addr, err, bindRetryInterval)
		select {
		case <-s.quit:
			return nil
		case <-time.After(bindRetryInterval):
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = netutil.LimitListener(listener, s.config.MaxClients)
	s.mu.Unlock()

	s.logger.Info("Listening on %s", listener.Addr())
	s.acceptLoop()
	return nil
}

// Addr reports the bound listen address, or "" before the bind succeeds.
// Useful when the configured address picks an ephemeral port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Fatal reports unrecoverable engine failures observed while serving. The
// channel receives at most one error.
func (s *Server) Fatal() <-chan error {
	return s.fatal
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			s.logger.Error("accept: %v", err)
			continue
		}

		s.connMu.Lock()
		s.connections[conn] = struct{}{}
		s.connMu.Unlock()

		if err := s.pool.Submit(func() { s.handleConn(conn) }); err != nil {
			s.dropConn(conn)
			s.logger.Error("dispatch connection: %v", err)
		}
	}
}

func (s *Server) dropConn(conn net.Conn) {
	conn.Close()
	s.connMu.Lock()
	delete(s.connections, conn)
	s.connMu.Unlock()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.dropConn(conn)

	s.logger.Debug("client connected: %s", conn.RemoteAddr())

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("connection read: %v", err)
			}
			return
		}
		response, quit := s.execute(strings.TrimSuffix(line, "\n"))
		writer.WriteString(response)
		writer.WriteByte('\n')
		if err := writer.Flush(); err != nil {
			s.logger.Debug("write response: %v", err)
			return
		}
		if quit {
			return
		}
	}
}

// execute runs a single request line and renders the one-line response. The
// second return value reports whether the connection should close after the
// response is written.
func (s *Server) execute(line string) (string, bool) {
	cmd, err := ParseCommand(line)
	if err != nil {
		return s.errorResponse(err), false
	}

	switch cmd.Verb {
	case VerbGet:
		atomic.AddInt64(&s.gets, 1)
		s.getRate.Incr(1)
		value, err := s.engine.Get(cmd.Key)
		if err != nil {
			if errors.Is(err, engine.ErrKeyNotFound) {
				return responseNotFound, false
			}
			return s.errorResponse(err), false
		}
		return string(value), false
	case VerbSet:
		atomic.AddInt64(&s.sets, 1)
		s.setRate.Incr(1)
		if err := s.engine.Set(cmd.Key, cmd.Value); err != nil {
			return s.errorResponse(err), false
		}
		return responseOK, false
	case VerbDelete:
		atomic.AddInt64(&s.deletes, 1)
		s.deleteRate.Incr(1)
		if _, err := s.engine.Delete(cmd.Key); err != nil {
			return s.errorResponse(err), false
		}
		return responseOK, false
	case VerbCompact:
		atomic.AddInt64(&s.compactions, 1)
		if err := s.engine.Compact(); err != nil {
			return s.errorResponse(err), false
		}
		return responseOK, false
	case VerbQuit:
		return responseOK, true
	case VerbHelp:
		return helpText, false
	}
	return s.errorResponse(ErrInvalidCommand), false
}

func (s *Server) errorResponse(err error) string {
	var fatal *engine.FatalError
	if errors.As(err, &fatal) {
		select {
		case s.fatal <- err:
		default:
		}
	}
	return "ERROR " + err.Error()
}

// Shutdown stops accepting connections, closes the live ones, drains the
// worker pool and closes the engine. It is safe to call more than once.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	s.connMu.Lock()
	for conn := range s.connections {
		conn.Close()
	}
	s.connMu.Unlock()

	if err := s.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		s.logger.Warn("release worker pool: %v", err)
	}

	if err := s.engine.Close(); err != nil && !errors.Is(err, engine.ErrDatabaseClosed) {
		return err
	}
	s.logger.Info("Server stopped")
	return nil
}

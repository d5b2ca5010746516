package irc

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dollspace-gay/concord/engine"
	"github.com/dollspace-gay/concord/engine/ratelimit"
	"github.com/dollspace-gay/concord/shared/concurrentmap"
	"github.com/dollspace-gay/concord/store"
)

// Per-connection command pacer, per §4.H: a denied command is dropped
// silently (no reply), distinct from the engine's own per-nickname
// message-send limiter.
const (
	commandPacerBurst      = 10
	commandPacerRefillRate = 2.0
)

// whowasRingMax bounds the in-memory WHOWAS history per server.
const whowasRingMax = 512

// Server holds the state of one line-protocol listener. Grounded on
// the teacher's Server, narrowed: active connection/user/nick state
// now lives entirely in engine.Engine, so Server only tracks wire-level
// configuration plus the set of live Conns it owns.
type Server struct {
	sync.RWMutex

	listenAddr string
	hostname   string
	motd       string
	welcome    string
	support    concurrentmap.ConcurrentMap[string, string]

	Engine *engine.Engine
	Store  store.Adapter
	Conns  concurrentmap.ConcurrentMap[string, *Conn]
	Router *Router
	Pacer  *ratelimit.Limiter
	log    *logrus.Entry

	recentlyQuit *whowasRing

	TLSConfig *tls.Config
	listener  net.Listener
}

// NewServer initializes and returns a new Server bound to the given
// engine.
func NewServer(eng *engine.Engine, adapter store.Adapter, log *logrus.Entry) *Server {
	srv := &Server{
		Engine:       eng,
		Store:        adapter,
		Conns:        concurrentmap.New[string, *Conn](),
		support:      concurrentmap.New[string, string](),
		Pacer:        ratelimit.New(commandPacerBurst, commandPacerRefillRate),
		recentlyQuit: newWhowasRing(whowasRingMax),
		log:          log,
	}
	srv.setISupport()
	srv.Router = registerHandlers(log)
	return srv
}

func (server *Server) Address() string {
	server.RLock()
	defer server.RUnlock()

	if len(server.listenAddr) < 1 {
		if server.listener != nil {
			return server.listener.Addr().String()
		}
		return ""
	}
	return server.listenAddr
}

func (server *Server) SetAddress(addr string) {
	server.Lock()
	defer server.Unlock()
	server.listenAddr = addr
}

func (server *Server) Hostname() string {
	server.RLock()
	defer server.RUnlock()

	if len(server.hostname) < 1 {
		if server.listener != nil {
			return server.listener.Addr().String()
		}
		return "concord"
	}
	return server.hostname
}

func (server *Server) SetHostname(host string) {
	server.Lock()
	defer server.Unlock()
	server.hostname = host
}

func (server *Server) MOTD() string {
	server.RLock()
	defer server.RUnlock()
	if len(server.motd) < 1 {
		return "No MOTD configured."
	}
	return server.motd
}

func (server *Server) SetMOTD(motd string) {
	server.Lock()
	defer server.Unlock()
	server.motd = motd
}

// ISupport returns a slice of formatted ISupport key=value pairs for
// the 005 numeric burst.
func (server *Server) ISupport() []string {
	keys := server.support.Keys()
	support := make([]string, 0, len(keys))
	var buffer bytes.Buffer

	for _, key := range keys {
		val, _ := server.support.Get(key)
		buffer.WriteString(strings.ToUpper(key))
		if len(val) > 0 {
			buffer.WriteString("=")
			buffer.WriteString(val)
		}
		support = append(support, buffer.String())
		buffer.Reset()
	}

	return support
}

func (server *Server) setISupport() {
	server.support.Set("casemapping", "ascii")
	server.support.Set("prefix", "(ov)@+")
	server.support.Set("maxpara", fmt.Sprint(MaxMsgParams))
	server.support.Set("nicklen", fmt.Sprint(MaxNickLength))
	server.support.Set("chanlen", fmt.Sprint(MaxChanLength))
	server.support.Set("topiclen", fmt.Sprint(MaxTopicLength))
	server.support.Set("awaylen", fmt.Sprint(MaxAwayLength))
	server.support.Set("maxlist", fmt.Sprintf("b:%v", MaxListItems))
}

// ListenAndServe listens on the TCP network address srv.Address() and
// then calls Serve to handle the incoming irc.Conn sessions. If
// srv.Address() is blank, ":6667" is used.
func (server *Server) ListenAndServe() error {
	addr := server.Address()
	if addr == "" {
		addr = ":6667"
	}

	listen, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return server.Serve(tcpKeepAliveListener{listen.(*net.TCPListener)})
}

// ListenAndServeTLS is the TLS equivalent of ListenAndServe. If
// srv.Address() is blank, ":6697" is used.
func (server *Server) ListenAndServeTLS(certFile, keyFile string) error {
	addr := server.Address()
	if addr == "" {
		addr = ":6697"
	}

	config := cloneTLSConfig(server.TLSConfig)

	configHasCert := len(config.Certificates) > 0 || config.GetCertificate != nil
	if !configHasCert || certFile != "" || keyFile != "" {
		var err error
		config.Certificates = make([]tls.Certificate, 1)
		config.Certificates[0], err = tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return err
		}
	}

	listen, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	tlsListener := tls.NewListener(tcpKeepAliveListener{listen.(*net.TCPListener)}, config)
	return server.Serve(tlsListener)
}

// Serve accepts connections on the given net.Listener and assigns each
// one to a new Conn.
func (server *Server) Serve(listen net.Listener) error {
	defer listen.Close()

	server.log.Infof("irc: listening at %s", listen.Addr())

	var tempDelay time.Duration

	for {
		sock, err := listen.Accept()
		if err != nil {
			if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				server.log.Errorf("irc: accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}

		tempDelay = 0
		conn := NewConn(server, sock)
		go serve(conn)
	}
}

func cloneTLSConfig(cfg *tls.Config) *tls.Config {
	if cfg == nil {
		return &tls.Config{}
	}
	return cfg.Clone()
}

// tcpKeepAliveListener sets TCP keep-alive timeouts on accepted
// connections so dead sockets eventually go away.
type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (listen tcpKeepAliveListener) Accept() (net.Conn, error) {
	conn, err := listen.AcceptTCP()
	if err != nil {
		return nil, err
	}
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(IdleTimeout)
	return conn, nil
}

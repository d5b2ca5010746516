package irc

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/btnmasher/random"

	"github.com/dollspace-gay/concord/engine"
)

// Conn represents the server side of one line-protocol connection.
// Grounded on the teacher's Conn, narrowed: the registration/channel
// membership state the teacher kept on Conn/User/ChanMap now all lives
// in the engine's Session and graph, so Conn only holds wire-level
// plumbing plus a pointer to its engine.Session once registered.
type Conn struct {
	sync.RWMutex

	server *Server
	sock   net.Conn

	remAddr string

	sess     *engine.Session
	tenantID string

	nick string
	user string
	real string
	pass string

	capabilities  Capabilities
	capNegotiated bool
	saslInFlight  bool

	incoming *bufio.Scanner
	outgoing *bufio.Writer

	writeQueue chan *bytes.Buffer

	heartbeat *time.Timer

	lastPingSent string
	lastPingRecv string

	kill chan bool

	timeoutForced bool
	registered    bool
}

// NewConn initializes a new Conn bound to the given Server.
func NewConn(srv *Server, sck net.Conn) *Conn {
	conn := &Conn{
		server:     srv,
		sock:       sck,
		heartbeat:  time.NewTimer(IdleTimeout),
		incoming:   bufio.NewScanner(sck),
		outgoing:   bufio.NewWriter(sck),
		writeQueue: make(chan *bytes.Buffer, WriteQueueLength),
		kill:       make(chan bool, 5),
		tenantID:   srv.defaultTenant(),
	}
	conn.incoming.Buffer(make([]byte, 0, 512), MaxMsgLength)
	return conn
}

func serve(conn *Conn) {
	defer conn.cleanup()
	conn.start()

	defer func() {
		if err := recover(); err != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			conn.server.log.Errorf("irc: panic serving %s: %v\n%s", conn.remAddr, err, buf)
			conn.doQuit("Server Error.")
		}
		conn.sock.Close()
	}()

	if tlsConn, ok := conn.sock.(*tls.Conn); ok {
		conn.setDeadlines()
		if err := tlsConn.Handshake(); err != nil {
			conn.server.log.Errorf("irc: TLS handshake error from %s: %s", conn.remAddr, err)
			return
		}
	}

	go conn.writeLoop()
	conn.readLoop()
}

func (conn *Conn) start() {
	conn.Lock()
	defer conn.Unlock()

	conn.remAddr = conn.sock.RemoteAddr().String()
	conn.server.log.Debugf("irc: new connection from %s", conn.remAddr)
	conn.server.Conns.Set(conn.remAddr, conn)
}

func (conn *Conn) readLoop() {
	for {
		conn.setReadDeadline()

		if !conn.incoming.Scan() {
			defer func() { conn.kill <- true }()

			if err := conn.incoming.Err(); err != nil {
				if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
					if !conn.timeoutForced {
						conn.server.log.Infof("irc: connection timed out for %s", conn.remAddr)
						conn.doQuit("Connection timeout.")
					}
				} else {
					conn.server.log.Error(err)
				}
			}

			conn.sock.Close()
			return
		}

		data := conn.incoming.Text()
		msg, err := Parse(data)
		if err != nil {
			conn.server.log.Debugf("irc: malformed message from %s: %s", conn.remAddr, err)
			continue
		}

		conn.heartbeat.Reset(IdleTimeout)
		conn.server.Router.RouteCommand(conn, msg)
	}
}

// eventLoop drains this connection's engine outbound queue and
// translates each Event to wire frames. It exits once the queue has
// been closed by Disconnect.
func (conn *Conn) eventLoop() {
	sess := conn.session()
	if sess == nil {
		return
	}

	q := sess.Outbound()
	for {
		ev, ok := q.Next()
		if !ok {
			return
		}
		conn.writeEvent(ev)
	}
}

func (conn *Conn) writeLoop() {
	for {
		select {
		case <-conn.kill:
			conn.forceTimeout()
			return

		case buf := <-conn.writeQueue:
			conn.write(buf)

		case <-conn.heartbeat.C:
			conn.doHeartbeat()
		}
	}
}

// Write hands a rendered buffer to the write-queue goroutine.
func (conn *Conn) Write(buffer *bytes.Buffer) {
	if buffer.Len() > MaxMsgLength {
		conn.server.log.Errorf("irc: message too long for %s, dropped", conn.remAddr)
		bufferPool.Recycle(buffer)
		return
	}
	conn.writeQueue <- buffer
}

func (conn *Conn) write(buffer *bytes.Buffer) {
	defer func() {
		bufferPool.Recycle(buffer)
		if err := recover(); err != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			conn.server.log.Errorf("irc: panic writing to %s: %v\n%s", conn.remAddr, err, buf)
			conn.doQuit("Socket Error.")
		}
	}()

	conn.setWriteDeadline()

	if _, err := conn.outgoing.Write(buffer.Bytes()); err != nil {
		conn.server.log.Errorf("irc: write error for %s: %s", conn.remAddr, err)
		conn.doQuit("Socket Error.")
		return
	}

	if err := conn.outgoing.Flush(); err != nil {
		conn.server.log.Errorf("irc: flush error for %s: %s", conn.remAddr, err)
		conn.doQuit("Socket Error.")
		return
	}
}

func (conn *Conn) doHeartbeat() {
	conn.Lock()
	defer conn.Unlock()

	if conn.lastPingRecv != conn.lastPingSent && conn.lastPingSent != "" {
		conn.heartbeat.Stop()
		conn.server.log.Debugf("irc: PING timeout for %s", conn.remAddr)
		conn.doQuit("Connection timeout.")
		return
	}

	str := random.String(10)
	msg := msgPool.New()
	msg.Command = CmdPing
	msg.Text = str
	conn.lastPingSent = str
	conn.heartbeat.Reset(IdleTimeout)
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

// doQuit tears down the engine-side session (if registered) and signals
// the writer/event goroutines to stop.
func (conn *Conn) doQuit(reason string) {
	sess := conn.session()
	if sess != nil {
		if reason == "" {
			reason = "Client issued QUIT command."
		}
		conn.server.Engine.Disconnect(sess.ID(), reason)
	}
	select {
	case conn.kill <- true:
	default:
	}
}

func (conn *Conn) cleanup() {
	conn.server.Conns.Delete(conn.remAddr)
	sess := conn.session()
	if sess != nil {
		conn.server.recentlyQuit.record(sess.Nick(), conn.hostmask())
		conn.server.Engine.Disconnect(sess.ID(), "Connection closed.")
	}
}

func (conn *Conn) session() *engine.Session {
	conn.RLock()
	defer conn.RUnlock()
	return conn.sess
}

func (conn *Conn) setSession(sess *engine.Session) {
	conn.Lock()
	defer conn.Unlock()
	conn.sess = sess
	conn.registered = true
	go conn.eventLoop()
}

func (conn *Conn) isRegistered() bool {
	conn.RLock()
	defer conn.RUnlock()
	return conn.registered
}

func (conn *Conn) setWriteDeadline() {
	if WriteTimeout != 0 {
		conn.sock.SetWriteDeadline(time.Now().Add(WriteTimeout))
	}
}

func (conn *Conn) setReadDeadline() {
	if IdleTimeout != 0 {
		conn.sock.SetReadDeadline(time.Now().Add(IdleTimeout))
	}
}

func (conn *Conn) forceTimeout() {
	conn.Lock()
	defer conn.Unlock()
	conn.timeoutForced = true
	conn.sock.SetReadDeadline(time.Now().Add(time.Microsecond))
}

func (conn *Conn) setDeadlines() {
	conn.setReadDeadline()
	conn.setWriteDeadline()
}

func (conn *Conn) newMessage() *Message {
	msg := msgPool.New()
	msg.Sender = conn.server.Hostname()
	return msg
}

// context returns a background context for engine calls made from
// command handlers; the line protocol has no per-request deadline of
// its own beyond the connection's own read/write timeouts.
func (conn *Conn) context() context.Context {
	return context.Background()
}

func (conn *Conn) replyUnknownCommand(command string) {
	msg := conn.newMessage()
	msg.Code = ReplyUnknownCommand
	msg.Params = []string{conn.displayNick(), command}
	msg.Text = "Unknown command"
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

func (conn *Conn) displayNick() string {
	conn.RLock()
	defer conn.RUnlock()
	if conn.sess != nil {
		return conn.sess.Nick()
	}
	if conn.nick != "" {
		return conn.nick
	}
	return "*"
}

// SetDefaultTenant binds every connection accepted by this listener to
// the given tenant id. The line protocol has no wire-level notion of
// tenant selection (unlike the frame-JSON protocol), so each listener
// serves exactly one tenant, chosen at startup.
func (srv *Server) SetDefaultTenant(serverID string) {
	srv.Lock()
	defer srv.Unlock()
	srv.support.Set("default-tenant", serverID)
}

func (srv *Server) defaultTenant() string {
	srv.RLock()
	defer srv.RUnlock()
	val, _ := srv.support.Get("default-tenant")
	return val
}

// hostmask approximates an RFC2812 nick!user@host string for the wire.
func (conn *Conn) hostmask() string {
	nick := conn.displayNick()
	user := conn.user
	if user == "" {
		user = strings.ToLower(nick)
	}
	host := conn.remAddr
	if idx := strings.LastIndex(host, ":"); idx > -1 {
		host = host[:idx]
	}
	return nick + "!" + user + "@" + host
}

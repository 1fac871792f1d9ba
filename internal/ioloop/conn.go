package ioloop

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jasonmoo/cog/internal/gerr"
	"github.com/jasonmoo/cog/internal/logging"
	"github.com/jasonmoo/cog/internal/protocol"
)

// connectCooldown is the minimum interval between connection attempts to
// the same address after a failure (spec.md §4.2, §5: "bounds reconnect
// storms").
const connectCooldown = time.Second

const defaultReadChunk = 4096

// Handler is the per-connection command-handler state machine (client,
// worker, or admin role). A Conn and a Handler are paired 1:1 for the
// connection's lifetime (spec.md §3's Connection invariant).
type Handler interface {
	// FetchCommands drains the inbound command queue against the
	// handler's dispatch table. It stops early only when handling a
	// command returns an error; there is no way for a command handler to
	// stop the pass without an error.
	FetchCommands(c *Conn) error
	// OnIOError runs just before the connection closes, so the handler
	// can invalidate per-connection state.
	OnIOError(c *Conn)
	// OnConnected runs right after a successful Connect so the handler
	// can send its startup sequence.
	OnConnected(c *Conn) error
}

// Conn is a reconnectable, buffered duplex wrapper over one server socket:
// spec.md §4.2's Connection. It multiplexes over a raw, non-blocking file
// descriptor obtained from the standard library's net.Dial via
// syscall.RawConn, so a platform Poller can register it directly while
// dial/DNS/IPv4-vs-IPv6 resolution is left to net.
type Conn struct {
	mu sync.Mutex

	host string
	port int

	netConn net.Conn
	rawConn syscall.RawConn
	fd      int

	connected bool
	writeOnly bool

	allowedConnectTime time.Time

	inBuf  []byte
	outBuf []byte

	inQueue  []protocol.Command
	outQueue []protocol.Command

	handler Handler
	log     logging.Sink
}

// NewConn builds a Conn bound to (host, port) and handler. The pairing is
// fixed for the Conn's lifetime.
func NewConn(host string, port int, handler Handler, log logging.Sink) *Conn {
	if log == nil {
		log = logging.NewNoop()
	}
	return &Conn{host: host, port: port, handler: handler, log: log, fd: -1}
}

func (c *Conn) Addr() string { return fmt.Sprintf("%s:%d", c.host, c.port) }
func (c *Conn) Handler() Handler { return c.handler }

// Connect opens a TCP socket to (host, port): spec.md §4.2's connect().
// Fails with a gerr.CodeConnection error if invoked within the 1s cool-down
// after a prior failed attempt, or on socket error. A failed attempt does
// not reset buffers/queues -- callers may inspect last state.
func (c *Conn) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if now := time.Now(); now.Before(c.allowedConnectTime) {
		c.mu.Unlock()
		return gerr.New(gerr.CodeConnection, fmt.Sprintf("%s: cooling down until %s", c.Addr(), c.allowedConnectTime), nil)
	}
	c.mu.Unlock()

	nc, err := net.DialTimeout("tcp", c.Addr(), 5*time.Second)
	if err != nil {
		c.mu.Lock()
		c.allowedConnectTime = time.Now().Add(connectCooldown)
		c.mu.Unlock()
		return gerr.New(gerr.CodeConnection, fmt.Sprintf("dial %s", c.Addr()), err)
	}

	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	sc, ok := nc.(syscall.Conn)
	if !ok {
		nc.Close()
		return gerr.New(gerr.CodeConnection, "connection type does not expose a raw fd", nil)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		nc.Close()
		return gerr.New(gerr.CodeConnection, "SyscallConn", err)
	}

	var fd int
	if err := rc.Control(func(sysfd uintptr) { fd = int(sysfd) }); err != nil {
		nc.Close()
		return gerr.New(gerr.CodeConnection, "Control", err)
	}

	c.mu.Lock()
	c.netConn = nc
	c.rawConn = rc
	c.fd = fd
	c.connected = true
	c.writeOnly = false
	c.inBuf = c.inBuf[:0]
	c.outBuf = c.outBuf[:0]
	c.inQueue = nil
	c.outQueue = nil
	c.mu.Unlock()

	c.log.Infof("connected to %s", c.Addr())

	if c.handler != nil {
		return c.handler.OnConnected(c)
	}
	return nil
}

// Fileno is the descriptor used for poller registration; fails if not
// connected.
func (c *Conn) Fileno() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return 0, gerr.New(gerr.CodeConnection, "not connected", nil)
	}
	return c.fd, nil
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Internal is always false for a network Conn; only the self-pipe endpoint
// reports true.
func (c *Conn) Internal() bool { return false }

// Readable reports connected && !write_only (spec.md §4.2).
func (c *Conn) Readable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.writeOnly
}

// Writable reports connected && outbound work is pending (spec.md §4.2,
// and the testable invariant of spec.md §8).
func (c *Conn) Writable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && (len(c.outQueue) > 0 || len(c.outBuf) > 0)
}

// SetWriteOnly suppresses reads during drain-on-shutdown (spec.md §4.10:
// worker flips every connection write-only so in-flight results flush
// before close).
func (c *Conn) SetWriteOnly(v bool) {
	c.mu.Lock()
	c.writeOnly = v
	c.mu.Unlock()
}

// ReadDataFromSocket reads up to n bytes (4096 if n<=0) into the inbound
// buffer. An empty read raises ConnectionError("remote disconnected"); an
// EAGAIN is not an error, it just means nothing was ready yet.
func (c *Conn) ReadDataFromSocket(n int) error {
	if n <= 0 {
		n = defaultReadChunk
	}
	buf := make([]byte, n)

	c.mu.Lock()
	rc := c.rawConn
	c.mu.Unlock()
	if rc == nil {
		return gerr.New(gerr.CodeConnection, "not connected", nil)
	}

	var nr int
	var readErr error
	ctrlErr := rc.Read(func(fd uintptr) bool {
		nr, readErr = unix.Read(int(fd), buf)
		return readErr != unix.EAGAIN
	})
	if ctrlErr != nil {
		return gerr.New(gerr.CodeConnection, "read", ctrlErr)
	}
	if readErr == unix.EAGAIN {
		return nil
	}
	if readErr != nil {
		return gerr.New(gerr.CodeConnection, "read", readErr)
	}
	if nr == 0 {
		return gerr.New(gerr.CodeConnection, "remote disconnected", nil)
	}

	c.mu.Lock()
	c.inBuf = append(c.inBuf, buf[:nr]...)
	c.mu.Unlock()
	return nil
}

// ReadCommandsFromBuffer repeatedly parses frames off the inbound buffer,
// enqueuing to the inbound command queue, and returns the count parsed.
// Per spec.md §4.1, a leading NUL byte begins a binary frame; any other
// byte begins a '\n'-terminated admin text line, surfaced as a
// protocol.TypeTextCommand command carrying the raw line under "line".
func (c *Conn) ReadCommandsFromBuffer() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for {
		if len(c.inBuf) == 0 {
			return count, nil
		}

		if c.inBuf[0] == 0 {
			cmd, n, err := protocol.ParseBinary(c.inBuf)
			if err != nil {
				return count, err
			}
			if cmd == nil {
				return count, nil
			}
			c.inQueue = append(c.inQueue, *cmd)
			c.inBuf = c.inBuf[n:]
			count++
			continue
		}

		idx := bytes.IndexByte(c.inBuf, '\n')
		if idx < 0 {
			return count, nil
		}
		line := strings.TrimSuffix(string(c.inBuf[:idx]), "\r")
		c.inQueue = append(c.inQueue, protocol.Command{
			Type: protocol.TypeTextCommand,
			Args: protocol.Args{"line": []byte(line)},
		})
		c.inBuf = c.inBuf[idx+1:]
		count++
	}
}

// ReadCommand pops one command off the inbound queue.
func (c *Conn) ReadCommand() (protocol.Command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inQueue) == 0 {
		return protocol.Command{}, false
	}
	cmd := c.inQueue[0]
	c.inQueue = c.inQueue[1:]
	return cmd, true
}

// SendCommand enqueues a binary command for later framing.
func (c *Conn) SendCommand(typ protocol.Type, args protocol.Args) {
	c.mu.Lock()
	c.outQueue = append(c.outQueue, protocol.Command{Type: typ, Args: args})
	c.mu.Unlock()
}

// SendText enqueues a raw admin text line (no framing, trailing '\n' added
// by SendCommandsToBuffer).
func (c *Conn) SendText(line string) {
	c.SendCommand(protocol.TypeTextCommand, protocol.Args{"line": []byte(line)})
}

// SendCommandsToBuffer drains the outbound command queue by serializing
// each entry into the outbound byte buffer, in emission order.
func (c *Conn) SendCommandsToBuffer() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cmd := range c.outQueue {
		if cmd.Type == protocol.TypeTextCommand {
			c.outBuf = append(c.outBuf, cmd.Args["line"]...)
			c.outBuf = append(c.outBuf, '\n')
			continue
		}
		framed, err := protocol.SerializeBinary(protocol.MagicReq, cmd.Type, cmd.Args)
		if err != nil {
			return err
		}
		c.outBuf = append(c.outBuf, framed...)
	}
	c.outQueue = c.outQueue[:0]
	return nil
}

// SendDataToSocket writes as much of the outbound byte buffer as the
// socket accepts and returns the remaining unsent size.
func (c *Conn) SendDataToSocket() (int, error) {
	c.mu.Lock()
	rc := c.rawConn
	buf := c.outBuf
	c.mu.Unlock()

	if len(buf) == 0 {
		return 0, nil
	}
	if rc == nil {
		return len(buf), gerr.New(gerr.CodeConnection, "not connected", nil)
	}

	var nw int
	var writeErr error
	ctrlErr := rc.Write(func(fd uintptr) bool {
		nw, writeErr = unix.Write(int(fd), buf)
		return writeErr != unix.EAGAIN
	})
	if ctrlErr != nil {
		return len(buf), gerr.New(gerr.CodeConnection, "write", ctrlErr)
	}
	if writeErr != nil && writeErr != unix.EAGAIN {
		return len(buf), gerr.New(gerr.CodeConnection, "write", writeErr)
	}

	c.mu.Lock()
	c.outBuf = c.outBuf[nw:]
	remaining := len(c.outBuf)
	c.mu.Unlock()
	return remaining, nil
}

// Close closes the socket, resets all buffers/queues, and marks
// disconnected. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	nc := c.netConn
	c.netConn = nil
	c.rawConn = nil
	c.fd = -1
	c.connected = false
	c.inBuf = nil
	c.outBuf = nil
	c.inQueue = nil
	c.outQueue = nil
	c.mu.Unlock()

	if nc == nil {
		return nil
	}
	return nc.Close()
}

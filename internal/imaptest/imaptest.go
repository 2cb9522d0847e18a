// Package imaptest runs an in-memory IMAP server for tests.
package imaptest

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// Credentials accepted by the memory backend.
const (
	User = "username"
	Pass = "password"
)

// Server is a running test server. The memory backend starts with a single
// INBOX message.
type Server struct {
	Host string
	Port int
}

// Start serves the memory backend on a loopback port until the test ends.
func Start(t *testing.T) *Server {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return serve(t, l)
}

// StartSlow is Start with every FETCH command held back for delay before
// the server reads it. Pending delays end when the test does.
func StartSlow(t *testing.T, delay time.Duration) *Server {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	return serve(t, &slowListener{Listener: l, delay: delay, done: done})
}

func serve(t *testing.T, l net.Listener) *Server {
	s := server.New(memory.New())
	s.AllowInsecureAuth = true
	go func() {
		_ = s.Serve(l)
	}()
	t.Cleanup(func() { _ = s.Close() })

	host, portStr, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return &Server{Host: host, Port: port}
}

type slowListener struct {
	net.Listener
	delay time.Duration
	done  chan struct{}
}

func (l *slowListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &slowConn{Conn: c, delay: l.delay, done: l.done}, nil
}

type slowConn struct {
	net.Conn
	delay time.Duration
	done  chan struct{}
}

func (c *slowConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 && bytes.Contains(p[:n], []byte(" FETCH ")) {
		t := time.NewTimer(c.delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-c.done:
		}
	}
	return n, err
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Seed creates mailbox (unless it is INBOX) and appends n messages with
// predictable subjects "<mailbox> message <i>".
func (s *Server) Seed(t *testing.T, mailbox string, n int) {
	t.Helper()
	c, err := client.Dial(s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Logout()
	if err := c.Login(User, Pass); err != nil {
		t.Fatalf("login: %v", err)
	}
	if mailbox != "INBOX" {
		if err := c.Create(mailbox); err != nil {
			t.Fatalf("create %s: %v", mailbox, err)
		}
	}
	for i := 1; i <= n; i++ {
		if err := c.Append(mailbox, nil, time.Now(), bytes.NewBufferString(Message(fmt.Sprintf("%s message %d", mailbox, i)))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

// Message builds a minimal RFC 5322 message.
func Message(subject string) string {
	return "From: Alice <alice@example.org>\r\n" +
		"To: bob@example.org\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Wed, 11 May 2016 14:31:59 +0000\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Hello\r\n"
}

package smtp

import (
	"bufio"
	"crypto/tls"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// Pseudo commands for the two AUTH LOGIN credential lines.
const (
	authUsernameStep = "AUTH-USERNAME"
	authPasswordStep = "AUTH-PASSWORD"
)

type fakeReply struct {
	prefix string
	// reply is written verbatim; empty means the server stays silent.
	reply string
}

var defaultReplies = []fakeReply{
	{"EHLO", "250-fake.example greets client\r\n250-STARTTLS\r\n250 AUTH LOGIN PLAIN\r\n"},
	{"STARTTLS", "220 Ready to start TLS\r\n"},
	{"AUTH LOGIN", "334 VXNlcm5hbWU6\r\n"},
	{authUsernameStep, "334 UGFzc3dvcmQ6\r\n"},
	{authPasswordStep, "235 Authentication successful\r\n"},
	{"MAIL FROM", "250 OK\r\n"},
	{"RCPT TO", "250 OK\r\n"},
	{"DATA", "354 Start mail input; end with <CRLF>.<CRLF>\r\n"},
	{".", "250 OK queued\r\n"},
	{"QUIT", "221 fake.example closing connection\r\n"},
}

// fakeServer accepts a single connection and answers from a reply table,
// recording every line the client sends.
type fakeServer struct {
	t           *testing.T
	ln          net.Listener
	greeting    string
	overrides   []fakeReply
	tlsConfig   *tls.Config
	implicitTLS bool

	mu       sync.Mutex
	received []string
	done     chan struct{}
}

func newFakeServer(t *testing.T, greeting string, overrides ...fakeReply) *fakeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	return &fakeServer{
		t:         t,
		ln:        ln,
		greeting:  greeting,
		overrides: overrides,
		done:      make(chan struct{}),
	}
}

func (f *fakeServer) start() *fakeServer {
	go f.serve()
	return f
}

func (f *fakeServer) endpoint() Endpoint {
	addr := f.ln.Addr().(*net.TCPAddr)
	return Endpoint{
		Host: "127.0.0.1",
		Port: addr.Port,
	}
}

func (f *fakeServer) serve() {
	defer close(f.done)

	conn, err := f.ln.Accept()
	if err != nil {
		return
	}

	var nc net.Conn = conn
	if f.implicitTLS {
		nc = tls.Server(conn, f.tlsConfig)
	}
	defer nc.Close()

	r := bufio.NewReader(nc)

	if f.greeting != "" {
		nc.Write([]byte(f.greeting))
	}

	inData := false
	authStep := 0
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		f.record(line)

		if inData {
			if line != "." {
				continue
			}
			inData = false
		}

		key := line
		switch authStep {
		case 1:
			key = authUsernameStep
		case 2:
			key = authPasswordStep
		}

		reply := f.replyFor(key)
		if reply == "" {
			continue
		}
		nc.Write([]byte(reply))

		switch {
		case line == "AUTH LOGIN" && strings.HasPrefix(reply, "334"):
			authStep = 1
		case key == authUsernameStep && strings.HasPrefix(reply, "334"):
			authStep = 2
		case key == authUsernameStep || key == authPasswordStep:
			authStep = 0
		case line == "DATA" && strings.HasPrefix(reply, "354"):
			inData = true
		case line == "STARTTLS" && strings.HasPrefix(reply, "220") && f.tlsConfig != nil:
			tlsConn := tls.Server(nc, f.tlsConfig)
			if err := tlsConn.Handshake(); err != nil {
				return
			}
			nc = tlsConn
			r = bufio.NewReader(nc)
		case line == "QUIT":
			return
		}
	}
}

func (f *fakeServer) replyFor(key string) string {
	for _, o := range f.overrides {
		if strings.HasPrefix(key, o.prefix) {
			return o.reply
		}
	}
	for _, d := range defaultReplies {
		if strings.HasPrefix(key, d.prefix) {
			return d.reply
		}
	}
	return "500 Unrecognized command\r\n"
}

func (f *fakeServer) record(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, line)
}

// lines waits for the connection to end and returns what the client sent.
func (f *fakeServer) lines() []string {
	f.t.Helper()

	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
		f.t.Fatal("Fake server did not finish")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

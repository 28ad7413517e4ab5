package notify

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"argus/core"
)

// mockChannel records every alert it is asked to send
type mockChannel struct {
	mu       sync.Mutex
	sent     []*core.Alert
	attempts int
	fail     bool
	sendErr  error
}

func (m *mockChannel) Send(_ context.Context, alert *core.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.fail {
		if m.sendErr != nil {
			return m.sendErr
		}
		return fmt.Errorf("send failed")
	}
	copied := *alert
	m.sent = append(m.sent, &copied)
	return nil
}

func (m *mockChannel) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockChannel) attemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// MockSMTPServer implements a minimal SMTP server for testing email delivery
type MockSMTPServer struct {
	listener   net.Listener
	port       int
	host       string
	messages   []CapturedEmail
	messagesMu sync.RWMutex
	shouldFail bool
}

// CapturedEmail is an email accepted by the mock SMTP server
type CapturedEmail struct {
	From       string
	To         []string
	Subject    string
	Body       string
	CapturedAt time.Time
}

// NewMockSMTPServer starts a mock SMTP server on an ephemeral port
func NewMockSMTPServer() (*MockSMTPServer, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	addr := listener.Addr().(*net.TCPAddr)
	server := &MockSMTPServer{
		listener: listener,
		port:     addr.Port,
		host:     "127.0.0.1",
		messages: make([]CapturedEmail, 0),
	}

	go server.serve()

	return server, nil
}

func (m *MockSMTPServer) serve() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return // Listener closed
		}
		go m.handleConnection(conn)
	}
}

func (m *MockSMTPServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	conn.Write([]byte("220 mock-smtp-server ESMTP\r\n"))

	scanner := bufio.NewScanner(conn)
	var from string
	var to []string
	var data bytes.Buffer
	inData := false

	for scanner.Scan() {
		line := scanner.Text()
		upper := strings.ToUpper(line)

		if m.shouldFail {
			conn.Write([]byte("500 Server error\r\n"))
			continue
		}

		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			conn.Write([]byte("250-mock-smtp-server\r\n250-PIPELINING\r\n250 8BITMIME\r\n"))

		case strings.HasPrefix(upper, "MAIL FROM:"):
			from = extractEmailAddress(line)
			conn.Write([]byte("250 OK\r\n"))

		case strings.HasPrefix(upper, "RCPT TO:"):
			to = append(to, extractEmailAddress(line))
			conn.Write([]byte("250 OK\r\n"))

		case upper == "DATA":
			conn.Write([]byte("354 End data with <CR><LF>.<CR><LF>\r\n"))
			inData = true
			data.Reset()

		case inData:
			if line == "." {
				m.captureEmail(from, to, data.String())
				conn.Write([]byte("250 OK\r\n"))
				inData = false
				from = ""
				to = nil
				continue
			}
			// SMTP data transparency
			data.WriteString(strings.TrimPrefix(line, ".") + "\r\n")

		case upper == "QUIT":
			conn.Write([]byte("221 Bye\r\n"))
			return

		default:
			conn.Write([]byte("250 OK\r\n"))
		}
	}
}

func (m *MockSMTPServer) captureEmail(from string, to []string, rawMessage string) {
	m.messagesMu.Lock()
	defer m.messagesMu.Unlock()

	subject := ""
	body := strings.Builder{}
	inBody := false
	for _, line := range strings.Split(rawMessage, "\r\n") {
		if line == "" && !inBody {
			inBody = true
			continue
		}
		if !inBody {
			if strings.HasPrefix(line, "Subject:") {
				subject = strings.TrimSpace(strings.TrimPrefix(line, "Subject:"))
			}
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}

	m.messages = append(m.messages, CapturedEmail{
		From:       from,
		To:         to,
		Subject:    subject,
		Body:       body.String(),
		CapturedAt: time.Now(),
	})
}

// GetMessages returns all captured emails
func (m *MockSMTPServer) GetMessages() []CapturedEmail {
	m.messagesMu.RLock()
	defer m.messagesMu.RUnlock()

	messages := make([]CapturedEmail, len(m.messages))
	copy(messages, m.messages)
	return messages
}

// SetShouldFail configures the server to reject every command
func (m *MockSMTPServer) SetShouldFail(shouldFail bool) {
	m.shouldFail = shouldFail
}

// Address returns host:port of the mock server
func (m *MockSMTPServer) Address() string {
	return fmt.Sprintf("%s:%d", m.host, m.port)
}

// Port returns the listening port
func (m *MockSMTPServer) Port() int {
	return m.port
}

// Close stops the mock SMTP server
func (m *MockSMTPServer) Close() error {
	if m.listener != nil {
		return m.listener.Close()
	}
	return nil
}

func extractEmailAddress(line string) string {
	start := strings.Index(line, "<")
	end := strings.Index(line, ">")
	if start != -1 && end != -1 && end > start {
		return line[start+1 : end]
	}
	parts := strings.SplitN(line, ":", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

package mail

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageBytes(t *testing.T) {
	msg := Message{
		From:    "noreply@example.com",
		To:      []string{"a@x.com"},
		Subject: "Welcome to the Tribe",
		Body:    "line one\nline two",
	}
	date := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := string(msg.Bytes(date))

	assert.Contains(t, out, "From: noreply@example.com\r\n")
	assert.Contains(t, out, "To: a@x.com\r\n")
	assert.Contains(t, out, "Subject: Welcome to the Tribe\r\n")
	assert.Contains(t, out, "Date: Wed, 01 May 2024 12:00:00 +0000\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\nline one\r\nline two\r\n"))
}

func TestLogTransport(t *testing.T) {
	var buf bytes.Buffer
	tr := NewLogTransport(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, tr.Send(context.Background(), Message{To: []string{"a@x.com"}, Subject: "hi"}))
	assert.Contains(t, buf.String(), "to=a@x.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Send(ctx, Message{}), context.Canceled)
}

type fakeSMTP struct {
	addr       string
	rejectRcpt bool
	received   chan string
}

func startFakeSMTP(t *testing.T, rejectRcpt bool) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	f := &fakeSMTP{addr: ln.Addr().String(), rejectRcpt: rejectRcpt, received: make(chan string, 1)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		f.serve(conn)
	}()
	return f
}

func (f *fakeSMTP) serve(conn net.Conn) {
	r := bufio.NewReader(conn)
	reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

	reply("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			reply("250-localhost")
			reply("250 8BITMIME")
		case strings.HasPrefix(cmd, "RCPT TO") && f.rejectRcpt:
			reply("550 no such user")
		case cmd == "DATA":
			reply("354 go ahead")
			var data strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				data.WriteString(l)
			}
			f.received <- data.String()
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func (f *fakeSMTP) transport(t *testing.T) *SMTPTransport {
	t.Helper()
	host, portStr, err := net.SplitHostPort(f.addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return NewSMTPTransport(host, port, "", "")
}

func TestSMTPTransportSend(t *testing.T) {
	srv := startFakeSMTP(t, false)
	tr := srv.transport(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := tr.Send(ctx, Message{
		From:    "noreply@example.com",
		To:      []string{"a@x.com"},
		Subject: "Welcome to the Tribe",
		Body:    "Welcome to our platform, your registration was successful.",
	})
	require.NoError(t, err)

	select {
	case data := <-srv.received:
		assert.Contains(t, data, "Subject: Welcome to the Tribe")
		assert.Contains(t, data, "your registration was successful.")
	case <-time.After(5 * time.Second):
		t.Fatal("server did not receive the message")
	}
}

func TestSMTPTransportRejectedRecipient(t *testing.T) {
	srv := startFakeSMTP(t, true)
	tr := srv.transport(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := tr.Send(ctx, Message{From: "noreply@example.com", To: []string{"nobody@x.com"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rcpt")
}

func TestSMTPTransportNoRecipients(t *testing.T) {
	tr := NewSMTPTransport("localhost", 25, "", "")
	assert.Error(t, tr.Send(context.Background(), Message{}))
}

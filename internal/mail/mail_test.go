package mail

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"flowcrm/backend/internal/queue"
)

// relay is an in-memory SMTP server reached through net.Pipe.
type relay struct {
	mu     sync.Mutex
	addr   string
	from   string
	to     []string
	data   string
	reject string // reply to RCPT when set
	silent bool   // never sends a greeting
}

func (r *relay) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	client, server := net.Pipe()
	r.mu.Lock()
	r.addr = addr
	r.mu.Unlock()
	go r.serve(server)
	return client, nil
}

func (r *relay) serve(conn net.Conn) {
	defer conn.Close()
	if r.silent {
		_, _ = io.Copy(io.Discard, conn)
		return
	}
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 relay.test ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb, arg, _ := strings.Cut(line, " ")
		switch strings.ToUpper(verb) {
		case "EHLO", "HELO":
			_ = tp.PrintfLine("250-relay.test")
			_ = tp.PrintfLine("250 HELP")
		case "MAIL":
			r.mu.Lock()
			r.from = strings.Trim(strings.TrimPrefix(arg, "FROM:"), "<>")
			r.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case "RCPT":
			if r.reject != "" {
				_ = tp.PrintfLine("%s", r.reject)
				continue
			}
			r.mu.Lock()
			r.to = append(r.to, strings.Trim(strings.TrimPrefix(arg, "TO:"), "<>"))
			r.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case "DATA":
			_ = tp.PrintfLine("354 go ahead")
			lines, err := tp.ReadDotLines()
			if err != nil {
				return
			}
			r.mu.Lock()
			r.data = strings.Join(lines, "\r\n")
			r.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 not implemented")
		}
	}
}

func newTestSMTP(r *relay) *SMTP {
	s := NewSMTP(SMTPConfig{Host: "smtp.example.com", Port: 587, From: "no-reply@example.com", FromName: "FlowCRM"})
	s.dial = r.dial
	return s
}

func TestSMTP_Send(t *testing.T) {
	r := &relay{}
	s := newTestSMTP(r)

	err := s.Send(context.Background(), Message{To: "ada@example.com", Subject: "Hello Ada", HTML: "<p>Hi</p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addr != "smtp.example.com:587" {
		t.Errorf("addr = %q", r.addr)
	}
	if r.from != "no-reply@example.com" || len(r.to) != 1 || r.to[0] != "ada@example.com" {
		t.Errorf("envelope = %q -> %v", r.from, r.to)
	}
	for _, want := range []string{"From: FlowCRM <no-reply@example.com>\r\n", "To: ada@example.com\r\n", "Subject: Hello Ada\r\n", "Content-Type: text/html; charset=UTF-8", "\r\n\r\n<p>Hi</p>"} {
		if !strings.Contains(r.data, want) {
			t.Errorf("message missing %q:\n%s", want, r.data)
		}
	}
}

func TestSMTP_HeaderInjectionStripped(t *testing.T) {
	r := &relay{}
	s := newTestSMTP(r)
	if err := s.Send(context.Background(), Message{To: "ada@example.com\r\nBcc: eve@example.com", Subject: "Hi\r\nBcc: eve@example.com", HTML: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.Contains(r.data, "\r\nBcc:") {
		t.Errorf("header injection survived:\n%s", r.data)
	}
}

func TestSMTP_Errors(t *testing.T) {
	s := newTestSMTP(&relay{reject: "550 no such user"})
	if err := s.Send(context.Background(), Message{To: " "}); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("err = %v, want ErrNoRecipient", err)
	}
	err := s.Send(context.Background(), Message{To: "ada@example.com"})
	if err == nil || !strings.Contains(err.Error(), "no such user") {
		t.Errorf("err = %v, want relay rejection", err)
	}
}

func TestSMTP_HungRelayBoundedByContext(t *testing.T) {
	s := newTestSMTP(&relay{silent: true})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Send(ctx, Message{To: "ada@example.com", Subject: "s", HTML: "h"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Send returned after %v, want it bounded by the context", elapsed)
	}
}

type recordingMailer struct {
	msgs []Message
	err  error
}

func (r *recordingMailer) Send(ctx context.Context, msg Message) error {
	r.msgs = append(r.msgs, msg)
	if msg.To == "" {
		return ErrNoRecipient
	}
	return r.err
}

func TestWorker_HandleJob(t *testing.T) {
	payload, _ := json.Marshal(Message{To: "ada@example.com", Subject: "s", HTML: "h"})
	m := &recordingMailer{}
	w := NewWorker(m, nil)

	if err := w.HandleJob(context.Background(), &queue.Job{ID: "j1", Queue: queue.OutboundEmail, Payload: payload}); err != nil {
		t.Fatalf("HandleJob: %v", err)
	}
	if len(m.msgs) != 1 || m.msgs[0].To != "ada@example.com" {
		t.Errorf("msgs = %+v", m.msgs)
	}

	if err := w.HandleJob(context.Background(), &queue.Job{ID: "j2", Queue: queue.OutboundEmail, Payload: json.RawMessage(`{"subject":"s"}`)}); err != nil {
		t.Errorf("missing recipient should be dropped, got %v", err)
	}

	m.err = errors.New("temporary")
	if err := w.HandleJob(context.Background(), &queue.Job{ID: "j3", Queue: queue.OutboundEmail, Payload: payload}); err == nil {
		t.Error("transient send failure must be returned for retry")
	}
	if err := w.HandleJob(context.Background(), &queue.Job{ID: "j4", Queue: queue.OutboundEmail, Payload: json.RawMessage(`not json`)}); err == nil {
		t.Error("undecodable payload must error")
	}
}

func TestLogMailer(t *testing.T) {
	l := NewLogMailer(nil)
	if err := l.Send(context.Background(), Message{To: "a@example.com"}); err != nil {
		t.Errorf("Send: %v", err)
	}
	if err := l.Send(context.Background(), Message{}); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("err = %v, want ErrNoRecipient", err)
	}
}

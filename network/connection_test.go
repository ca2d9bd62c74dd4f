package network

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"mediaremote/crypto"
	"mediaremote/protocol"
)

// fakeDevice drives the far end of a loopback connection frame by frame.
type fakeDevice struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
	cipher *crypto.SessionCipher
}

func newTestConn(t *testing.T, opts Options) (*Connection, *fakeDevice) {
	t.Helper()
	deviceEnd, clientEnd := net.Pipe()
	c := New(clientEnd, opts)
	d := &fakeDevice{t: t, conn: deviceEnd, reader: bufio.NewReader(deviceEnd)}
	t.Cleanup(func() {
		_ = c.Close()
		_ = deviceEnd.Close()
	})
	return c, d
}

func (d *fakeDevice) read() *protocol.Message {
	d.t.Helper()
	payload, err := protocol.ReadFrame(d.reader)
	if err != nil {
		d.t.Errorf("device read frame: %v", err)
		return nil
	}
	if d.cipher != nil {
		payload, err = d.cipher.Decrypt(payload)
		if err != nil {
			d.t.Errorf("device decrypt frame: %v", err)
			return nil
		}
	}
	msg, err := protocol.Unmarshal(payload)
	if err != nil {
		d.t.Errorf("device decode frame: %v", err)
		return nil
	}
	return msg
}

func (d *fakeDevice) write(msg *protocol.Message) {
	d.t.Helper()
	payload, err := msg.Marshal()
	if err != nil {
		d.t.Errorf("device encode frame: %v", err)
		return
	}
	if d.cipher != nil {
		payload = d.cipher.Encrypt(payload)
	}
	if err := protocol.WriteFrame(d.conn, payload); err != nil {
		d.t.Errorf("device write frame: %v", err)
	}
}

func TestSendAndWaitCorrelatesOutOfOrderResponses(t *testing.T) {
	c, d := newTestConn(t, Options{})

	// The device answers the two requests in reverse order; each caller must
	// still receive the response carrying its own identifier.
	go func() {
		first := d.read()
		second := d.read()
		if first == nil || second == nil {
			return
		}
		for _, req := range []*protocol.Message{second, first} {
			resp := protocol.NewMessage(&protocol.CryptoPairingMessage{
				PairingData: req.Payload.(*protocol.CryptoPairingMessage).PairingData,
			})
			resp.Identifier = req.Identifier
			d.write(resp)
		}
	}()

	type result struct {
		sent []byte
		resp *protocol.Message
		err  error
	}
	results := make(chan result, 2)
	for _, data := range [][]byte{{0x01}, {0x02}} {
		go func(data []byte) {
			msg := protocol.NewMessage(&protocol.CryptoPairingMessage{PairingData: data})
			resp, err := c.SendAndWait(context.Background(), msg)
			results <- result{sent: data, resp: resp, err: err}
		}(data)
	}

	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("SendAndWait failed: %v", r.err)
		}
		got := r.resp.Payload.(*protocol.CryptoPairingMessage).PairingData
		if !bytes.Equal(got, r.sent) {
			t.Fatalf("response %x does not match request %x", got, r.sent)
		}
	}
}

func TestSendAndWaitTimesOut(t *testing.T) {
	unsolicited := make(chan *protocol.Message, 1)
	c, d := newTestConn(t, Options{
		ResponseTimeout: 60 * time.Millisecond,
		Handlers: Handlers{
			OnMessage: func(m *protocol.Message) { unsolicited <- m },
		},
	})

	gotReq := make(chan *protocol.Message, 1)
	go func() { gotReq <- d.read() }()

	msg := protocol.NewMessage(&protocol.SetConnectionStateMessage{State: protocol.ConnectionStateConnected})
	_, err := c.SendAndWait(context.Background(), msg)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	// A late response must not resolve anything; it reaches the general
	// handler only.
	req := <-gotReq
	if req == nil {
		t.Fatalf("device saw no request")
	}
	late := protocol.NewMessage(&protocol.CryptoPairingMessage{PairingData: []byte{0x09}})
	late.Identifier = req.Identifier
	d.write(late)

	select {
	case m := <-unsolicited:
		if m.Identifier != req.Identifier {
			t.Fatalf("unexpected message %v", m.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("late response never reached the message handler")
	}
}

func TestMessageOfTypeReceivesUnsolicited(t *testing.T) {
	c, d := newTestConn(t, Options{})

	go d.write(protocol.NewMessage(&protocol.SetConnectionStateMessage{State: protocol.ConnectionStateNone}))

	msg, err := c.MessageOfType(context.Background(), protocol.TypeSetConnectionState, time.Second)
	if err != nil {
		t.Fatalf("MessageOfType failed: %v", err)
	}
	if got := msg.Payload.(*protocol.SetConnectionStateMessage).State; got != protocol.ConnectionStateNone {
		t.Fatalf("state = %d", got)
	}
}

func TestCloseRejectsPendingWaiters(t *testing.T) {
	closed := make(chan error, 1)
	c, d := newTestConn(t, Options{
		ResponseTimeout: 5 * time.Second,
		Handlers:        Handlers{OnClose: func(err error) { closed <- err }},
	})

	errs := make(chan error, 1)
	go func() {
		msg := protocol.NewMessage(&protocol.CryptoPairingMessage{PairingData: []byte{0x01}})
		_, err := c.SendAndWait(context.Background(), msg)
		errs <- err
	}()

	if d.read() == nil {
		t.Fatalf("device saw no request")
	}
	_ = d.conn.Close()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("waiter err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter not released on close")
	}

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("close handler err = %v, want nil on peer close", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("close handler never fired")
	}

	if err := c.Send(protocol.NewMessage(&protocol.CryptoPairingMessage{})); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after close err = %v, want ErrClosed", err)
	}
}

func TestEncryptedSession(t *testing.T) {
	received := make(chan *protocol.Message, 4)
	c, d := newTestConn(t, Options{
		Handlers: Handlers{OnMessage: func(m *protocol.Message) { received <- m }},
	})

	writeKey := bytes.Repeat([]byte{0x0C}, crypto.KeySize)
	readKey := bytes.Repeat([]byte{0x0D}, crypto.KeySize)
	clientCipher, err := crypto.NewSessionCipher(writeKey, readKey)
	if err != nil {
		t.Fatalf("NewSessionCipher failed: %v", err)
	}
	deviceCipher, err := crypto.NewSessionCipher(readKey, writeKey)
	if err != nil {
		t.Fatalf("NewSessionCipher failed: %v", err)
	}

	c.EnableEncryption(clientCipher)
	d.cipher = deviceCipher
	if !c.Encrypted() {
		t.Fatalf("Encrypted() = false after EnableEncryption")
	}

	got := make(chan *protocol.Message, 2)
	go func() {
		got <- d.read()
		got <- d.read()
	}()
	for i := int32(1); i <= 2; i++ {
		if err := c.Send(protocol.NewMessage(&protocol.SetConnectionStateMessage{State: i})); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	for i := int32(1); i <= 2; i++ {
		msg := <-got
		if msg == nil {
			t.Fatalf("device failed to decrypt frame %d", i)
		}
		if state := msg.Payload.(*protocol.SetConnectionStateMessage).State; state != i {
			t.Fatalf("frame %d: state = %d", i, state)
		}
	}
	if n := clientCipher.WriteCounter(); n != 2 {
		t.Fatalf("write counter = %d, want 2", n)
	}

	d.write(protocol.NewMessage(&protocol.SetConnectionStateMessage{State: protocol.ConnectionStateConnected}))
	select {
	case msg := <-received:
		if state := msg.Payload.(*protocol.SetConnectionStateMessage).State; state != protocol.ConnectionStateConnected {
			t.Fatalf("state = %d", state)
		}
	case <-time.After(time.Second):
		t.Fatalf("encrypted inbound frame never arrived")
	}
	if n := clientCipher.ReadCounter(); n != 1 {
		t.Fatalf("read counter = %d, want 1", n)
	}
}

func TestUndecodableFrameIsDropped(t *testing.T) {
	debug := make(chan string, 1)
	received := make(chan *protocol.Message, 1)
	c, d := newTestConn(t, Options{
		Handlers: Handlers{
			OnDebug:   func(s string) { debug <- s },
			OnMessage: func(m *protocol.Message) { received <- m },
		},
	})
	_ = c

	if err := protocol.WriteFrame(d.conn, []byte{0xFF, 0xFF, 0xFF}); err != nil {
		t.Fatalf("write garbage frame: %v", err)
	}
	select {
	case <-debug:
	case <-time.After(time.Second):
		t.Fatalf("dropped frame not reported")
	}

	d.write(protocol.NewMessage(&protocol.SetConnectionStateMessage{State: protocol.ConnectionStateConnected}))
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatalf("connection stopped reading after a bad frame")
	}
}

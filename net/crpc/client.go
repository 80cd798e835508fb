package crpc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// ServerError is an error returned by the remote method, as text.
type ServerError string

func (e ServerError) Error() string {
	return string(e)
}

var ErrShutdown = errors.New("connection is shut down")

// pendingCall is a request waiting for its response. reply is decoded in
// place by the read loop; done is buffered so the read loop never blocks on
// a caller that gave up.
type pendingCall struct {
	reply any
	done  chan error
}

// Client multiplexes calls over one connection. Responses are matched to
// requests by sequence number, so calls from many goroutines may overlap.
type Client struct {
	conn   io.ReadWriteCloser
	caller Caller

	writeMu sync.Mutex // header and argument must be adjacent on the wire
	encoder *cbor.Encoder

	mu       sync.Mutex // protects the fields below
	seq      uint64
	pending  map[uint64]*pendingCall
	closing  bool  // Close was called
	shutdown error // set once the read loop exited
}

// NewClient starts a client on conn. Every request carries caller.
func NewClient(conn io.ReadWriteCloser, caller Caller) *Client {
	client := &Client{
		conn:    conn,
		caller:  caller,
		encoder: encMode.NewEncoder(conn),
		pending: make(map[uint64]*pendingCall),
	}
	go client.readLoop()
	return client
}

// Dial connects to an RPC server at the specified network address.
func Dial(ctx context.Context, network, address string, caller Caller) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, caller), nil
}

// register allocates a sequence number for a new call.
func (client *Client) register(reply any) (uint64, *pendingCall, error) {
	client.mu.Lock()
	defer client.mu.Unlock()

	if client.closing || client.shutdown != nil {
		return 0, nil, ErrShutdown
	}
	seq := client.seq
	client.seq++
	pc := &pendingCall{reply: reply, done: make(chan error, 1)}
	client.pending[seq] = pc
	return seq, pc, nil
}

// forget drops a call whose caller is no longer waiting. A response that
// still arrives for it is read and discarded.
func (client *Client) forget(seq uint64) {
	client.mu.Lock()
	delete(client.pending, seq)
	client.mu.Unlock()
}

func (client *Client) write(seq uint64, serviceMethod string, args any) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	if err := client.encoder.Encode(&RequestHeader{Seq: seq, Method: serviceMethod, Caller: client.caller}); err != nil {
		return err
	}
	return client.encoder.Encode(args)
}

// Call invokes serviceMethod and waits for the reply or for ctx. An error
// returned by the remote method is a ServerError.
func (client *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	seq, pc, err := client.register(reply)
	if err != nil {
		return err
	}

	if err := client.write(seq, serviceMethod, args); err != nil {
		client.forget(seq)
		return err
	}

	select {
	case <-ctx.Done():
		client.forget(seq)
		return ctx.Err()
	case err := <-pc.done:
		return err
	}
}

func (client *Client) take(seq uint64) *pendingCall {
	client.mu.Lock()
	defer client.mu.Unlock()
	pc := client.pending[seq]
	delete(client.pending, seq)
	return pc
}

func (client *Client) readLoop() {
	decoder := decMode.NewDecoder(client.conn)

	var err error
	for err == nil {
		var header ResponseHeader
		if err = decoder.Decode(&header); err != nil {
			break
		}

		pc := client.take(header.Seq)
		switch {
		case header.Err != "":
			if pc != nil {
				pc.done <- ServerError(header.Err)
			}
		case pc == nil:
			// Nobody waits for this reply: consume the body
			var skip cbor.RawMessage
			err = decoder.Decode(&skip)
			log.Debugf("crpc.Client: discarded reply %d", header.Seq)
		default:
			decodeErr := decoder.Decode(pc.reply)
			pc.done <- decodeErr
			err = decodeErr
		}
	}

	client.terminate(err)
}

// terminate fails every pending call once the connection is unusable.
func (client *Client) terminate(err error) {
	client.mu.Lock()
	defer client.mu.Unlock()

	closed := errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
	switch {
	case client.closing:
		log.Debugf("crpc.Client: connection closed")
	case closed:
		log.Debugf("crpc.Client: connection closed by server")
	default:
		log.Warnf("crpc.Client: read failed: %v", err)
	}

	client.shutdown = err
	if client.closing || closed {
		client.shutdown = ErrShutdown
	}
	for seq, pc := range client.pending {
		pc.done <- client.shutdown
		delete(client.pending, seq)
	}
}

// Close closes the connection. Calls still waiting fail with ErrShutdown;
// closing twice returns ErrShutdown.
func (client *Client) Close() error {
	client.mu.Lock()
	if client.closing {
		client.mu.Unlock()
		return ErrShutdown
	}
	client.closing = true
	client.mu.Unlock()
	return client.conn.Close()
}

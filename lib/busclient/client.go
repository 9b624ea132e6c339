// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package busclient

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/busline/busd/lib/codec"
	"github.com/busline/busd/lib/frame"
)

// incomingFrame is one frame-tagged unit pulled off the socket by the
// background read loop for a Recv caller to consume.
type incomingFrame struct {
	header  frame.Header
	records []frame.Record
}

// Client is a connection to a busd endpoint socket. A single
// background goroutine reads the socket and dispatches by leading tag
// byte: command-tagged units answer whichever of do/Send is currently
// waiting on a response, frame-tagged units queue for Recv. This lets
// the daemon push asynchronous deliveries (RECV data) on the same
// socket a caller is using for synchronous control calls (ADD_MATCH,
// NAME_ACQUIRE, ...) without the two ever being misread as each other.
//
// Each control unit is tag byte + u32 big-endian length + CBOR body,
// per SPEC_FULL.md's length-prefixed control protocol — length
// prefixing means the reader never has to guess where a CBOR item
// ends, so it can safely share a stream with frame-tagged units, which
// carry the same u32 length prefix.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex // serializes writers of commandTag/frameTag units
	callMu  sync.Mutex // serializes do()/Send() so responses pair 1:1

	pendingResp chan Response
	incoming    chan incomingFrame
	readErr     chan error

	mu           sync.Mutex
	connectionID uint64
}

// Dial connects to a busd endpoint socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("busclient: dial %s: %w", path, err)
	}
	c := &Client{
		conn:        conn,
		pendingResp: make(chan Response),
		incoming:    make(chan incomingFrame, 64),
		readErr:     make(chan error, 1),
	}
	go c.readLoop()
	return c, nil
}

// Close closes the underlying socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ConnectionID returns the connection id assigned by HELLO. Valid only
// after a successful Hello call.
func (c *Client) ConnectionID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// readLoop is the sole reader of c.conn. It runs until the connection
// breaks, which Close triggers by closing conn out from under it.
func (c *Client) readLoop() {
	for {
		tag := make([]byte, 1)
		if _, err := io.ReadFull(c.conn, tag); err != nil {
			c.readErr <- err
			close(c.incoming)
			return
		}

		switch tag[0] {
		case commandTag:
			resp, err := readCommand(c.conn)
			if err != nil {
				c.readErr <- err
				close(c.incoming)
				return
			}
			c.pendingResp <- resp

		case frameTag:
			decoded, err := readFrameUnit(c.conn)
			if err != nil {
				c.readErr <- err
				close(c.incoming)
				return
			}
			c.incoming <- decoded

		default:
			c.readErr <- fmt.Errorf("busclient: unknown stream tag %q", tag[0])
			close(c.incoming)
			return
		}
	}
}

// do sends a control command tagged with commandTag and waits for the
// matching command-tagged response. callMu ensures only one do()/Send()
// round-trip is outstanding at a time, so pendingResp always pairs with
// the request that produced it.
func (c *Client) do(req Request) (Response, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if err := c.writeCommand(req); err != nil {
		return Response{}, err
	}

	select {
	case resp := <-c.pendingResp:
		if !resp.OK {
			return resp, &RemoteError{Code: resp.ErrorCode, Message: resp.Error}
		}
		return resp, nil
	case err := <-c.readErr:
		return Response{}, fmt.Errorf("busclient: connection lost waiting for %s response: %w", req.Command, err)
	}
}

func (c *Client) writeCommand(req Request) error {
	body, err := codec.Marshal(req)
	if err != nil {
		return fmt.Errorf("busclient: encoding %s request: %w", req.Command, err)
	}
	return c.writeUnit(commandTag, body)
}

func (c *Client) writeUnit(tag byte, body []byte) error {
	buf := make([]byte, 1+4+len(body))
	buf[0] = tag
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(body)))
	copy(buf[5:], body)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(buf)
	return err
}

// RemoteError wraps a busd-reported failure, carrying the core.Code
// string so callers can match on it with errors.As without importing
// internal/core.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MakeBus asks busd to create a bus in the root domain.
func (c *Client) MakeBus(name string, flags uint64, mode, uid, gid uint32) error {
	_, err := c.do(Request{Command: CmdMakeBus, BusName: name, Flags: flags, Mode: mode, UID: uid, GID: gid})
	return err
}

// MakeDomain asks busd to create a sub-domain of the root domain.
func (c *Client) MakeDomain(name string) error {
	_, err := c.do(Request{Command: CmdMakeDomain, DomainName: name})
	return err
}

// MakeEndpoint asks busd to create a custom endpoint on a bus.
func (c *Client) MakeEndpoint(busName, endpointName string, mode, uid, gid uint32) error {
	_, err := c.do(Request{Command: CmdEndpointMake, BusName: busName, EndpointName: endpointName, Mode: mode, UID: uid, GID: gid})
	return err
}

// SetEndpointPolicy replaces an endpoint's policy overlay with rules,
// which may only narrow (add Deny on top of) the bus-level policy.
func (c *Client) SetEndpointPolicy(busName, endpointName string, rules []PolicyRuleWire) error {
	_, err := c.do(Request{Command: CmdEndpointPolicy, BusName: busName, EndpointName: endpointName, PolicyRules: rules})
	return err
}

// Hello opens the given bus/endpoint and completes the handshake.
func (c *Client) Hello(busName, endpointName string, poolSize uint64, attachMask uint32) (uint64, error) {
	resp, err := c.do(Request{
		Command:      CmdHello,
		BusName:      busName,
		EndpointName: endpointName,
		PoolSize:     poolSize,
		AttachMask:   attachMask,
	})
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.connectionID = resp.ConnectionID
	c.mu.Unlock()
	return resp.ConnectionID, nil
}

// AddMatch installs a broadcast subscription mask at the given
// generation, returning the cookie used to remove it later.
func (c *Client) AddMatch(generation uint64, bits []byte, senderFilter *uint64) (uint64, error) {
	resp, err := c.do(Request{Command: CmdAddMatch, Generation: generation, Bits: bits, SenderFilter: senderFilter})
	if err != nil {
		return 0, err
	}
	return resp.Cookie, nil
}

// RemoveMatch removes a previously installed subscription.
func (c *Client) RemoveMatch(cookie uint64) error {
	_, err := c.do(Request{Command: CmdRemoveMatch, Cookie: cookie})
	return err
}

// RequestName requests ownership of a well-known name, returning the
// outcome string ("primary" or "queued").
func (c *Client) RequestName(name string, flags uint8) (string, error) {
	resp, err := c.do(Request{Command: CmdNameAcquire, Name: name, NameFlags: flags})
	if err != nil {
		return "", err
	}
	return resp.Outcome, nil
}

// ReleaseName releases a previously acquired name.
func (c *Client) ReleaseName(name string) error {
	_, err := c.do(Request{Command: CmdNameRelease, Name: name})
	return err
}

// Stats returns a snapshot of every live connection on the bus behind
// this socket, for introspection tools.
func (c *Client) Stats() ([]ConnectionStatus, error) {
	resp, err := c.do(Request{Command: CmdStats})
	if err != nil {
		return nil, err
	}
	return resp.Connections, nil
}

// ListNames lists registered names matching a glob-style filter
// ("" matches everything), which busd applies to each registered name
// with filepath.Match.
func (c *Client) ListNames(filter string) ([]string, error) {
	resp, err := c.do(Request{Command: CmdNameList, ListFilter: filter})
	if err != nil {
		return nil, err
	}
	return resp.Names, nil
}

// MemfdNew asks busd to allocate a new sealed memory object, returning
// its object id for use in KindMemfd records.
func (c *Client) MemfdNew(size uint64) (uint64, error) {
	resp, err := c.do(Request{Command: CmdMemfdNew, Size: size})
	if err != nil {
		return 0, err
	}
	return resp.ObjectID, nil
}

// MemfdSeal seals a previously allocated object against further writes.
func (c *Client) MemfdSeal(objectID uint64) error {
	_, err := c.do(Request{Command: CmdMemfdSeal, ObjectID: objectID})
	return err
}

// MemfdUnseal reverses a seal, failing if more than one reference to
// the object remains outstanding.
func (c *Client) MemfdUnseal(objectID uint64) error {
	_, err := c.do(Request{Command: CmdMemfdUnseal, ObjectID: objectID})
	return err
}

// Send writes a framed message tagged with frameTag and waits for
// busd's command-tagged acknowledgement, so unicast failures (NO_DEST,
// POLICY_DENIED, POOL_FULL) surface to the caller the way a direct
// in-process core.Connection.Send call would.
func (c *Client) Send(header frame.Header, records []frame.Record) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if err := c.writeUnit(frameTag, frame.EncodeMessage(header, records)); err != nil {
		return fmt.Errorf("busclient: writing frame: %w", err)
	}

	select {
	case resp := <-c.pendingResp:
		if !resp.OK {
			return &RemoteError{Code: resp.ErrorCode, Message: resp.Error}
		}
		return nil
	case err := <-c.readErr:
		return fmt.Errorf("busclient: connection lost waiting for send ack: %w", err)
	}
}

// Recv blocks until the next delivered message arrives.
func (c *Client) Recv() (frame.Header, []frame.Record, error) {
	decoded, ok := <-c.incoming
	if !ok {
		err := <-c.readErr
		return frame.Header{}, nil, fmt.Errorf("busclient: connection lost waiting for a message: %w", err)
	}
	return decoded.header, decoded.records, nil
}

// Free releases a previously received message's pool reservation.
// Unlike Send/Recv, FREE has no payload beyond the offset, so it rides
// the CBOR control channel rather than the frame channel.
func (c *Client) Free(offset uint64) error {
	_, err := c.do(Request{Command: CmdFree, Cookie: offset})
	return err
}

// readCommand reads one length-prefixed CBOR Response following a
// commandTag byte already consumed by the caller.
func readCommand(conn net.Conn) (Response, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return Response{}, fmt.Errorf("busclient: reading response length: %w", err)
	}
	body := make([]byte, binary.BigEndian.Uint32(lenBuf))
	if _, err := io.ReadFull(conn, body); err != nil {
		return Response{}, fmt.Errorf("busclient: reading response body: %w", err)
	}
	var resp Response
	if err := codec.Unmarshal(body, &resp); err != nil {
		return Response{}, fmt.Errorf("busclient: decoding response: %w", err)
	}
	return resp, nil
}

// readFrameUnit reads one length-prefixed lib/frame message following
// a frameTag byte already consumed by the caller. The length prefix
// here is redundant with the frame header's own Size field, but keeps
// the two unit kinds symmetric on the wire.
func readFrameUnit(conn net.Conn) (incomingFrame, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return incomingFrame{}, fmt.Errorf("busclient: reading frame length: %w", err)
	}
	body := make([]byte, binary.BigEndian.Uint32(lenBuf))
	if _, err := io.ReadFull(conn, body); err != nil {
		return incomingFrame{}, fmt.Errorf("busclient: reading frame body: %w", err)
	}
	header, records, err := frame.DecodeMessage(body)
	if err != nil {
		return incomingFrame{}, err
	}
	return incomingFrame{header: header, records: records}, nil
}

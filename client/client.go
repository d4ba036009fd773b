// Package client implements the control-channel protocol of the PIR daemon:
// configuration, database installs through shared memory, and pipelined
// queries.
package client

import (
	"fmt"
	"net"

	pir "github.com/ehrlich-b/go-pir"
	"github.com/ehrlich-b/go-pir/internal/wire"
)

// The server pipelines batch evaluation: the response to a query is written
// while a later command is being served, trailing by up to two queries.
// Query and Response expose that discipline directly; Read hides it by
// padding with zero-mask queries, which XOR nothing and cost one batch each.

// Client is a connection to the daemon. Not safe for concurrent use.
type Client struct {
	conn net.Conn
	geo  pir.Config

	// outstanding tracks queries whose responses have not arrived yet, in
	// order; true marks a caller query, false a zero-mask padding query.
	outstanding []bool
}

// Dial connects to the daemon's rendezvous path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// Config returns the geometry installed by the last Configure.
func (c *Client) Config() pir.Config {
	return c.geo
}

// Configure installs a new geometry. The server flushes in-flight batches
// first, so any outstanding responses (in the old geometry) are consumed and
// discarded here.
func (c *Client) Configure(geo pir.Config) error {
	if err := geo.Validate(); err != nil {
		return err
	}
	payload := wire.MarshalConfigure(wire.ConfigParams{
		CellLength: int32(geo.CellLength),
		CellCount:  int32(geo.CellCount),
		BatchSize:  int32(geo.BatchSize),
	})
	if err := wire.WriteFull(c.conn, append([]byte{wire.CmdConfigure}, payload...)); err != nil {
		return err
	}
	for range c.outstanding {
		if _, err := c.recvResponse(); err != nil {
			return err
		}
	}
	c.outstanding = c.outstanding[:0]
	c.geo = geo
	return nil
}

// WriteHandle installs the database in an existing shared-memory segment.
func (c *Client) WriteHandle(handle int32) error {
	if err := wire.WriteFull(c.conn, append([]byte{wire.CmdWrite}, wire.MarshalHandle(handle)...)); err != nil {
		return err
	}
	ack := make([]byte, len(wire.Ack))
	if err := wire.ReadFull(c.conn, ack); err != nil {
		return err
	}
	if string(ack) != string(wire.Ack) {
		return fmt.Errorf("client: unexpected install acknowledgement %q", ack)
	}
	return nil
}

// WriteDatabase copies db into a fresh shared-memory segment and installs
// it. The segment is marked for removal once the server has attached it.
func (c *Client) WriteDatabase(db []byte) error {
	if len(db) != c.geo.DatabaseBytes() {
		return fmt.Errorf("client: database is %d bytes, geometry needs %d", len(db), c.geo.DatabaseBytes())
	}
	handle, remove, err := createSegment(db)
	if err != nil {
		return err
	}
	defer remove()
	return c.WriteHandle(int32(handle))
}

// Query issues one read command without waiting for its response.
func (c *Client) Query(mask []byte) error {
	return c.query(mask, true)
}

func (c *Client) query(mask []byte, caller bool) error {
	if len(mask) != c.geo.MaskBytes() {
		return fmt.Errorf("client: mask is %d bytes, geometry needs %d", len(mask), c.geo.MaskBytes())
	}
	if err := wire.WriteFull(c.conn, append([]byte{wire.CmdRead}, mask...)); err != nil {
		return err
	}
	c.outstanding = append(c.outstanding, caller)
	return nil
}

// Response receives the oldest outstanding response. Only legal when at
// least three queries are outstanding; younger responses are still in
// flight on the server.
func (c *Client) Response() ([]byte, error) {
	if len(c.outstanding) < 3 {
		return nil, fmt.Errorf("client: response still in flight; issue more queries or reconfigure")
	}
	return c.recvResponse()
}

func (c *Client) recvResponse() ([]byte, error) {
	resp := make([]byte, c.geo.ResponseBytes())
	if err := wire.ReadFull(c.conn, resp); err != nil {
		return nil, err
	}
	c.outstanding = c.outstanding[1:]
	return resp, nil
}

// Read issues a query and blocks for its response, padding with zero-mask
// queries until the pipeline yields it.
func (c *Client) Read(mask []byte) ([]byte, error) {
	if err := c.query(mask, true); err != nil {
		return nil, err
	}
	for {
		if len(c.outstanding) >= 3 {
			caller := c.outstanding[0]
			resp, err := c.recvResponse()
			if err != nil {
				return nil, err
			}
			if caller {
				return resp, nil
			}
			continue
		}
		if err := c.query(pir.ZeroMask(c.geo), false); err != nil {
			return nil, err
		}
	}
}

// Close closes the connection. Outstanding responses are abandoned; the
// server quiesces them.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Package httpcodec builds HTTP/1.1 requests by hand and parses raw
// responses, using the connection manager as its only transport. It exists
// for environments where the plain request/response cycle over an abstract
// protocol handler is wanted; it is not a general HTTP client.
package httpcodec

import (
	"context"
	"sync"
	"time"

	"github.com/HMasataka/conduit/logging"
	"github.com/HMasataka/conduit/pkg/network"
)

// Client performs HTTP requests over connections obtained from a manager.
// Each request creates a fresh connection and tears it down before
// returning, whatever the outcome.
type Client struct {
	manager *network.Manager
	logger  *logging.Logger

	mu      sync.Mutex
	lastErr *network.Error
}

// NewClient creates a codec client backed by the given manager
func NewClient(manager *network.Manager, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}
	return &Client{
		manager: manager,
		logger:  logger,
	}
}

// LastError returns the most recent request failure, or nil
func (c *Client) LastError() *network.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Do performs one HTTP request: it derives a connection config from the URL,
// opens and connects a connection, sends the assembled request as a single
// message, blocks for the response, parses it and closes the connection.
// The connection is torn down on every path, including failures.
func (c *Client) Do(ctx context.Context, rawURL, method string, headers []Header, body []byte, timeout time.Duration) (*Response, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, c.fail(err)
	}

	cfg := network.DefaultConfig(u.Host, u.Port, u.Protocol)
	cfg.Timeout = timeout

	id, err := c.manager.CreateConnection(cfg)
	if err != nil {
		return nil, c.fail(err)
	}
	defer c.manager.CloseConnection(id)

	if err := c.manager.Connect(ctx, id); err != nil {
		return nil, c.fail(err)
	}
	defer func() {
		if derr := c.manager.Disconnect(id); derr != nil {
			c.logger.Debug("disconnect after request failed", "connection_id", id, "error", derr)
		}
	}()

	req := Request{
		Method:  method,
		Path:    u.Path,
		Host:    u.Host,
		Headers: headers,
		Body:    body,
	}

	if err := c.manager.Send(ctx, id, network.NewMessage(req.Encode(), "")); err != nil {
		return nil, c.fail(err)
	}

	msg, err := c.manager.Receive(id, timeout)
	if err != nil {
		return nil, c.fail(network.WrapError(err, network.CodeReceiveFailed, "httpRequest",
			"failed to receive response"))
	}
	if msg == nil {
		return nil, c.fail(network.NewError(network.CodeReceiveFailed, "httpRequest",
			"failed to receive response"))
	}

	resp, err := ParseResponse(msg.Data)
	if err != nil {
		return nil, c.fail(err)
	}

	c.logger.Debug("request completed",
		"method", method,
		"host", u.Host,
		"status", resp.StatusCode,
	)

	return resp, nil
}

func (c *Client) fail(err error) error {
	if netErr, ok := err.(*network.Error); ok {
		c.mu.Lock()
		c.lastErr = netErr
		c.mu.Unlock()
	}
	return err
}

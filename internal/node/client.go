package node

import (
	"errors"
	"io"
	"net"
	"time"

	"OracleMon/internal/errkind"
	"OracleMon/internal/observability"

	"github.com/rs/zerolog"
)

// ErrAllNodesUnreachable is returned when connection establishment has
// exhausted the entire candidate pool. There is no further fallback; the
// daemon treats this as fatal.
var ErrAllNodesUnreachable = errors.New("all nodes unreachable")

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultBackoff        = 2 * time.Second
)

// Client owns one active connection to one of a fixed pool of candidate
// nodes. All requests are issued strictly one at a time; correlation relies
// on request-then-response ordering on the single connection.
type Client struct {
	nodes []string
	conn  net.Conn

	connectTimeout time.Duration
	readTimeout    time.Duration
	backoff        time.Duration

	// dial is swappable for tests.
	dial func(addr string, timeout time.Duration) (net.Conn, error)
	// sleep is swappable for tests.
	sleep func(d time.Duration)

	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewClient creates a client over a fixed candidate pool, tried in order.
func NewClient(nodes []string, logger zerolog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		nodes:          nodes,
		connectTimeout: defaultConnectTimeout,
		readTimeout:    defaultReadTimeout,
		backoff:        defaultBackoff,
		dial: func(addr string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, timeout)
		},
		sleep:   time.Sleep,
		logger:  logger,
		metrics: metrics,
	}
}

// EnsureConnected is a no-op when a connection is live; otherwise it tries
// each candidate in order until one connects or the pool is exhausted.
func (c *Client) EnsureConnected() error {
	if c.conn != nil {
		return nil
	}

	for i, addr := range c.nodes {
		conn, err := c.dial(addr, c.connectTimeout)
		if err != nil {
			c.logger.Warn().Str("node", addr).Err(err).Msg("node connect failed")
			continue
		}
		c.conn = conn
		c.logger.Info().Str("node", addr).Msg("connected")
		if i > 0 && c.metrics != nil {
			c.metrics.NodeFailovers.Inc()
		}
		return nil
	}

	return errkind.Wrap(errkind.Transport, ErrAllNodesUnreachable)
}

// Close discards the active connection, if any.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// safeCall runs op against the current connection. A transport-classified
// failure (timeout, disconnect, flood) closes the dead connection, waits the
// fixed backoff, reconnects via the pool, and retries the operation exactly
// once. Any other failure propagates immediately.
func (c *Client) safeCall(opName string, op func(conn net.Conn, r io.Reader) error) error {
	start := time.Now()
	err := c.doCall(op)
	if err != nil {
		kind := errkind.KindOf(err)
		if c.metrics != nil {
			c.metrics.RequestErrors.WithLabelValues(opName, kind.String()).Inc()
		}
		if kind != errkind.Transport && kind != errkind.Flood {
			return err
		}

		c.logger.Warn().Str("op", opName).Err(err).Msg("transport failure, reconnecting")
		c.Close()
		if c.metrics != nil {
			c.metrics.Reconnects.Inc()
		}
		c.sleep(c.backoff)

		err = c.doCall(op)
		if err != nil {
			if c.metrics != nil {
				c.metrics.RequestErrors.WithLabelValues(opName, errkind.KindOf(err).String()).Inc()
			}
			return err
		}
	}

	if c.metrics != nil {
		c.metrics.RequestDuration.WithLabelValues(opName).Observe(time.Since(start).Seconds())
	}
	return nil
}

func (c *Client) doCall(op func(conn net.Conn, r io.Reader) error) error {
	if err := c.EnsureConnected(); err != nil {
		return err
	}
	return op(c.conn, deadlineReader{conn: c.conn, timeout: c.readTimeout})
}

// send writes one encoded frame, classifying write failures as transport.
func (c *Client) send(conn net.Conn, frame []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return errkind.Wrap(errkind.Transport, err)
	}
	if _, err := conn.Write(frame); err != nil {
		return errkind.Wrap(errkind.Transport, err)
	}
	return nil
}

// deadlineReader refreshes the read deadline on every Read so a stalled
// stream surfaces as a timeout instead of blocking forever, and classifies
// read failures as transport errors.
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r deadlineReader) Read(p []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return 0, errkind.Wrap(errkind.Transport, err)
	}
	n, err := r.conn.Read(p)
	if err != nil {
		return n, errkind.Wrap(errkind.Transport, err)
	}
	return n, nil
}

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eliquinox/simple-rsm/lib/cluster"
	"github.com/eliquinox/simple-rsm/lib/rsm/internal"
	"github.com/eliquinox/simple-rsm/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rcrowley/go-metrics"
)

var (
	log = logger.GetLogger("client")

	// ErrTimeout is returned when no response arrived for any attempt of a request
	ErrTimeout = errors.New("client: timeout waiting for response")
	// ErrClosed is returned for requests on a stopped client or a closed session
	ErrClosed = cluster.ErrClosed
)

// session is the part of cluster.ClusterClient the client uses
type session interface {
	Offer(payload []byte) error
	PollEgress() int
	SendKeepAlive() error
	Close() error
	IsClosed() bool
}

// Client reads and writes the replicated value of a cluster.
//
// Requests are issued serially, concurrent GetValue/SetValue calls are queued. Responses are
// matched by correlation id, a request without a response is resubmitted with the same
// correlation id, the service answers a resubmitted command without applying it again.
type Client struct {
	config  common.ClientConfig
	timeout time.Duration
	session session

	// last response received on the session, written by whoever polls
	last          atomic.Pointer[internal.Response]
	correlationID atomic.Int64

	requestMu sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   atomic.Bool
	stopOnce  sync.Once

	registry      metrics.Registry
	requests      metrics.Timer
	retries       metrics.Counter
	timeouts      metrics.Counter
	backPressured metrics.Counter
}

// NewClient validates the configuration and creates a client, Start connects it
func NewClient(config common.ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	registry := metrics.NewRegistry()
	c := &Client{
		config:        config,
		timeout:       time.Duration(config.TimeoutSecond) * time.Second,
		ctx:           ctx,
		cancel:        cancel,
		registry:      registry,
		requests:      metrics.NewRegisteredTimer("requests", registry),
		retries:       metrics.NewRegisteredCounter("retries", registry),
		timeouts:      metrics.NewRegisteredCounter("timeouts", registry),
		backPressured: metrics.NewRegisteredCounter("back_pressured", registry),
	}
	// unique among outstanding requests and strictly increasing within this client
	c.correlationID.Store(time.Now().UnixNano())
	return c, nil
}

// Start opens the session and starts the polling and keep alive loops.
// It returns once the session is confirmed by the leader.
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("client already started")
	}

	t, err := c.config.Topology()
	if err != nil {
		c.started.Store(false)
		return err
	}
	cc, err := cluster.Connect(ctx, cluster.ClusterClientConfig{
		IngressEndpoints: t.IngressEndpoints(),
		ConnectTimeout:   time.Duration(c.config.ConnectTimeoutSecond) * time.Second,
		MessageTimeout:   c.timeout,
	}, c)
	if err != nil {
		// the client can be started again
		c.started.Store(false)
		return fmt.Errorf("failed to connect to cluster: %w", err)
	}
	c.run(cc)
	return nil
}

// Stop closes the session and waits for the background loops, it is safe to call it more than once
func (c *Client) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
		if c.session != nil {
			err = c.session.Close()
		}
	})
	return err
}

// GetValue returns the replicated value
func (c *Client) GetValue() (int64, error) {
	return c.execute(internal.Command{Type: internal.CommandTGet})
}

// SetValue replaces the replicated value and returns the value confirmed by the cluster
func (c *Client) SetValue(value int64) (int64, error) {
	return c.execute(internal.Command{Type: internal.CommandTSet, Value: value})
}

// LastRespondingNodeID returns the member id of the most recent response, -1 before the first one
func (c *Client) LastRespondingNodeID() int {
	if r := c.last.Load(); r != nil {
		return int(r.NodeID)
	}
	return -1
}

// Registry returns the metrics registry of the client (request timer, retry, timeout and back pressure counters)
func (c *Client) Registry() metrics.Registry {
	return c.registry
}

// Stats is a summary of the requests of a client
type Stats struct {
	Requests      int64
	Retries       int64
	Timeouts      int64
	BackPressured int64
	Mean          time.Duration
	P50           time.Duration
	P99           time.Duration
	Max           time.Duration
}

// Stats returns a summary of the request metrics
func (c *Client) Stats() Stats {
	snapshot := c.requests.Snapshot()
	ps := snapshot.Percentiles([]float64{0.5, 0.99})
	return Stats{
		Requests:      snapshot.Count(),
		Retries:       c.retries.Count(),
		Timeouts:      c.timeouts.Count(),
		BackPressured: c.backPressured.Count(),
		Mean:          time.Duration(snapshot.Mean()),
		P50:           time.Duration(ps[0]),
		P99:           time.Duration(ps[1]),
		Max:           time.Duration(snapshot.Max()),
	}
}

// --------------------------------------------------------------------------
// cluster.EgressListener
// --------------------------------------------------------------------------

// OnMessage records a response
func (c *Client) OnMessage(sessionID uint64, _ int64, payload []byte) {
	r := &internal.Response{}
	if err := r.Deserialize(payload); err != nil {
		log.Warningf("session %d: invalid response: %v", sessionID, err)
		return
	}
	c.last.Store(r)
}

func (c *Client) OnSessionEvent(event cluster.SessionEvent) {
	log.Debugf("session %d: %s (member %d) %s", event.SessionID, event.Code, event.LeaderMemberID, event.Detail)
}

func (c *Client) OnNewLeader(sessionID uint64, leaderMemberID int) {
	log.Infof("session %d: new leader is member %d", sessionID, leaderMemberID)
}

// --------------------------------------------------------------------------
// Internal Methods
// --------------------------------------------------------------------------

// run starts the background loops on an open session
func (c *Client) run(s session) {
	c.session = s
	c.wg.Add(2)
	go c.poll()
	go c.keepAlive()
}

// poll drains the egress of the session until the client is stopped
func (c *Client) poll() {
	defer c.wg.Done()

	interval := time.Duration(c.config.PollIntervalMillisecond) * time.Millisecond
	idle := cluster.NewBackoffIdleStrategy(interval/8, interval)
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		if c.session.IsClosed() {
			log.Warningf("session closed, stopped polling")
			return
		}
		idle.Idle(c.session.PollEgress())
	}
}

// keepAlive keeps the session open while no requests are sent
func (c *Client) keepAlive() {
	defer c.wg.Done()

	ticker := time.NewTicker(time.Duration(c.config.KeepAliveIntervalMillisecond) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.session.IsClosed() {
				return
			}
			if err := c.session.SendKeepAlive(); err != nil {
				log.Debugf("keep alive failed: %v", err)
			}
		}
	}
}

// execute sends a command and waits for its response. Every attempt uses the same correlation id.
func (c *Client) execute(cmd internal.Command) (int64, error) {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	if !c.started.Load() || c.session == nil {
		return 0, fmt.Errorf("%w: client not started", ErrClosed)
	}

	cmd.CorrelationID = c.correlationID.Add(1)
	payload := cmd.Serialize()
	start := time.Now()

	for attempt := 1; attempt <= c.config.RetryCount; attempt++ {
		if attempt > 1 {
			c.retries.Inc(1)
			log.Warningf("no response for %s %d, attempt %d/%d", cmd.Type, cmd.CorrelationID, attempt, c.config.RetryCount)
		}

		err := c.offer(payload)
		if err == nil {
			var r internal.Response
			r, err = c.waitForCorrelationID(cmd.CorrelationID)
			if err == nil {
				c.requests.UpdateSince(start)
				return r.Value, nil
			}
		}
		if !errors.Is(err, ErrTimeout) {
			return 0, err
		}
	}

	c.timeouts.Inc(1)
	return 0, fmt.Errorf("%w: %s %d after %d attempts", ErrTimeout, cmd.Type, cmd.CorrelationID, c.config.RetryCount)
}

// offer submits the payload, transient errors are retried until the request timeout while the
// egress is polled so back pressure can clear
func (c *Client) offer(payload []byte) error {
	deadline := time.Now().Add(c.timeout)
	idle := cluster.NewBackoffIdleStrategy(10*time.Microsecond, time.Duration(c.config.MaxIdleMillisecond)*time.Millisecond)

	for {
		err := c.session.Offer(payload)
		if err == nil {
			return nil
		}
		if !cluster.IsRetryable(err) {
			return err
		}
		c.backPressured.Inc(1)
		if err := c.checkOpen(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: offer failed: %v", ErrTimeout, err)
		}
		idle.Idle(c.session.PollEgress())
	}
}

// waitForCorrelationID polls until the response with the correlation id arrived or the request timeout passed
func (c *Client) waitForCorrelationID(correlationID int64) (internal.Response, error) {
	deadline := time.Now().Add(c.timeout)
	idle := cluster.NewBackoffIdleStrategy(10*time.Microsecond, time.Duration(c.config.MaxIdleMillisecond)*time.Millisecond)

	for {
		if r := c.last.Load(); r != nil && r.CorrelationID == correlationID {
			return *r, nil
		}
		if err := c.checkOpen(); err != nil {
			return internal.Response{}, err
		}
		if time.Now().After(deadline) {
			return internal.Response{}, ErrTimeout
		}
		idle.Idle(c.session.PollEgress())
	}
}

func (c *Client) checkOpen() error {
	if c.ctx.Err() != nil {
		return fmt.Errorf("%w: client stopped", ErrClosed)
	}
	if c.session.IsClosed() {
		return fmt.Errorf("%w: session closed", ErrClosed)
	}
	return nil
}

// Package etcd provides leader election so that only one daemon reconfigures the cluster.
package etcd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/config"
)

// ErrNoLeader indicates no participant holds the election.
var ErrNoLeader = errors.New("no leader elected")

// Client wraps an etcd client and its lease-backed session.
type Client struct {
	client  *clientv3.Client
	session *concurrency.Session
	logger  *zap.Logger
}

// NewClient creates a new etcd client.
func NewClient(cfg config.EtcdConfig, logger *zap.Logger) (*Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 10
	}
	session, err := concurrency.NewSession(client, concurrency.WithTTL(ttl))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	logger.Info("Connected to etcd", zap.Strings("endpoints", cfg.Endpoints), zap.Int("session_ttl", ttl))

	return &Client{
		client:  client,
		session: session,
		logger:  logger.With(zap.String("component", "etcd")),
	}, nil
}

// Close closes the etcd client and session.
func (c *Client) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

// Health checks if etcd is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Status(ctx, c.client.Endpoints()[0])
	return err
}

// =============================================================================
// Leader Election
// =============================================================================

// Leader represents a leader election participant.
type Leader struct {
	election *concurrency.Election
	client   *Client
	key      string
	identity string
	isLeader atomic.Bool
}

// LeaderCallback is called when leadership status changes.
type LeaderCallback func(isLeader bool)

// Campaign starts a leader election campaign under key in the background.
// identity is the value advertised while leading.
func (c *Client) Campaign(ctx context.Context, key, identity string, callback LeaderCallback) *Leader {
	leader := &Leader{
		election: concurrency.NewElection(c.session, key),
		client:   c,
		key:      key,
		identity: identity,
	}

	go leader.run(ctx, callback)

	return leader
}

func (l *Leader) run(ctx context.Context, callback LeaderCallback) {
	logger := l.client.logger.With(zap.String("key", l.key), zap.String("identity", l.identity))

	for {
		if err := l.election.Campaign(ctx, l.identity); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Leader campaign failed, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		l.isLeader.Store(true)
		logger.Info("Became leader")
		if callback != nil {
			callback(true)
		}

		// Leadership lasts as long as the session lease.
		select {
		case <-ctx.Done():
			return
		case <-l.client.session.Done():
			l.isLeader.Store(false)
			logger.Warn("Lost leadership")
			if callback != nil {
				callback(false)
			}
			return
		}
	}
}

// IsLeader returns true if this instance is currently the leader.
func (l *Leader) IsLeader() bool {
	return l.isLeader.Load()
}

// Resign resigns from leadership.
func (l *Leader) Resign(ctx context.Context) error {
	if !l.isLeader.Load() {
		return nil
	}

	if err := l.election.Resign(ctx); err != nil {
		return fmt.Errorf("failed to resign: %w", err)
	}

	l.isLeader.Store(false)
	l.client.logger.Info("Resigned from leadership", zap.String("key", l.key))
	return nil
}

// CurrentLeader returns the identity of the current leader.
func (c *Client) CurrentLeader(ctx context.Context, key string) (string, error) {
	election := concurrency.NewElection(c.session, key)

	resp, err := election.Leader(ctx)
	if err != nil {
		if errors.Is(err, concurrency.ErrElectionNoLeader) {
			return "", ErrNoLeader
		}
		return "", fmt.Errorf("failed to get leader: %w", err)
	}

	if len(resp.Kvs) == 0 {
		return "", ErrNoLeader
	}

	return string(resp.Kvs[0].Value), nil
}

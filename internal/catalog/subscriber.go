// subscriber.go — the Catalog Subscriber.
//
// Consumes a stream of {Create|Update|Delete} control messages from Redis
// pub/sub and keeps the in-memory Catalog (and, for code-affecting changes,
// the per-thread isolate caches) consistent with the control plane.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventKind identifies the type of control message.
type EventKind string

const (
	EventCreate EventKind = "create"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// Event is the wire shape of a control message published on the catalog
// channel.
type Event struct {
	Kind         EventKind `json:"kind"`
	DeploymentID string    `json:"deployment_id"`
	Deployment   *Deployment `json:"deployment,omitempty"`
}

// CodeFetcher pre-fetches a deployment's code bundle into the blob-store
// cache. Failures are logged, never fatal — fetching is best-effort.
type CodeFetcher interface {
	Prefetch(ctx context.Context, codeKey string) error
}

// Evictor is the subset of the worker pool / isolate cache surface the
// Subscriber needs: a way to ask every worker thread to drop its cached
// isolate for a hostname, without blocking on completion.
type Evictor interface {
	EvictAll(hostname string)
}

// Subscriber runs for the process lifetime, applying control messages to a
// Catalog and signalling isolate eviction through an Evictor.
type Subscriber struct {
	rdb     *redis.Client
	channel string
	catalog *Catalog
	evictor Evictor
	fetcher CodeFetcher
	log     *zap.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewSubscriber builds a Subscriber. fetcher may be nil if code prefetch is
// not desired (Create then behaves as install-only).
func NewSubscriber(rdb *redis.Client, channel string, cat *Catalog, evictor Evictor, fetcher CodeFetcher, log *zap.Logger) *Subscriber {
	return &Subscriber{
		rdb:        rdb,
		channel:    channel,
		catalog:    cat,
		evictor:    evictor,
		fetcher:    fetcher,
		log:        log,
		minBackoff: 100 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Run blocks until ctx is cancelled, reconnecting with bounded exponential
// backoff whenever the pub/sub connection drops. A single malformed message
// is logged and skipped; it never stops the stream.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := s.minBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := s.listenOnce(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}

		s.log.Error("pub/sub connection lost, reconnecting",
			zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// listenOnce subscribes and processes messages until the connection breaks
// or ctx is cancelled. It returns nil only on cancellation — any other
// return is a disconnect. Run does not reset its backoff after a successful
// subscription, so each reconnect waits at least as long as the previous one.
func (s *Subscriber) listenOnce(ctx context.Context) error {
	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			s.handle(ctx, msg.Payload)
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, payload string) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		s.log.Error("malformed catalog event, skipping", zap.Error(err))
		return
	}

	switch evt.Kind {
	case EventCreate:
		s.handleCreate(ctx, &evt)
	case EventUpdate:
		s.handleUpdate(&evt)
	case EventDelete:
		s.handleDelete(&evt)
	default:
		s.log.Error("unknown catalog event kind, skipping", zap.String("kind", string(evt.Kind)))
	}
}

func (s *Subscriber) handleCreate(ctx context.Context, evt *Event) {
	if evt.Deployment == nil {
		s.log.Error("create event missing deployment payload", zap.String("deployment_id", evt.DeploymentID))
		return
	}
	d := evt.Deployment

	if s.fetcher != nil {
		if err := s.fetcher.Prefetch(ctx, d.CodeKey); err != nil {
			s.log.Error("best-effort code prefetch failed", zap.String("code_key", d.CodeKey), zap.Error(err))
		}
	}

	for _, host := range d.Hostnames {
		if ownerID, ok := s.catalog.HostnameOwner(host); ok && ownerID != d.ID {
			s.log.Error("hostname conflict on create",
				zap.Error(&HostnameConflict{Hostname: host, ExistingID: ownerID, IncomingID: d.ID}))
			continue
		}
		s.catalog.Install(host, d)
	}
}

func (s *Subscriber) handleUpdate(evt *Event) {
	if evt.Deployment == nil {
		s.log.Error("update event missing deployment payload", zap.String("deployment_id", evt.DeploymentID))
		return
	}
	d := evt.Deployment

	for _, host := range d.Hostnames {
		old, hadOld := s.catalog.Lookup(host)
		s.catalog.Install(host, d)

		if hadOld && !old.CodeEquivalent(d) {
			s.evictor.EvictAll(host)
		}
	}
}

func (s *Subscriber) handleDelete(evt *Event) {
	for _, host := range s.catalog.HostnamesForDeployment(evt.DeploymentID) {
		s.catalog.Remove(host)
		s.evictor.EvictAll(host)
	}
}

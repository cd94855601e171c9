package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresSource opens one LISTEN connection per stream. NOTIFY cannot be
// filtered per listener, so rows of other owners are dropped here, before
// they reach any subscriber.
type PostgresSource struct {
	dsn          string
	minReconnect time.Duration
	maxReconnect time.Duration
	load         Loader
	logger       *zap.Logger
}

func NewPostgresSource(dsn string, minReconnect, maxReconnect time.Duration, load Loader, logger *zap.Logger) *PostgresSource {
	return &PostgresSource{
		dsn:          dsn,
		minReconnect: minReconnect,
		maxReconnect: maxReconnect,
		load:         load,
		logger:       logger,
	}
}

func (p *PostgresSource) Open(ctx context.Context, ownerID string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := p.logger.With(zap.String("owner_id", ownerID))
	listener := pq.NewListener(p.dsn, p.minReconnect, p.maxReconnect, listenerCallback(logger))
	if err := listener.Listen(Channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: %w", Channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &pgStream{
		listener: listener,
		out:      make(chan Event, defaultHubBuffer),
		cancel:   cancel,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.out)
		forward(runCtx, listener.Notify, ownerID, p.load, s.out, logger)
	}()
	return s, nil
}

type pgStream struct {
	listener *pq.Listener
	out      chan Event
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
	err      error
}

func (s *pgStream) Events() <-chan Event {
	return s.out
}

func (s *pgStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.listener.Close()
		s.wg.Wait()
	})
	return s.err
}

func listenerCallback(logger *zap.Logger) pq.EventCallbackType {
	return func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			logger.Warn("Change feed connection lost", zap.Error(err))
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn("Change feed reconnect attempt failed", zap.Error(err))
		case pq.ListenerEventReconnected:
			logger.Info("Change feed reconnected")
		}
	}
}

// forward decodes notifications for ownerID, resolves partial rows and sends
// the events to out until in is closed or ctx is done. A nil notification
// marks a reconnect after which events may have been missed.
func forward(ctx context.Context, in <-chan *pq.Notification, ownerID string, load Loader, out chan<- Event, logger *zap.Logger) {
	for {
		var n *pq.Notification
		var ok bool
		select {
		case <-ctx.Done():
			return
		case n, ok = <-in:
			if !ok {
				return
			}
		}
		if n == nil {
			logger.Warn("Change feed re-established, events during the outage were missed")
			continue
		}

		ev, err := Decode([]byte(n.Extra))
		if err != nil {
			logger.Error("Skipping malformed change event", zap.Error(err), zap.String("channel", n.Channel))
			continue
		}
		if ev.OwnerID() != ownerID {
			continue
		}
		ev, err = resolve(ctx, load, ev)
		if err != nil {
			logger.Error("Dropping partial change event",
				zap.Error(err),
				zap.Int64("note_id", ev.NoteID()))
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// resolve replaces the id-only row of a partial INSERT or UPDATE with the
// current row read through load.
func resolve(ctx context.Context, load Loader, ev Event) (Event, error) {
	if !ev.Partial {
		return ev, nil
	}
	if ev.Type == Delete {
		ev.Partial = false
		return ev, nil
	}
	if load == nil {
		return ev, fmt.Errorf("no loader for partial %s event", ev.Type)
	}
	n, err := load(ctx, ev.OwnerID(), ev.New.ID)
	if err != nil {
		return ev, fmt.Errorf("load note %d: %w", ev.New.ID, err)
	}
	ev.New = &n
	ev.Partial = false
	return ev, nil
}

package indexer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"stakeescrow/core/events"
	"stakeescrow/core/types"
)

// Indexer persists published events. Emit only enqueues; Run performs the
// writes so the executor is never blocked on the database.
type Indexer struct {
	db      *gorm.DB
	logger  *slog.Logger
	queue   chan types.Event
	now     func() time.Time
	dropped atomic.Uint64
}

// New migrates the schema and returns an indexer with the given queue size.
func New(db *gorm.DB, logger *slog.Logger, queueSize int) (*Indexer, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Indexer{
		db:     db,
		logger: logger.With(slog.String("component", "indexer")),
		queue:  make(chan types.Event, queueSize),
		now:    time.Now,
	}, nil
}

// Emit implements events.Emitter.
func (i *Indexer) Emit(evt events.Event) {
	if i == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	select {
	case i.queue <- *payload.Clone():
	default:
		if i.dropped.Add(1) == 1 {
			i.logger.Warn("event queue full, dropping events", slog.String("type", payload.Type))
		}
	}
}

// Dropped returns the number of events lost to a full queue.
func (i *Indexer) Dropped() uint64 { return i.dropped.Load() }

// Run writes queued events until ctx is cancelled, then drains whatever is
// still queued before returning.
func (i *Indexer) Run(ctx context.Context) {
	for {
		select {
		case evt := <-i.queue:
			i.store(evt)
		case <-ctx.Done():
			for {
				select {
				case evt := <-i.queue:
					i.store(evt)
				default:
					return
				}
			}
		}
	}
}

func (i *Indexer) store(evt types.Event) {
	record, err := newRecord(evt, i.now())
	if err == nil {
		err = i.db.Create(record).Error
	}
	if err != nil {
		i.logger.Error("store event", slog.String("type", evt.Type), slog.String("error", err.Error()))
	}
}

// List returns stored events matching q.
func (i *Indexer) List(ctx context.Context, q Query) ([]Entry, error) {
	return List(ctx, i.db, q)
}

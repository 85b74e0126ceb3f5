package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lyzr/mutwizard/common/engine"
	"github.com/lyzr/mutwizard/common/logger"
	"github.com/lyzr/mutwizard/common/queue"
)

// ErrPersistenceDisabled is returned by report queries when no database is
// configured
var ErrPersistenceDisabled = errors.New("report persistence is disabled")

// ReportStore persists finished run reports
type ReportStore interface {
	Save(ctx context.Context, ownerID string, report engine.Report) error
	GetByID(ctx context.Context, ownerID string, runID uuid.UUID) (*engine.Report, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*engine.Report, error)
}

// finishedRun is the queue message for a finished run
type finishedRun struct {
	OwnerID string        `json:"owner_id"`
	Report  engine.Report `json:"report"`
}

// RunPublisher puts every finished run of one owner on the run-finished topic
type RunPublisher struct {
	queue queue.Queue
	owner string
	log   *logger.Logger
}

// NewRunPublisher creates a run observer publishing to q
func NewRunPublisher(q queue.Queue, owner string, log *logger.Logger) *RunPublisher {
	return &RunPublisher{queue: q, owner: owner, log: log}
}

// OnRunFinished implements engine.RunObserver
func (p *RunPublisher) OnRunFinished(ctx context.Context, report engine.Report) {
	body, err := json.Marshal(finishedRun{OwnerID: p.owner, Report: report})
	if err != nil {
		p.log.Error("failed to marshal finished run", "run_id", report.RunID.String(), "error", err)
		return
	}
	if err := p.queue.Publish(ctx, queue.TopicRunFinished, report.RunID.String(), body); err != nil {
		p.log.Warn("failed to publish finished run", "run_id", report.RunID.String(), "error", err)
	}
}

// ReportArchive stores finished runs off the request path and serves them
// back per owner
type ReportArchive struct {
	store ReportStore
	queue queue.Queue
	log   *logger.Logger
}

// NewReportArchive creates a report archive. store may be nil, in which case
// finished runs are dropped and queries return ErrPersistenceDisabled.
func NewReportArchive(store ReportStore, q queue.Queue, log *logger.Logger) *ReportArchive {
	return &ReportArchive{store: store, queue: q, log: log}
}

// Start subscribes to the run-finished topic
func (a *ReportArchive) Start(ctx context.Context) error {
	if a.store == nil || a.queue == nil {
		a.log.Info("report archive disabled")
		return nil
	}
	return a.queue.Subscribe(ctx, queue.TopicRunFinished, a.handle)
}

func (a *ReportArchive) handle(ctx context.Context, key string, value []byte) error {
	var msg finishedRun
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("failed to decode finished run %s: %w", key, err)
	}
	if err := a.store.Save(ctx, msg.OwnerID, msg.Report); err != nil {
		return err
	}
	a.log.Debug("run report archived", "run_id", key, "owner_id", msg.OwnerID)
	return nil
}

// Get returns a persisted report
func (a *ReportArchive) Get(ctx context.Context, owner string, runID uuid.UUID) (*engine.Report, error) {
	if a.store == nil {
		return nil, ErrPersistenceDisabled
	}
	return a.store.GetByID(ctx, ownerOrAnonymous(owner), runID)
}

// List returns the owner's most recent reports
func (a *ReportArchive) List(ctx context.Context, owner string, limit int) ([]*engine.Report, error) {
	if a.store == nil {
		return nil, ErrPersistenceDisabled
	}
	return a.store.ListByOwner(ctx, ownerOrAnonymous(owner), limit)
}

func ownerOrAnonymous(owner string) string {
	if owner == "" {
		return AnonymousOwner
	}
	return owner
}

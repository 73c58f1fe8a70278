// Package lifecycle creates maintenance requests and applies their status
// transitions. It is the only code that changes a request's status.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/facilitydesk/repair-bot/internal/db"
	"github.com/facilitydesk/repair-bot/internal/events"
	"github.com/facilitydesk/repair-bot/internal/models"
	"github.com/facilitydesk/repair-bot/internal/notify"
	"github.com/facilitydesk/repair-bot/pkg/logger"
	"github.com/facilitydesk/repair-bot/pkg/metrics"
)

var (
	ErrInvalidStatus   = errors.New("invalid target status")
	ErrNotOperator     = errors.New("actor is not an operator")
	ErrUnknownReporter = errors.New("reporter is not registered")
)

// Store is the persistence the controller needs.
type Store interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	CreateRequest(ctx context.Context, userID int64, category models.Category, location, description, photoRef string) (*models.Request, error)
	GetRequest(ctx context.Context, id int64) (*models.Request, error)
	UpdateStatus(ctx context.Context, id int64, status models.RequestStatus, assignee int64) error
}

// Notifier dispatches lifecycle notifications.
type Notifier interface {
	NotifyNewRequest(ctx context.Context, req *models.Request) notify.Result
	NotifyStatusChange(ctx context.Context, req *models.Request, actorName string) notify.Result
}

// Publisher receives lifecycle events. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// Actor is the operator applying a transition.
type Actor struct {
	TelegramID int64
	Name       string
}

// Created is the outcome of Create.
type Created struct {
	Request  *models.Request
	Notified notify.Result
}

// Transitioned is the outcome of Transition. Request is nil when the
// request does not exist; nothing was changed in that case.
type Transitioned struct {
	Request  *models.Request
	Actions  []models.Action // controls still available to operators
	Repeat   bool            // target equals the previous status
	Notified notify.Result
}

type Controller struct {
	store     Store
	notifier  Notifier
	publisher Publisher
	roster    *models.Roster
	logger    *logger.Logger
}

type Option func(*Controller)

// WithPublisher publishes lifecycle events to p.
func WithPublisher(p Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

func New(store Store, notifier Notifier, roster *models.Roster, log *logger.Logger, opts ...Option) *Controller {
	c := &Controller{
		store:    store,
		notifier: notifier,
		roster:   roster,
		logger:   log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create persists a new request in status new for the reporter and
// notifies the routed recipients. Only persistence problems are errors.
func (c *Controller) Create(ctx context.Context, reporterID int64, d models.Draft) (*Created, error) {
	user, err := c.store.GetUserByTelegramID(ctx, reporterID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUnknownReporter
	}
	if err != nil {
		return nil, fmt.Errorf("lookup reporter: %w", err)
	}

	req, err := c.store.CreateRequest(ctx, user.ID, d.Category, d.Location, d.Description, d.PhotoRef)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.ReporterTelegramID = user.TelegramID
	req.ReporterName = user.FullName

	metrics.RequestsCreated.WithLabelValues(string(req.Category)).Inc()
	c.logger.Info("request created",
		zap.Int64("request_id", req.ID),
		zap.String("category", string(req.Category)),
		zap.Int64("reporter", reporterID),
		zap.Bool("photo", req.PhotoRef != ""),
	)

	c.publish(ctx, events.Event{
		Type:       events.TypeCreated,
		RequestID:  req.ID,
		Category:   string(req.Category),
		Status:     string(req.Status),
		ReporterID: reporterID,
		OccurredAt: req.CreatedAt,
	})

	return &Created{
		Request:  req,
		Notified: c.notifier.NotifyNewRequest(ctx, req),
	}, nil
}

// Transition moves a request to target on behalf of an operator. Only
// in_progress and completed are accepted. Re-applying the current status
// is allowed and treated like any other transition.
func (c *Controller) Transition(ctx context.Context, id int64, target models.RequestStatus, actor Actor) (*Transitioned, error) {
	if target != models.StatusInProgress && target != models.StatusCompleted {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	if !c.roster.IsOperator(actor.TelegramID) {
		return nil, ErrNotOperator
	}

	log := c.logger.With(
		zap.Int64("request_id", id),
		zap.String("status", string(target)),
		zap.Int64("actor", actor.TelegramID),
	)

	current, err := c.store.GetRequest(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		log.Info("transition for unknown request ignored")
		return &Transitioned{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}

	if err := c.store.UpdateStatus(ctx, id, target, actor.TelegramID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			log.Info("transition for unknown request ignored")
			return &Transitioned{}, nil
		}
		return nil, fmt.Errorf("update status: %w", err)
	}
	repeat := current.Status == target

	updated, err := c.store.GetRequest(ctx, id)
	if err != nil {
		log.Warn("reload after transition failed, using local copy", zap.Error(err))
		updated = applyLocally(current, target, actor.TelegramID)
	}

	metrics.Transitions.WithLabelValues(string(target)).Inc()
	log.Info("request status changed",
		zap.String("previous", string(current.Status)),
		zap.Bool("repeat", repeat),
	)

	c.publish(ctx, events.Event{
		Type:       events.TypeStatusChanged,
		RequestID:  id,
		Category:   string(updated.Category),
		Status:     string(target),
		ReporterID: updated.ReporterTelegramID,
		ActorID:    actor.TelegramID,
		OccurredAt: time.Now().UTC(),
	})

	return &Transitioned{
		Request:  updated,
		Actions:  models.ActionsFor(target),
		Repeat:   repeat,
		Notified: c.notifier.NotifyStatusChange(ctx, updated, actor.Name),
	}, nil
}

func (c *Controller) publish(ctx context.Context, e events.Event) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, e); err != nil {
		c.logger.Warn("failed to publish lifecycle event",
			zap.String("type", e.Type),
			zap.Int64("request_id", e.RequestID),
			zap.Error(err),
		)
	}
}

func applyLocally(req *models.Request, target models.RequestStatus, assignee int64) *models.Request {
	out := *req
	out.Status = target
	out.AssignedTo = assignee
	out.CompletedAt = nil
	if target == models.StatusCompleted {
		now := time.Now().UTC()
		out.CompletedAt = &now
	}
	return &out
}

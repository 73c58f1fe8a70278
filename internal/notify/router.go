// Package notify decides who hears about a request and delivers the
// rendered notifications through a Sink.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/facilitydesk/repair-bot/internal/models"
	"github.com/facilitydesk/repair-bot/pkg/logger"
	"github.com/facilitydesk/repair-bot/pkg/metrics"
)

const (
	EventNewRequest   = "new_request"
	EventStatusChange = "status_change"
)

// DefaultResponsible is shown when a category has no responsible person.
const DefaultResponsible = "On-duty staff"

// Message is one outgoing notification. A message with a PhotoRef is sent
// as a photo with the text as caption.
type Message struct {
	Text      string
	PhotoRef  string
	RequestID int64
	Actions   []models.Action
}

// Sink delivers a message to one recipient.
type Sink interface {
	Send(ctx context.Context, recipient int64, msg Message) error
}

// Routing holds the per-category routing tables.
type Routing struct {
	Responsible map[models.Category]string
	Recipients  map[models.Category][]int64
}

// ResponsibleFor returns the responsible-person label for a category.
func (r Routing) ResponsibleFor(c models.Category) string {
	if label, ok := r.Responsible[c]; ok && label != "" {
		return label
	}
	return DefaultResponsible
}

// Result counts delivery outcomes for one notification event.
type Result struct {
	Attempted int
	Delivered int
}

func (r Result) Failed() int {
	return r.Attempted - r.Delivered
}

type Router struct {
	sink    Sink
	roster  *models.Roster
	routing Routing
	timeout time.Duration
	logger  *logger.Logger
}

// NewRouter creates a router. timeout bounds every single delivery.
func NewRouter(sink Sink, roster *models.Roster, routing Routing, timeout time.Duration, log *logger.Logger) *Router {
	return &Router{
		sink:    sink,
		roster:  roster,
		routing: routing,
		timeout: timeout,
		logger:  log,
	}
}

// Routing returns the routing tables the router was built with.
func (r *Router) Routing() Routing {
	return r.routing
}

// Recipients resolves who is told about a new request in category c: the
// override list when one is configured, every operator otherwise.
func (r *Router) Recipients(c models.Category) []int64 {
	if ids, ok := r.routing.Recipients[c]; ok && len(ids) > 0 {
		return dedupe(ids)
	}
	return r.roster.IDs()
}

// NotifyNewRequest sends the new-request notification with both action
// controls to every resolved recipient. Failures are isolated per
// recipient and only counted.
func (r *Router) NotifyNewRequest(ctx context.Context, req *models.Request) Result {
	recipients := r.Recipients(req.Category)

	limit := MaxMessageUnits
	if req.PhotoRef != "" {
		limit = MaxCaptionUnits
	}
	text := FormatNewRequest(req, r.routing.ResponsibleFor(req.Category), limit)
	msg := Message{
		Text:      text,
		PhotoRef:  req.PhotoRef,
		RequestID: req.ID,
		Actions:   models.ActionsFor(models.StatusNew),
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, id := range recipients {
		wg.Add(1)
		go func(recipient int64) {
			defer wg.Done()
			if r.deliver(ctx, EventNewRequest, recipient, msg) {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	res := Result{Attempted: len(recipients), Delivered: delivered}
	log := r.logger.With(
		zap.Int64("request_id", req.ID),
		zap.String("category", string(req.Category)),
		zap.Int("delivered", res.Delivered),
		zap.Int("attempted", res.Attempted),
	)
	if res.Attempted > 0 && res.Delivered == 0 {
		log.Warn("new request notification reached nobody")
	} else {
		log.Info("new request notification dispatched")
	}
	return res
}

// NotifyStatusChange tells the reporter that their request changed status.
// A reporter without a chat identity is skipped.
func (r *Router) NotifyStatusChange(ctx context.Context, req *models.Request, actorName string) Result {
	if req.ReporterTelegramID == 0 {
		r.logger.Warn("reporter not resolvable, status notification skipped",
			zap.Int64("request_id", req.ID),
		)
		return Result{}
	}

	msg := Message{
		Text:      FormatStatusChange(req.ID, req.Status, actorName),
		RequestID: req.ID,
	}

	res := Result{Attempted: 1}
	if r.deliver(ctx, EventStatusChange, req.ReporterTelegramID, msg) {
		res.Delivered = 1
	}
	return res
}

func (r *Router) deliver(ctx context.Context, event string, recipient int64, msg Message) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	errc := make(chan error, 1)
	go func() {
		errc <- r.sink.Send(ctx, recipient, msg)
	}()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	metrics.RecordDelivery(event, err == nil, time.Since(start).Seconds())

	if err != nil {
		r.logger.Warn("notification delivery failed",
			zap.String("event", event),
			zap.Int64("request_id", msg.RequestID),
			zap.Int64("recipient", recipient),
			zap.Error(err),
		)
		return false
	}
	return true
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

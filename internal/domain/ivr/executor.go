package ivr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sabcare/careline/internal/platform/events"
)

// ErrDelivery wraps failures reported by the DeliveryProvider.
var ErrDelivery = errors.New("call delivery failed")

// DeliveryProvider places an outbound call and returns the provider's call id.
type DeliveryProvider interface {
	PlaceCall(ctx context.Context, phone, message string, patientID uuid.UUID) (string, error)
}

// TickResult summarises one polling pass.
type TickResult struct {
	Selected         int `json:"selected"`
	Executed         int `json:"executed"`
	DeliveryFailures int `json:"delivery_failures"`
	UpdateFailures   int `json:"update_failures"`
	Skipped          int `json:"skipped"`
}

type outcome int

const (
	outcomeExecuted outcome = iota
	outcomeDeliveryFailed
	outcomeUpdateFailed
	outcomeSkipped
)

// Executor delivers due calls on a fixed interval and owns every status
// transition of a call entry.
type Executor struct {
	store     CallRecordStore
	delivery  DeliveryProvider
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time

	// Interval controls how often due calls are polled.
	Interval time.Duration
	// BatchSize is the max number of due calls handled per tick.
	BatchSize int
	// DeliveryTimeout bounds a single PlaceCall.
	DeliveryTimeout time.Duration

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewExecutor(store CallRecordStore, delivery DeliveryProvider, publisher events.Publisher, logger zerolog.Logger) *Executor {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Executor{
		store:           store,
		delivery:        delivery,
		publisher:       publisher,
		logger:          logger,
		now:             time.Now,
		Interval:        30 * time.Second,
		BatchSize:       10,
		DeliveryTimeout: 15 * time.Second,
		inflight:        make(map[uuid.UUID]struct{}),
	}
}

// Start runs an immediate tick and then one per Interval. It blocks until
// ctx is cancelled or Stop is called. A second concurrent Start returns at once.
func (ex *Executor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	ex.mu.Lock()
	if ex.cancel != nil {
		ex.mu.Unlock()
		cancel()
		return
	}
	ex.cancel, ex.done = cancel, done
	ex.mu.Unlock()

	defer func() {
		ex.mu.Lock()
		ex.cancel, ex.done = nil, nil
		ex.mu.Unlock()
		cancel()
		close(done)
	}()

	ex.logger.Info().Dur("interval", ex.Interval).Int("batch_size", ex.BatchSize).Msg("call executor started")
	ex.runTick(ctx)

	ticker := time.NewTicker(ex.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			ex.logger.Info().Msg("call executor stopped")
			return
		case <-ticker.C:
			ex.runTick(ctx)
		}
	}
}

// Stop cancels a running Start and waits for it to return.
func (ex *Executor) Stop() {
	ex.mu.Lock()
	cancel, done := ex.cancel, ex.done
	ex.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (ex *Executor) runTick(ctx context.Context) {
	res, err := ex.Tick(ctx, ex.now())
	if err != nil {
		ex.logger.Error().Err(err).Msg("call executor tick failed")
		return
	}
	if res.Selected > 0 {
		ex.logger.Info().
			Int("selected", res.Selected).
			Int("executed", res.Executed).
			Int("delivery_failures", res.DeliveryFailures).
			Int("update_failures", res.UpdateFailures).
			Int("skipped", res.Skipped).
			Msg("call executor tick")
	}
}

// Tick delivers up to BatchSize due calls in ascending scheduled order.
// A failed delivery leaves the entry scheduled for the next tick.
func (ex *Executor) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	due, err := ex.store.SelectDue(ctx, now, ex.BatchSize)
	if err != nil {
		return TickResult{}, fmt.Errorf("select due calls: %w", err)
	}

	res := TickResult{Selected: len(due)}
	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		switch ex.executeEntry(ctx, e, now) {
		case outcomeExecuted:
			res.Executed++
		case outcomeDeliveryFailed:
			res.DeliveryFailures++
		case outcomeUpdateFailed:
			res.UpdateFailures++
		case outcomeSkipped:
			res.Skipped++
		}
	}
	return res, nil
}

func (ex *Executor) executeEntry(ctx context.Context, e *CallEntry, now time.Time) (out outcome) {
	log := ex.logger.With().Str("call_id", e.ID.String()).Str("call_type", string(e.CallType)).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("panic while executing call")
			out = outcomeDeliveryFailed
		}
	}()

	if !ex.claim(e.ID) {
		return outcomeSkipped
	}
	defer ex.release(e.ID)

	// The batch may be stale: a manual execution or an overlapping tick can
	// finish this entry between SelectDue and the claim.
	current, err := ex.store.GetByID(ctx, e.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		return outcomeSkipped
	case err != nil:
		log.Error().Err(err).Msg("failed to reload call before delivery")
		return outcomeUpdateFailed
	case current.Status != StatusScheduled:
		log.Debug().Str("status", string(current.Status)).Msg("call no longer scheduled, skipping")
		return outcomeSkipped
	}
	e = current

	deliveryID, err := ex.deliver(ctx, e)
	if err != nil {
		log.Warn().Err(err).Msg("call delivery failed, will retry next tick")
		return outcomeDeliveryFailed
	}

	ok, err := ex.complete(ctx, e, now, deliveryID)
	if err != nil {
		log.Error().Err(err).Str("delivery_id", deliveryID).Msg("failed to mark call completed")
		return outcomeUpdateFailed
	}
	if !ok {
		log.Info().Str("delivery_id", deliveryID).Msg("call already handled elsewhere")
		return outcomeSkipped
	}
	return outcomeExecuted
}

// ExecuteNow delivers one call immediately regardless of its scheduled time.
// The entry is read after the in-process claim so a delivery that finished
// just before is seen as completed.
func (ex *Executor) ExecuteNow(ctx context.Context, id uuid.UUID) (*CallEntry, error) {
	if !ex.claim(id) {
		return nil, ErrInFlight
	}
	defer ex.release(id)

	e, err := ex.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := terminalError(e.Status); err != nil {
		return e, err
	}

	deliveryID, err := ex.deliver(ctx, e)
	if err != nil {
		return e, fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	ok, err := ex.complete(ctx, e, ex.now(), deliveryID)
	if err != nil {
		return e, fmt.Errorf("update call status: %w", err)
	}
	if !ok {
		current, err := ex.store.GetByID(ctx, id)
		if err != nil {
			return e, ErrAlreadyCompleted
		}
		if err := terminalError(current.Status); err != nil {
			return current, err
		}
		return current, ErrAlreadyCompleted
	}
	return e, nil
}

// Cancel marks an entry cancelled. Completed entries keep completed_at.
// An in-flight delivery is not interrupted.
func (ex *Executor) Cancel(ctx context.Context, id uuid.UUID) (*CallEntry, error) {
	ok, err := ex.store.Cancel(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cancel call: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}

	e, err := ex.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ex.publish(ctx, events.CallCancelled, e)
	return e, nil
}

func (ex *Executor) deliver(ctx context.Context, e *CallEntry) (string, error) {
	if e.PatientPhone == "" {
		return "", errors.New("patient has no phone number")
	}
	ctx, cancel := context.WithTimeout(ctx, ex.DeliveryTimeout)
	defer cancel()
	return ex.delivery.PlaceCall(ctx, e.PatientPhone, e.MessageText, e.PatientID)
}

func (ex *Executor) complete(ctx context.Context, e *CallEntry, at time.Time, deliveryID string) (bool, error) {
	ok, err := ex.store.CompareAndSetStatus(ctx, e.ID, StatusScheduled, StatusCompleted, &at, &deliveryID)
	if err != nil || !ok {
		return ok, err
	}
	e.Status = StatusCompleted
	e.CompletedAt = &at
	e.DeliveryID = &deliveryID
	ex.publish(ctx, events.CallCompleted, e)
	return true, nil
}

func (ex *Executor) publish(ctx context.Context, t events.Type, e *CallEntry) {
	id := e.ID
	ev := events.Event{
		Type:       t,
		PatientID:  e.PatientID,
		CallID:     &id,
		CallType:   string(e.CallType),
		Status:     string(e.Status),
		OccurredAt: ex.now(),
	}
	if e.DeliveryID != nil {
		ev.DeliveryID = *e.DeliveryID
	}
	if err := ex.publisher.Publish(ctx, ev); err != nil {
		ex.logger.Warn().Err(err).Str("call_id", id.String()).Str("event", string(t)).Msg("failed to publish call event")
	}
}

func (ex *Executor) claim(id uuid.UUID) bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if _, busy := ex.inflight[id]; busy {
		return false
	}
	ex.inflight[id] = struct{}{}
	return true
}

func (ex *Executor) release(id uuid.UUID) {
	ex.mu.Lock()
	delete(ex.inflight, id)
	ex.mu.Unlock()
}

func terminalError(s Status) error {
	switch s {
	case StatusCompleted:
		return ErrAlreadyCompleted
	case StatusCancelled:
		return ErrCancelled
	}
	return nil
}

// Package reconcile implements inline field editing against a remote
// backend: a field is edited locally, applied optimistically, sent as a
// single-field update and then either confirmed with the server's response
// or rolled back to the authoritative value.
//
// One Engine serves one detail panel. It is generic over the entity id type
// and knows nothing about the kind of entity; the backend is reached through
// an UpdateFunc.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rpattn/fieldsync/internal/apperr"
	"github.com/rpattn/fieldsync/internal/domain"
	"github.com/rpattn/fieldsync/internal/logging"
)

const (
	// DefaultStatusDelay is how long a save status stays shown.
	DefaultStatusDelay = 2000 * time.Millisecond
	// DefaultSaveTimeout bounds a single update call.
	DefaultSaveTimeout = 10 * time.Second
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	statusDelay time.Duration
	saveTimeout time.Duration
	clock       Clock
	logger      *zerolog.Logger
	metrics     *Metrics
}

// WithStatusDelay overrides the status auto-clear delay.
func WithStatusDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.statusDelay = d
		}
	}
}

// WithSaveTimeout overrides the per-save timeout.
func WithSaveTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.saveTimeout = d
		}
	}
}

// WithClock replaces the clock used for the status timer.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records save outcomes into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Engine holds the edit session of one panel. All methods are safe for
// concurrent use; the update call runs without the lock held.
type Engine[ID comparable] struct {
	update UpdateFunc[ID]
	opts   options

	mu sync.Mutex
	// generation changes whenever the panel selects a different entity or
	// closes. Responses from an older generation are discarded.
	generation    uint64
	selected      bool
	entityID      ID
	authoritative map[string]any
	optimistic    map[string]any
	saving        map[string]struct{}
	editingField  string
	draft         any

	status      Status
	statusSeq   uint64
	statusTimer Timer

	subscribers map[int]func(State[ID])
	nextSubID   int
}

// New creates an engine that saves through update.
func New[ID comparable](update UpdateFunc[ID], opts ...Option) *Engine[ID] {
	o := options{
		statusDelay: DefaultStatusDelay,
		saveTimeout: DefaultSaveTimeout,
		clock:       RealClock(),
		logger:      logging.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine[ID]{
		update:      update,
		opts:        o,
		optimistic:  map[string]any{},
		saving:      map[string]struct{}{},
		subscribers: map[int]func(State[ID]){},
	}
}

// Subscribe registers fn to receive a copy of the state after every change.
// The returned func removes the subscription.
func (e *Engine[ID]) Subscribe(fn func(State[ID])) func() {
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

// State returns a copy of the observable state.
func (e *Engine[ID]) State() State[ID] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// Select makes snapshot the panel's entity. The form is seeded from the
// snapshot and any edit is abandoned. Selecting a different entity
// invalidates saves still in flight for the previous one; re-selecting the
// same entity only refreshes its authoritative value.
func (e *Engine[ID]) Select(snapshot Snapshot[ID]) {
	e.mu.Lock()
	if !e.selected || snapshot.ID != e.entityID {
		e.generation++
		e.optimistic = map[string]any{}
		e.saving = map[string]struct{}{}
	}
	e.selected = true
	e.entityID = snapshot.ID
	e.authoritative = domain.CopyFields(snapshot.Fields)
	e.clearEditLocked()
	e.commit()
}

// Edit opens field for editing, seeding the draft with its current value.
// A draft of another field is silently abandoned.
func (e *Engine[ID]) Edit(field string) error {
	if field == "" {
		return ErrInvalidField
	}
	e.mu.Lock()
	if !e.selected {
		e.mu.Unlock()
		return ErrNoSelection
	}
	if _, inFlight := e.saving[field]; inFlight {
		e.mu.Unlock()
		return ErrSaveInFlight
	}
	e.editingField = field
	e.draft = domain.CopyFields(map[string]any{field: e.currentLocked(field)})[field]
	e.commit()
	return nil
}

// Change replaces the draft of the field being edited.
func (e *Engine[ID]) Change(field string, value any) error {
	e.mu.Lock()
	if !e.selected {
		e.mu.Unlock()
		return ErrNoSelection
	}
	if field == "" || field != e.editingField {
		e.mu.Unlock()
		return ErrNotEditing
	}
	e.draft = value
	e.commit()
	return nil
}

// Cancel discards the draft. Calling it with nothing being edited is a no-op.
func (e *Engine[ID]) Cancel() error {
	e.mu.Lock()
	if !e.selected {
		e.mu.Unlock()
		return ErrNoSelection
	}
	if e.editingField == "" {
		e.mu.Unlock()
		return nil
	}
	e.clearEditLocked()
	e.commit()
	return nil
}

// Close drops the selection, the edit session and the status. Saves still in
// flight are discarded when they return.
func (e *Engine[ID]) Close() {
	e.mu.Lock()
	var zero ID
	e.generation++
	e.selected = false
	e.entityID = zero
	e.authoritative = nil
	e.optimistic = map[string]any{}
	e.saving = map[string]struct{}{}
	e.clearEditLocked()
	if e.statusTimer != nil {
		e.statusTimer.Stop()
		e.statusTimer = nil
	}
	e.statusSeq++
	e.status = Status{}
	e.commit()
}

// Save sends the draft of field to the backend. The draft is applied
// optimistically and edit mode is left before the call is made. Precondition
// violations are returned as errors without touching the network; backend
// failures are reported through the result and the status.
func (e *Engine[ID]) Save(ctx context.Context, field string) (SaveResult, error) {
	e.mu.Lock()
	if !e.selected {
		e.mu.Unlock()
		return SaveResult{}, ErrNoSelection
	}
	if _, inFlight := e.saving[field]; inFlight {
		e.mu.Unlock()
		return SaveResult{}, ErrSaveInFlight
	}
	if field == "" || field != e.editingField {
		e.mu.Unlock()
		return SaveResult{}, ErrNotEditing
	}

	value := e.draft
	generation := e.generation
	id := e.entityID
	e.optimistic[field] = value
	e.saving[field] = struct{}{}
	e.clearEditLocked()
	e.commit()

	log := e.opts.logger.With().Str("field", field).Interface("entity_id", id).Logger()
	log.Debug().Msg("saving field")

	saveCtx, cancel := context.WithTimeout(ctx, e.opts.saveTimeout)
	start := e.opts.clock.Now()
	response, err := e.update(saveCtx, id, field, value)
	cancel()
	elapsed := e.opts.clock.Now().Sub(start)

	e.mu.Lock()
	if e.generation != generation {
		e.mu.Unlock()
		failure := &SaveFailedError{Kind: StaleEntity, Field: field, Message: "entity is no longer selected", Err: err}
		e.opts.metrics.observe(failure, elapsed)
		log.Debug().Msg("discarding response for an entity that is no longer selected")
		return SaveResult{Field: field, Value: value, Err: failure, Discarded: true}, nil
	}

	delete(e.saving, field)
	delete(e.optimistic, field)

	if err != nil {
		failure := classify(field, err)
		e.setStatusLocked(false, failure.Message)
		e.commit()
		e.opts.metrics.observe(failure, elapsed)
		log.Warn().Err(err).Str("kind", failure.Kind.String()).Msg("save failed, reverted to authoritative value")
		return SaveResult{Field: field, Value: value, Err: failure}, nil
	}

	// The server's representation wins over the value that was sent.
	e.authoritative = overlay(e.authoritative, map[string]any{field: value}, response)
	merged := domain.CopyFields(e.authoritative)
	e.setStatusLocked(true, SuccessMessage)
	e.commit()
	e.opts.metrics.observe(nil, elapsed)
	log.Debug().Dur("elapsed", elapsed).Msg("save confirmed")
	return SaveResult{Field: field, Value: value, Entity: merged}, nil
}

// classify maps an update error onto a failure kind and display message.
func classify(field string, err error) *SaveFailedError {
	failure := &SaveFailedError{Kind: NetworkFailure, Field: field, Message: DefaultFailureMessage, Err: err}

	var apiErr *apperr.APIError
	var validationErr *apperr.ValidationError
	var conflictErr *apperr.ConflictError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), apperr.IsNetwork(err):
		return failure
	case errors.As(err, &apiErr), errors.As(err, &validationErr), errors.As(err, &conflictErr):
		failure.Kind = ValidationRejected
	}
	if msg, ok := apperr.UserMessage(err); ok {
		failure.Message = msg
	}
	return failure
}

// currentLocked is the value the form shows for field outside of editing.
func (e *Engine[ID]) currentLocked(field string) any {
	if v, ok := e.optimistic[field]; ok {
		return v
	}
	return e.authoritative[field]
}

func (e *Engine[ID]) clearEditLocked() {
	e.editingField = ""
	e.draft = nil
}

// setStatusLocked shows a status and arms a timer that clears exactly this
// status. A later status bumps statusSeq so an older timer becomes a no-op.
func (e *Engine[ID]) setStatusLocked(success bool, message string) {
	if e.statusTimer != nil {
		e.statusTimer.Stop()
	}
	e.statusSeq++
	seq := e.statusSeq
	e.status = Status{Shown: true, Success: success, Message: message}
	e.statusTimer = e.opts.clock.AfterFunc(e.opts.statusDelay, func() {
		e.clearStatus(seq)
	})
}

func (e *Engine[ID]) clearStatus(seq uint64) {
	e.mu.Lock()
	if seq != e.statusSeq {
		e.mu.Unlock()
		return
	}
	e.status.Shown = false
	e.statusTimer = nil
	e.commit()
}

func (e *Engine[ID]) stateLocked() State[ID] {
	state := State[ID]{
		Selected:     e.selected,
		EntityID:     e.entityID,
		EditingField: e.editingField,
		SavingFields: sortedKeys(e.saving),
		Status:       e.status,
	}
	if !e.selected {
		state.Entity = map[string]any{}
		state.FormData = map[string]any{}
		return state
	}
	state.Entity = overlay(e.authoritative, e.optimistic)
	if e.editingField != "" {
		state.FormData = overlay(e.authoritative, e.optimistic, map[string]any{e.editingField: e.draft})
	} else {
		state.FormData = overlay(e.authoritative, e.optimistic)
	}
	return state
}

// commit releases the lock and hands the new state to subscribers.
func (e *Engine[ID]) commit() {
	if len(e.subscribers) == 0 {
		e.mu.Unlock()
		return
	}
	state := e.stateLocked()
	subs := make([]func(State[ID]), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

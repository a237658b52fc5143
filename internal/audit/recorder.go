package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/yussieik/pazpaz-sub021/internal/events"
)

// Recorder journals settings lifecycle events published on a bus. Append
// failures are logged and do not reach the session.
type Recorder struct {
	store  *Store
	logger zerolog.Logger
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store *Store, logger zerolog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Attach subscribes the recorder to every settings topic on bus.
func (r *Recorder) Attach(bus *events.EventBus) {
	for _, topic := range []string{
		events.TypeLoaded,
		events.TypeLoadFailed,
		events.TypeEdited,
		events.TypeSaved,
		events.TypeSaveFailed,
	} {
		bus.Subscribe(topic, r.handle)
	}
}

func (r *Recorder) handle(event events.Event) error {
	entry := &Entry{
		OccurredAt:    event.CreatedAt,
		EventType:     event.Type,
		WorkspaceID:   event.WorkspaceID,
		UserID:        event.UserID,
		Trigger:       event.Trigger,
		ChangedFields: event.Fields,
		Detail:        event.Detail,
		RequestID:     event.RequestID,
		Snapshot:      event.Payload,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.store.Append(ctx, entry); err != nil {
		r.logger.Error().Err(err).Str("event_type", event.Type).Msg("audit append failed")
		return err
	}
	return nil
}

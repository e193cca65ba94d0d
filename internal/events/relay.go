package events

import (
	"context"

	"github.com/rs/zerolog"

	"speech-bridge-service/internal/models"
	"speech-bridge-service/internal/speech"
)

// Sink is the subset of Publisher the relay needs.
type Sink interface {
	PublishPartial(ctx context.Context, key string, event any) error
	PublishFinal(ctx context.Context, key string, event any) error
	PublishTurn(ctx context.Context, key string, event any) error
}

// Validator checks an event model before it is published.
type Validator interface {
	Validate(event any) error
}

// Relay converts the speech events of one session into published models.
// Publish failures are logged and never affect the session.
type Relay struct {
	sink          Sink
	validator     Validator
	sessionID     string
	interactionID string
	tenantID      string
	log           zerolog.Logger
}

func NewRelay(sink Sink, validator Validator, sessionID, interactionID, tenantID string, log zerolog.Logger) *Relay {
	return &Relay{
		sink:          sink,
		validator:     validator,
		sessionID:     sessionID,
		interactionID: interactionID,
		tenantID:      tenantID,
		log:           log,
	}
}

// Publish maps e to its model and publishes it keyed by session ID.
func (r *Relay) Publish(ctx context.Context, e speech.Event) error {
	model, publish := r.model(e)
	if model == nil {
		return nil
	}
	if r.validator != nil {
		if err := r.validator.Validate(model); err != nil {
			r.log.Warn().Err(err).Stringer("event", e).Msg("Dropping invalid event")
			return err
		}
	}
	if err := publish(ctx, r.sessionID, model); err != nil {
		r.log.Warn().Err(err).Stringer("event", e).Msg("Failed to publish event")
		return err
	}
	return nil
}

func (r *Relay) model(e speech.Event) (any, func(context.Context, string, any) error) {
	ts := e.Time.UnixMilli()
	switch e.Type {
	case speech.Interim:
		return models.TranscriptPartial{
			EventType:     models.EventTypePartial,
			SessionID:     r.sessionID,
			InteractionID: r.interactionID,
			TenantID:      r.tenantID,
			TurnID:        e.TurnID,
			Timestamp:     ts,
			Text:          e.Text,
			Language:      e.Language,
		}, r.sink.PublishPartial
	case speech.Final:
		return models.TranscriptFinal{
			EventType:     models.EventTypeFinal,
			SessionID:     r.sessionID,
			InteractionID: r.interactionID,
			TenantID:      r.tenantID,
			TurnID:        e.TurnID,
			Timestamp:     ts,
			Text:          e.Text,
			Language:      e.Language,
			Source:        string(e.Source),
		}, r.sink.PublishFinal
	case speech.StartOfSpeech, speech.EndOfSpeech:
		eventType := models.EventTypeTurnStarted
		if e.Type == speech.EndOfSpeech {
			eventType = models.EventTypeTurnEnded
		}
		return models.TurnEvent{
			EventType:     eventType,
			SessionID:     r.sessionID,
			InteractionID: r.interactionID,
			TenantID:      r.tenantID,
			TurnID:        e.TurnID,
			Timestamp:     ts,
		}, r.sink.PublishTurn
	case speech.SessionError:
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		return models.SessionError{
			EventType:     models.EventTypeSessionError,
			SessionID:     r.sessionID,
			InteractionID: r.interactionID,
			TenantID:      r.tenantID,
			Timestamp:     ts,
			Kind:          string(e.Kind),
			Message:       msg,
		}, r.sink.PublishTurn
	}
	return nil, nil
}

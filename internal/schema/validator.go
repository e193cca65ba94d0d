// Package schema checks published events for required fields before they
// leave the service.
package schema

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"speech-bridge-service/internal/models"
)

var ErrInvalidEvent = errors.New("invalid event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate returns ErrInvalidEvent if a required field is missing or the
// eventType does not match the model.
func (v *Validator) Validate(event any) error {
	var err error
	switch e := event.(type) {
	case models.TranscriptPartial:
		err = check(e.EventType, e.SessionID, e.Timestamp, models.EventTypePartial)
		if err == nil {
			err = require("turnId", e.TurnID)
		}
	case models.TranscriptFinal:
		err = check(e.EventType, e.SessionID, e.Timestamp, models.EventTypeFinal)
		if err == nil {
			err = require("turnId", e.TurnID)
		}
		if err == nil {
			err = require("text", e.Text)
		}
		if err == nil {
			err = require("source", e.Source)
		}
	case models.TurnEvent:
		err = check(e.EventType, e.SessionID, e.Timestamp, models.EventTypeTurnStarted, models.EventTypeTurnEnded)
		if err == nil {
			err = require("turnId", e.TurnID)
		}
	case models.SessionError:
		err = check(e.EventType, e.SessionID, e.Timestamp, models.EventTypeSessionError)
		if err == nil {
			err = require("kind", e.Kind)
		}
	default:
		err = fmt.Errorf("%w: unsupported type %T", ErrInvalidEvent, event)
	}

	if err != nil {
		log.Debug().Err(err).Msg("Schema validation failed")
	}
	return err
}

func check(eventType, sessionID string, ts int64, allowed ...string) error {
	match := false
	for _, a := range allowed {
		if eventType == a {
			match = true
			break
		}
	}
	if !match {
		return fmt.Errorf("%w: unexpected eventType %q", ErrInvalidEvent, eventType)
	}
	if err := require("sessionId", sessionID); err != nil {
		return err
	}
	if ts <= 0 {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}
	return nil
}

func require(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: missing %s", ErrInvalidEvent, field)
	}
	return nil
}

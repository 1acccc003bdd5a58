package main

import (
	"encoding/json"
	"fmt"
)

const (
	// EventTypeUserCreated is the event type for user creation
	EventTypeUserCreated = "user.created"
	// EventTypeUserUpdated is the event type for user updates
	EventTypeUserUpdated = "user.updated"
	// EventTypeUserDeleted is the event type for user deletion
	EventTypeUserDeleted = "user.deleted"

	verificationStatusVerified = "verified"
)

// EventKind is the lifecycle transition an event describes
type EventKind int

const (
	EventCreated EventKind = iota + 1
	EventUpdated
	EventDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return EventTypeUserCreated
	case EventUpdated:
		return EventTypeUserUpdated
	case EventDeleted:
		return EventTypeUserDeleted
	default:
		return "unknown"
	}
}

// Event is a verified user lifecycle event. It is implemented by
// UserUpserted and UserDeleted only.
type Event interface {
	Kind() EventKind
	ExternalUserID() string
	isEvent()
}

// EmailAddress is one candidate address of a provider user
type EmailAddress struct {
	Address  string
	Verified bool
}

// UserUpserted carries the display attributes of a created or updated user.
type UserUpserted struct {
	EventKind  EventKind
	ExternalID string
	Emails     []EmailAddress
	FirstName  string
	LastName   string
	AvatarURL  string
}

func (e UserUpserted) Kind() EventKind { return e.EventKind }
func (e UserUpserted) ExternalUserID() string { return e.ExternalID }
func (UserUpserted) isEvent() {}

// UserDeleted carries only the external id of the removed user.
type UserDeleted struct {
	ExternalID string
}

func (UserDeleted) Kind() EventKind { return EventDeleted }
func (e UserDeleted) ExternalUserID() string { return e.ExternalID }
func (UserDeleted) isEvent() {}

// webhookEvent is the envelope posted by the identity provider
type webhookEvent struct {
	Type   string          `json:"type"`
	Object string          `json:"object"`
	Data   json.RawMessage `json:"data"`
}

type userData struct {
	ID             string             `json:"id"`
	FirstName      *string            `json:"first_name"`
	LastName       *string            `json:"last_name"`
	ImageURL       *string            `json:"image_url"`
	EmailAddresses []emailAddressData `json:"email_addresses"`
}

type emailAddressData struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
	Verification *struct {
		Status string `json:"status"`
	} `json:"verification"`
}

type deletedUserData struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// ParseEvent decodes a webhook body into a typed event.
// A malformed body or a missing user id is a verification failure.
func ParseEvent(body []byte) (Event, error) {
	var envelope webhookEvent
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, verificationError("malformed payload", err)
	}

	switch envelope.Type {
	case EventTypeUserCreated, EventTypeUserUpdated:
		var data userData
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return nil, verificationError("malformed user data", err)
		}
		if data.ID == "" {
			return nil, verificationError("missing user id", nil)
		}

		kind := EventCreated
		if envelope.Type == EventTypeUserUpdated {
			kind = EventUpdated
		}

		emails := make([]EmailAddress, 0, len(data.EmailAddresses))
		for _, e := range data.EmailAddresses {
			emails = append(emails, EmailAddress{
				Address:  e.EmailAddress,
				Verified: e.Verification != nil && e.Verification.Status == verificationStatusVerified,
			})
		}

		return UserUpserted{
			EventKind:  kind,
			ExternalID: data.ID,
			Emails:     emails,
			FirstName:  deref(data.FirstName),
			LastName:   deref(data.LastName),
			AvatarURL:  deref(data.ImageURL),
		}, nil

	case EventTypeUserDeleted:
		var data deletedUserData
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return nil, verificationError("malformed user data", err)
		}
		if data.ID == "" {
			return nil, verificationError("missing user id", nil)
		}
		return UserDeleted{ExternalID: data.ID}, nil

	case "":
		return nil, verificationError("missing event type", nil)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, envelope.Type)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

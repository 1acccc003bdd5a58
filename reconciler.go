package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// UserStore is the local directory the reconciler writes to
type UserStore interface {
	UpsertUser(ctx context.Context, record UserRecord) (UpsertResult, error)
	DeleteUser(ctx context.Context, externalID string) error
}

// Outcome describes the mutation an applied event caused
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeUpdated       Outcome = "updated"
	OutcomeDeleted       Outcome = "deleted"
	OutcomeAlreadyAbsent Outcome = "already_absent"
)

// Reconciler applies verified provider events to the local directory.
// It keeps no state between calls.
type Reconciler struct {
	store      UserStore
	correlator CorrelationScheduler
}

// NewReconciler creates a new reconciler instance
func NewReconciler(store UserStore, correlator CorrelationScheduler) *Reconciler {
	return &Reconciler{
		store:      store,
		correlator: correlator,
	}
}

// Apply performs the idempotent mutation for event.
// Failures are returned as *StoreError.
func (r *Reconciler) Apply(ctx context.Context, event Event) (Outcome, error) {
	switch e := event.(type) {
	case UserUpserted:
		return r.upsert(ctx, e)
	case UserDeleted:
		return r.remove(ctx, e)
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedEvent, event)
	}
}

func (r *Reconciler) upsert(ctx context.Context, event UserUpserted) (Outcome, error) {
	record := UserRecord{
		ExternalID: event.ExternalID,
		Email:      SelectEmail(event.Emails),
		FirstName:  event.FirstName,
		LastName:   event.LastName,
		AvatarURL:  event.AvatarURL,
	}

	if record.Email == "" {
		logger.Warn("User has no email address", zap.String("externalId", event.ExternalID))
	}

	result, err := r.store.UpsertUser(ctx, record)
	if err != nil {
		return "", &StoreError{Op: "upsert", ExternalID: event.ExternalID, Err: err}
	}

	logger.Info("User saved",
		zap.String("externalId", event.ExternalID),
		zap.String("localId", result.LocalID),
		zap.Stringer("event", event.EventKind),
		zap.Bool("created", result.Created))

	if !result.Created {
		return OutcomeUpdated, nil
	}

	// An update that creates the record does not write back
	if event.EventKind == EventCreated {
		r.correlator.Schedule(event.ExternalID, result.LocalID)
	}

	return OutcomeCreated, nil
}

func (r *Reconciler) remove(ctx context.Context, event UserDeleted) (Outcome, error) {
	err := r.store.DeleteUser(ctx, event.ExternalID)
	if errors.Is(err, ErrUserNotFound) {
		logger.Info("User already absent", zap.String("externalId", event.ExternalID))
		return OutcomeAlreadyAbsent, nil
	}
	if err != nil {
		return "", &StoreError{Op: "delete", ExternalID: event.ExternalID, Err: err}
	}

	logger.Info("User deleted", zap.String("externalId", event.ExternalID))
	return OutcomeDeleted, nil
}

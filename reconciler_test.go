package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

// fakeStore is an in-memory UserStore with error injection
type fakeStore struct {
	mu        sync.Mutex
	users     map[string]UserRecord
	localIDs  map[string]string
	nextID    int
	upsertErr error
	deleteErr error
	calls     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]UserRecord{},
		localIDs: map[string]string{},
	}
}

func (f *fakeStore) UpsertUser(_ context.Context, record UserRecord) (UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.upsertErr != nil {
		return UpsertResult{}, f.upsertErr
	}

	localID, exists := f.localIDs[record.ExternalID]
	if !exists {
		f.nextID++
		localID = fmt.Sprintf("local_%d", f.nextID)
		f.localIDs[record.ExternalID] = localID
	}
	f.users[record.ExternalID] = record

	return UpsertResult{LocalID: localID, Created: !exists}, nil
}

func (f *fakeStore) DeleteUser(_ context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.users[externalID]; !ok {
		return ErrUserNotFound
	}
	delete(f.users, externalID)
	delete(f.localIDs, externalID)
	return nil
}

type scheduledCorrelation struct {
	externalID string
	localID    string
}

// fakeScheduler records scheduled write-backs
type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []scheduledCorrelation
}

func (f *fakeScheduler) Schedule(externalID, localID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, scheduledCorrelation{externalID: externalID, localID: localID})
}

func (f *fakeScheduler) calls() []scheduledCorrelation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduledCorrelation(nil), f.scheduled...)
}

type ReconcilerTestSuite struct {
	suite.Suite
	store      *fakeStore
	scheduler  *fakeScheduler
	reconciler *Reconciler
	ctx        context.Context
}

func (s *ReconcilerTestSuite) SetupTest() {
	logger = zap.NewNop()
	s.ctx = context.Background()
	s.store = newFakeStore()
	s.scheduler = &fakeScheduler{}
	s.reconciler = NewReconciler(s.store, s.scheduler)
}

func (s *ReconcilerTestSuite) TestApply_CreatedSchedulesCorrelation() {
	outcome, err := s.reconciler.Apply(s.ctx, UserUpserted{
		EventKind:  EventCreated,
		ExternalID: "ext_1",
		Emails:     []EmailAddress{{Address: "a@x.com", Verified: false}},
		FirstName:  "A",
	})
	s.Require().NoError(err)
	s.Equal(OutcomeCreated, outcome)

	s.Equal(UserRecord{ExternalID: "ext_1", Email: "a@x.com", FirstName: "A"}, s.store.users["ext_1"])
	s.Equal([]scheduledCorrelation{{externalID: "ext_1", localID: s.store.localIDs["ext_1"]}}, s.scheduler.calls())
}

func (s *ReconcilerTestSuite) TestApply_CreatedTwiceIsIdempotent() {
	event := UserUpserted{
		EventKind:  EventCreated,
		ExternalID: "ext_1",
		Emails:     []EmailAddress{{Address: "a@x.com"}},
		FirstName:  "A",
	}

	_, err := s.reconciler.Apply(s.ctx, event)
	s.Require().NoError(err)
	first := s.store.users["ext_1"]

	outcome, err := s.reconciler.Apply(s.ctx, event)
	s.Require().NoError(err)
	s.Equal(OutcomeUpdated, outcome)

	s.Len(s.store.users, 1)
	s.Equal(first, s.store.users["ext_1"])
	// Redelivery must not write back a second time
	s.Len(s.scheduler.calls(), 1)
}

func (s *ReconcilerTestSuite) TestApply_UpdatedReplacesFields() {
	_, err := s.reconciler.Apply(s.ctx, UserUpserted{
		EventKind:  EventCreated,
		ExternalID: "ext_1",
		Emails:     []EmailAddress{{Address: "a@x.com"}},
		FirstName:  "A",
	})
	s.Require().NoError(err)

	outcome, err := s.reconciler.Apply(s.ctx, UserUpserted{
		EventKind:  EventUpdated,
		ExternalID: "ext_1",
		Emails:     []EmailAddress{},
	})
	s.Require().NoError(err)
	s.Equal(OutcomeUpdated, outcome)

	s.Equal(UserRecord{ExternalID: "ext_1"}, s.store.users["ext_1"])
	s.Len(s.scheduler.calls(), 1)
}

func (s *ReconcilerTestSuite) TestApply_UpdatedForUnknownUserCreatesWithoutCorrelation() {
	outcome, err := s.reconciler.Apply(s.ctx, UserUpserted{
		EventKind:  EventUpdated,
		ExternalID: "ext_2",
		Emails:     []EmailAddress{{Address: "b@x.com", Verified: true}},
	})
	s.Require().NoError(err)
	s.Equal(OutcomeCreated, outcome)
	s.Equal("b@x.com", s.store.users["ext_2"].Email)
	s.Empty(s.scheduler.calls())
}

func (s *ReconcilerTestSuite) TestApply_UpsertStoreFailure() {
	s.store.upsertErr = errors.New("disk full")

	_, err := s.reconciler.Apply(s.ctx, UserUpserted{EventKind: EventCreated, ExternalID: "ext_1"})
	s.Require().Error(err)

	var storeErr *StoreError
	s.Require().ErrorAs(err, &storeErr)
	s.Equal("upsert", storeErr.Op)
	s.Equal("ext_1", storeErr.ExternalID)
	s.Empty(s.scheduler.calls())
}

func (s *ReconcilerTestSuite) TestApply_Deleted() {
	_, err := s.reconciler.Apply(s.ctx, UserUpserted{EventKind: EventCreated, ExternalID: "ext_1"})
	s.Require().NoError(err)

	outcome, err := s.reconciler.Apply(s.ctx, UserDeleted{ExternalID: "ext_1"})
	s.Require().NoError(err)
	s.Equal(OutcomeDeleted, outcome)
	s.Empty(s.store.users)
}

func (s *ReconcilerTestSuite) TestApply_DeletedAlreadyAbsent() {
	outcome, err := s.reconciler.Apply(s.ctx, UserDeleted{ExternalID: "ext_missing"})
	s.NoError(err)
	s.Equal(OutcomeAlreadyAbsent, outcome)
}

func (s *ReconcilerTestSuite) TestApply_DeleteStoreFailure() {
	s.store.deleteErr = errors.New("database is locked")

	_, err := s.reconciler.Apply(s.ctx, UserDeleted{ExternalID: "ext_1"})

	var storeErr *StoreError
	s.Require().ErrorAs(err, &storeErr)
	s.Equal("delete", storeErr.Op)
}

func TestReconcilerTestSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerTestSuite))
}

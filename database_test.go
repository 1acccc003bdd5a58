package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type DatabaseTestSuite struct {
	suite.Suite
	db  *Database
	ctx context.Context
}

func (s *DatabaseTestSuite) SetupTest() {
	logger = zap.NewNop()
	s.ctx = context.Background()

	// Use in-memory database for tests
	var err error
	s.db, err = NewDatabase(":memory:")
	s.Require().NoError(err)
}

func (s *DatabaseTestSuite) TearDownTest() {
	s.db.Close()
}

func (s *DatabaseTestSuite) TestUpsertUser_Create() {
	result, err := s.db.UpsertUser(s.ctx, UserRecord{
		ExternalID: "user_1",
		Email:      "a@example.com",
		FirstName:  "Ada",
		LastName:   "Lovelace",
		AvatarURL:  "https://img.example.com/ada.png",
	})
	s.Require().NoError(err)
	s.True(result.Created)
	s.NotEmpty(result.LocalID)

	user, err := s.db.GetUserByExternalID(s.ctx, "user_1")
	s.Require().NoError(err)
	s.Equal(result.LocalID, user.LocalID)
	s.Equal("a@example.com", user.Email)
	s.Equal("Ada", user.FirstName)
	s.Equal("Lovelace", user.LastName)
	s.Equal("https://img.example.com/ada.png", user.AvatarURL)
}

func (s *DatabaseTestSuite) TestUpsertUser_UpdateKeepsLocalID() {
	first, err := s.db.UpsertUser(s.ctx, UserRecord{ExternalID: "user_1", Email: "a@example.com", FirstName: "Ada"})
	s.Require().NoError(err)

	second, err := s.db.UpsertUser(s.ctx, UserRecord{ExternalID: "user_1", Email: "", FirstName: "Augusta"})
	s.Require().NoError(err)
	s.False(second.Created)
	s.Equal(first.LocalID, second.LocalID)

	user, err := s.db.GetUserByExternalID(s.ctx, "user_1")
	s.Require().NoError(err)
	s.Equal("", user.Email)
	s.Equal("Augusta", user.FirstName)
}

func (s *DatabaseTestSuite) TestUpsertUser_Idempotent() {
	record := UserRecord{ExternalID: "user_1", Email: "a@example.com", FirstName: "Ada"}

	_, err := s.db.UpsertUser(s.ctx, record)
	s.Require().NoError(err)
	_, err = s.db.UpsertUser(s.ctx, record)
	s.Require().NoError(err)

	count, err := s.db.CountUsers(s.ctx)
	s.NoError(err)
	s.Equal(1, count)
}

func (s *DatabaseTestSuite) TestDeleteUser() {
	_, err := s.db.UpsertUser(s.ctx, UserRecord{ExternalID: "user_1"})
	s.Require().NoError(err)

	err = s.db.DeleteUser(s.ctx, "user_1")
	s.NoError(err)

	_, err = s.db.GetUserByExternalID(s.ctx, "user_1")
	s.ErrorIs(err, ErrUserNotFound)
}

func (s *DatabaseTestSuite) TestDeleteUser_NotExists() {
	err := s.db.DeleteUser(s.ctx, "user_missing")
	s.ErrorIs(err, ErrUserNotFound)
}

func (s *DatabaseTestSuite) TestDeleteUser_ThenRecreateGetsNewLocalID() {
	first, err := s.db.UpsertUser(s.ctx, UserRecord{ExternalID: "user_1"})
	s.Require().NoError(err)
	s.Require().NoError(s.db.DeleteUser(s.ctx, "user_1"))

	second, err := s.db.UpsertUser(s.ctx, UserRecord{ExternalID: "user_1"})
	s.Require().NoError(err)
	s.True(second.Created)
	s.NotEqual(first.LocalID, second.LocalID)
}

func (s *DatabaseTestSuite) TestPing() {
	s.NoError(s.db.Ping(s.ctx))
}

func TestNewDatabase_PathWithURIDelimiters(t *testing.T) {
	logger = zap.NewNop()

	path := filepath.Join(t.TempDir(), "dir?x=1#frag%20", "users.db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	db, err := NewDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.UpsertUser(context.Background(), UserRecord{ExternalID: "user_1"})
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.NoError(t, err, "database must be created at the exact path")
}

func TestEscapeDSNPath(t *testing.T) {
	assert.Equal(t, "/var/lib/users.db", escapeDSNPath("/var/lib/users.db"))
	assert.Equal(t, "/tmp/a%3Fb%23c%2520.db", escapeDSNPath("/tmp/a?b#c%20.db"))
}

func TestDatabaseTestSuite(t *testing.T) {
	suite.Run(t, new(DatabaseTestSuite))
}

// TestUpsertUser_Concurrent runs against a file database so that
// concurrent upserts use separate connections.
func TestUpsertUser_Concurrent(t *testing.T) {
	logger = zap.NewNop()

	db, err := NewDatabase(filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	const workers = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]struct{}{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := db.UpsertUser(ctx, UserRecord{
				ExternalID: "user_1",
				Email:      fmt.Sprintf("u%d@example.com", i),
			})
			if err != nil {
				t.Errorf("UpsertUser: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if result.Created {
				created++
			}
			ids[result.LocalID] = struct{}{}
		}(i)
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("expected exactly one creating upsert, got %d", created)
	}
	if len(ids) != 1 {
		t.Errorf("expected a single local id, got %d", len(ids))
	}

	count, err := db.CountUsers(ctx)
	if err != nil || count != 1 {
		t.Errorf("expected 1 user, got %d (err %v)", count, err)
	}
}

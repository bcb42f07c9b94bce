package db

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/RichardoC/kurosaki/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type DatabaseSuite struct {
	suite.Suite
	ctx   context.Context
	clock *fakeClock
	db    *Database
}

func TestDatabaseSuite(t *testing.T) {
	suite.Run(t, new(DatabaseSuite))
}

func (s *DatabaseSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &fakeClock{now: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}

	path := filepath.Join(s.T().TempDir(), "test.db")
	database, err := New(s.ctx, DriverSQLite, "file:"+path+"?_foreign_keys=on", zap.NewNop(), WithClock(s.clock.Now))
	s.Require().NoError(err)
	s.db = database
}

func (s *DatabaseSuite) TearDownTest() {
	s.NoError(s.db.Close())
}

func (s *DatabaseSuite) TestCreateConversationDefaultsTitle() {
	conv, err := s.db.CreateConversation(s.ctx, "u1", "")
	s.Require().NoError(err)

	s.NotEmpty(conv.ID)
	s.Equal("u1", conv.UserID)
	s.Equal(models.DefaultTitle, conv.Title)
	s.True(conv.CreatedAt.Equal(conv.UpdatedAt))

	got, err := s.db.GetConversation(s.ctx, conv.ID)
	s.Require().NoError(err)
	s.Equal(conv.Title, got.Title)
	s.True(conv.CreatedAt.Equal(got.CreatedAt))
}

func (s *DatabaseSuite) TestGetConversationUnknown() {
	_, err := s.db.GetConversation(s.ctx, "missing")
	s.ErrorIs(err, ErrNotFound)
}

func (s *DatabaseSuite) TestListConversationsOwnedAndOrdered() {
	first, err := s.db.CreateConversation(s.ctx, "u1", "first")
	s.Require().NoError(err)
	s.clock.Advance(time.Second)
	second, err := s.db.CreateConversation(s.ctx, "u1", "second")
	s.Require().NoError(err)
	s.clock.Advance(time.Second)
	_, err = s.db.CreateConversation(s.ctx, "u2", "other user")
	s.Require().NoError(err)

	convs, err := s.db.ListConversations(s.ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(convs, 2)
	s.Equal(second.ID, convs[0].ID)
	s.Equal(first.ID, convs[1].ID)

	// A new message moves the older conversation to the top.
	s.clock.Advance(time.Second)
	_, err = s.db.AppendMessage(s.ctx, first.ID, models.RoleUser, "bump")
	s.Require().NoError(err)

	convs, err = s.db.ListConversations(s.ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(convs, 2)
	s.Equal(first.ID, convs[0].ID)
	for _, c := range convs {
		s.Equal("u1", c.UserID)
	}
}

func (s *DatabaseSuite) TestListConversationsEmpty() {
	convs, err := s.db.ListConversations(s.ctx, "nobody")
	s.Require().NoError(err)
	s.NotNil(convs)
	s.Empty(convs)
}

func (s *DatabaseSuite) TestAppendMessageAdvancesUpdatedAt() {
	conv, err := s.db.CreateConversation(s.ctx, "u1", "")
	s.Require().NoError(err)

	// Frozen clock: each append must still move updated_at forward.
	prev := conv.UpdatedAt
	for i := 0; i < 3; i++ {
		msg, err := s.db.AppendMessage(s.ctx, conv.ID, models.RoleUser, "hello")
		s.Require().NoError(err)

		got, err := s.db.GetConversation(s.ctx, conv.ID)
		s.Require().NoError(err)
		s.True(got.UpdatedAt.After(prev), "updated_at %v should be after %v", got.UpdatedAt, prev)
		s.False(got.UpdatedAt.Before(msg.CreatedAt))
		prev = got.UpdatedAt
	}
}

func (s *DatabaseSuite) TestAppendMessageUnknownConversation() {
	_, err := s.db.AppendMessage(s.ctx, "missing", models.RoleUser, "hello")
	s.ErrorIs(err, ErrNotFound)

	msgs, err := s.db.ListMessages(s.ctx, "missing")
	s.Require().NoError(err)
	s.Empty(msgs)
}

func (s *DatabaseSuite) TestAppendMessageRejectsRole() {
	conv, err := s.db.CreateConversation(s.ctx, "u1", "")
	s.Require().NoError(err)

	_, err = s.db.AppendMessage(s.ctx, conv.ID, models.Role("system"), "hello")
	s.ErrorIs(err, ErrInvalidRole)

	msgs, err := s.db.ListMessages(s.ctx, conv.ID)
	s.Require().NoError(err)
	s.Empty(msgs)
}

func (s *DatabaseSuite) TestListMessagesChronologicalAndStable() {
	conv, err := s.db.CreateConversation(s.ctx, "u1", "")
	s.Require().NoError(err)

	contents := []string{"one", "two", "three", "four"}
	for i, c := range contents {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		_, err := s.db.AppendMessage(s.ctx, conv.ID, role, c)
		s.Require().NoError(err)
		if i == 1 {
			s.clock.Advance(time.Millisecond)
		}
	}

	msgs, err := s.db.ListMessages(s.ctx, conv.ID)
	s.Require().NoError(err)
	s.Require().Len(msgs, len(contents))
	for i, m := range msgs {
		s.Equal(contents[i], m.Content)
		if i > 0 {
			s.False(m.CreatedAt.Before(msgs[i-1].CreatedAt))
		}
	}

	again, err := s.db.ListMessages(s.ctx, conv.ID)
	s.Require().NoError(err)
	s.Equal(msgs, again)
}

func (s *DatabaseSuite) TestRenameConversation() {
	conv, err := s.db.CreateConversation(s.ctx, "u1", "")
	s.Require().NoError(err)

	s.Require().NoError(s.db.RenameConversation(s.ctx, conv.ID, "renamed"))
	got, err := s.db.GetConversation(s.ctx, conv.ID)
	s.Require().NoError(err)
	s.Equal("renamed", got.Title)

	s.ErrorIs(s.db.RenameConversation(s.ctx, "missing", "x"), ErrNotFound)
}

func (s *DatabaseSuite) TestDeleteConversationRemovesMessages() {
	conv, err := s.db.CreateConversation(s.ctx, "u1", "")
	s.Require().NoError(err)
	keep, err := s.db.CreateConversation(s.ctx, "u1", "keep")
	s.Require().NoError(err)

	_, err = s.db.AppendMessage(s.ctx, conv.ID, models.RoleUser, "hello")
	s.Require().NoError(err)
	_, err = s.db.AppendMessage(s.ctx, keep.ID, models.RoleUser, "stays")
	s.Require().NoError(err)

	s.Require().NoError(s.db.DeleteConversation(s.ctx, conv.ID))

	msgs, err := s.db.ListMessages(s.ctx, conv.ID)
	s.Require().NoError(err)
	s.Empty(msgs)

	convs, err := s.db.ListConversations(s.ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(convs, 1)
	s.Equal(keep.ID, convs[0].ID)

	kept, err := s.db.ListMessages(s.ctx, keep.ID)
	s.Require().NoError(err)
	s.Len(kept, 1)

	s.ErrorIs(s.db.DeleteConversation(s.ctx, conv.ID), ErrNotFound)
}

func TestRebind(t *testing.T) {
	pg := &Database{driver: DriverPostgres}
	assert.Equal(t, "UPDATE t SET a = $1 WHERE id = $2", pg.rebind("UPDATE t SET a = ? WHERE id = ?"))

	lite := &Database{driver: DriverSQLite}
	assert.Equal(t, "SELECT ? FROM t", lite.rebind("SELECT ? FROM t"))
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), "mysql", "", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

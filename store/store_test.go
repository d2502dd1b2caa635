package store

// These tests verify the transfers table operations, in particular that
// state transitions are conditional on the expected prior state.
import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// creates a store backed by a fresh database file
func openTestStore(t *testing.T) *Store {
	dbFile := filepath.Join(t.TempDir(), "transfers.db")
	s, err := Open(dbFile)
	if err != nil {
		t.Fatalf("Couldn't open test store: %s", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// inserts a minimal transfer row for use in transition tests
func insertTestTransfer(t *testing.T, s *Store, id string) {
	err := s.Insert(context.Background(), &Transfer{
		Id:              id,
		ProductId:       "P001",
		DestinationPath: "gsiftp://dst.example.org/inbox",
		Submitter:       "/O=Org/CN=alice",
	})
	if err != nil {
		t.Fatalf("Couldn't insert test transfer: %s", err)
	}
}

// tests that an inserted transfer comes back intact and in INIT
func TestInsertAndGet(t *testing.T) {
	assert := assert.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	original := Transfer{
		Id:              "xfer-1",
		ProductId:       "P001",
		DestinationPath: "gsiftp://dst.example.org/inbox",
		Submitter:       "/O=Org/CN=alice",
		PrepareActivity: "unpack",
	}
	err := s.Insert(ctx, &original)
	assert.Nil(err)

	fetched, err := s.Get(ctx, "xfer-1")
	assert.Nil(err)
	assert.Equal("xfer-1", fetched.Id)
	assert.Equal("P001", fetched.ProductId)
	assert.Equal("gsiftp://dst.example.org/inbox", fetched.DestinationPath)
	assert.Equal("/O=Org/CN=alice", fetched.Submitter)
	assert.Equal("unpack", fetched.PrepareActivity)
	assert.Equal(StatusInit, fetched.Status)
	assert.False(fetched.TimeSubmitted.IsZero())
	assert.Nil(fetched.TimeStaging)
}

// tests that fetching an unknown transfer yields a NotFoundError
func TestGetReturnsNotFound(t *testing.T) {
	assert := assert.New(t)
	s := openTestStore(t)

	_, err := s.Get(context.Background(), "no-such-transfer")
	var notFound NotFoundError
	assert.True(errors.As(err, &notFound))
	assert.Equal("no-such-transfer", notFound.Id)
}

// walks a transfer through the entire happy path, checking fields and
// timestamps along the way
func TestHappyPathTransitions(t *testing.T) {
	assert := assert.New(t)
	s := openTestStore(t)
	ctx := context.Background()
	insertTestTransfer(t, s, "xfer-1")

	assert.Nil(s.MarkSubmitted(ctx, "xfer-1"))
	xfer, _ := s.Get(ctx, "xfer-1")
	assert.Equal(StatusSubmitted, xfer.Status)

	assert.Nil(s.MarkStaging(ctx, "xfer-1"))
	xfer, _ = s.Get(ctx, "xfer-1")
	assert.Equal(StatusStaging, xfer.Status)
	assert.NotNil(xfer.TimeStaging)

	assert.Nil(s.RecordStaged(ctx, "xfer-1", "/stage/P001", "host1", "staged ok"))
	xfer, _ = s.Get(ctx, "xfer-1")
	assert.Equal(StatusStagingDone, xfer.Status)
	assert.Equal("/stage/P001", xfer.StagerPath)
	assert.Equal("host1", xfer.StagerHostname)
	assert.Equal("staged ok", xfer.StagerStatus)
	assert.NotNil(xfer.TimeStagingDone)

	assert.Nil(s.MarkPreparing(ctx, "xfer-1"))
	assert.Nil(s.MarkPrepared(ctx, "xfer-1"))

	assert.Nil(s.MarkTransferring(ctx, "xfer-1", "fts-job-42"))
	xfer, _ = s.Get(ctx, "xfer-1")
	assert.Equal(StatusTransferring, xfer.Status)
	assert.Equal("fts-job-42", xfer.FtsId)
	assert.NotNil(xfer.TimeTransferring)

	assert.Nil(s.MarkSuccess(ctx, "xfer-1", `{"job_state":"FINISHED"}`))
	xfer, _ = s.Get(ctx, "xfer-1")
	assert.Equal(StatusSuccess, xfer.Status)
	assert.Equal(`{"job_state":"FINISHED"}`, xfer.FtsDetails)
	assert.NotNil(xfer.TimeSuccess)
	assert.True(xfer.Status.Terminal())
}

// tests that a transition whose expected prior state is wrong does nothing
// and reports the actual state
func TestTransitionConditionLost(t *testing.T) {
	assert := assert.New(t)
	s := openTestStore(t)
	ctx := context.Background()
	insertTestTransfer(t, s, "xfer-1")

	// the row is in INIT, not SUBMITTED, so staging may not begin
	err := s.MarkStaging(ctx, "xfer-1")
	var stateErr StateError
	assert.True(errors.As(err, &stateErr))
	assert.Equal(StatusSubmitted, stateErr.Expected)
	assert.Equal(StatusInit, stateErr.Actual)

	xfer, _ := s.Get(ctx, "xfer-1")
	assert.Equal(StatusInit, xfer.Status)
}

// tests that repeating a transition yields exactly one state change
func TestTransitionIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	s := openTestStore(t)
	ctx := context.Background()
	insertTestTransfer(t, s, "xfer-1")

	assert.Nil(s.MarkSubmitted(ctx, "xfer-1"))
	assert.Nil(s.MarkStaging(ctx, "xfer-1"))
	assert.Nil(s.RecordStaged(ctx, "xfer-1", "/stage/P001", "host1", "ok"))

	// the second callback replay loses the condition
	err := s.RecordStaged(ctx, "xfer-1", "/other", "host2", "replay")
	var stateErr StateError
	assert.True(errors.As(err, &stateErr))

	xfer, _ := s.Get(ctx, "xfer-1")
	assert.Equal("/stage/P001", xfer.StagerPath)
	assert.Equal("host1", xfer.StagerHostname)
}

// tests that a transition on a missing row reports NotFoundError
func TestTransitionOnMissingRow(t *testing.T) {
	assert := assert.New(t)
	s := openTestStore(t)

	err := s.MarkSubmitted(context.Background(), "no-such-transfer")
	var notFound NotFoundError
	assert.True(errors.As(err, &notFound))
}

// tests that Fail works from any non-terminal state and never from a
// terminal one
func TestFail(t *testing.T) {
	assert := assert.New(t)
	s := openTestStore(t)
	ctx := context.Background()
	insertTestTransfer(t, s, "xfer-1")
	assert.Nil(s.MarkSubmitted(ctx, "xfer-1"))

	assert.Nil(s.Fail(ctx, "xfer-1", "stager unreachable"))
	xfer, _ := s.Get(ctx, "xfer-1")
	assert.Equal(StatusError, xfer.Status)
	assert.Equal("stager unreachable", xfer.ExtraStatus)
	assert.NotNil(xfer.TimeError)

	// terminal rows are left alone
	err := s.Fail(ctx, "xfer-1", "second failure")
	var stateErr StateError
	assert.True(errors.As(err, &stateErr))
	xfer, _ = s.Get(ctx, "xfer-1")
	assert.Equal("stager unreachable", xfer.ExtraStatus)
}

// tests that FailFrom fails a transfer only from the expected state
func TestFailFrom(t *testing.T) {
	assert := assert.New(t)
	s := openTestStore(t)
	ctx := context.Background()
	insertTestTransfer(t, s, "xfer-1")
	assert.Nil(s.MarkSubmitted(ctx, "xfer-1"))
	assert.Nil(s.MarkStaging(ctx, "xfer-1"))

	// wrong expected state: row untouched
	err := s.FailFrom(ctx, "xfer-1", StatusPreparing, "agent unreachable")
	var stateErr StateError
	assert.True(errors.As(err, &stateErr))
	assert.Equal(StatusPreparing, stateErr.Expected)
	assert.Equal(StatusStaging, stateErr.Actual)
	xfer, _ := s.Get(ctx, "xfer-1")
	assert.Equal(StatusStaging, xfer.Status)

	// matching expected state: row moves to ERROR
	assert.Nil(s.FailFrom(ctx, "xfer-1", StatusStaging, "stager unreachable"))
	xfer, _ = s.Get(ctx, "xfer-1")
	assert.Equal(StatusError, xfer.Status)
	assert.Equal("stager unreachable", xfer.ExtraStatus)
	assert.NotNil(xfer.TimeError)
}

// tests that FTS details only update while the transfer is in flight
func TestUpdateFtsDetails(t *testing.T) {
	assert := assert.New(t)
	s := openTestStore(t)
	ctx := context.Background()
	insertTestTransfer(t, s, "xfer-1")
	assert.Nil(s.MarkSubmitted(ctx, "xfer-1"))
	assert.Nil(s.MarkStaging(ctx, "xfer-1"))
	assert.Nil(s.RecordStaged(ctx, "xfer-1", "/stage/P001", "host1", "ok"))
	assert.Nil(s.MarkPreparing(ctx, "xfer-1"))
	assert.Nil(s.MarkPrepared(ctx, "xfer-1"))
	assert.Nil(s.MarkTransferring(ctx, "xfer-1", "fts-job-42"))

	assert.Nil(s.UpdateFtsDetails(ctx, "xfer-1", `{"job_state":"ACTIVE"}`))
	xfer, _ := s.Get(ctx, "xfer-1")
	assert.Equal(`{"job_state":"ACTIVE"}`, xfer.FtsDetails)

	assert.Nil(s.MarkSuccess(ctx, "xfer-1", `{"job_state":"FINISHED"}`))

	// a stale poller observation is dropped silently
	assert.Nil(s.UpdateFtsDetails(ctx, "xfer-1", `{"job_state":"STALE"}`))
	xfer, _ = s.Get(ctx, "xfer-1")
	assert.Equal(`{"job_state":"FINISHED"}`, xfer.FtsDetails)
}

// tests listing transfers by state
func TestListByStatus(t *testing.T) {
	assert := assert.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"xfer-1", "xfer-2", "xfer-3"} {
		insertTestTransfer(t, s, id)
		assert.Nil(s.MarkSubmitted(ctx, id))
	}
	assert.Nil(s.MarkStaging(ctx, "xfer-2"))

	submitted, err := s.ListByStatus(ctx, StatusSubmitted)
	assert.Nil(err)
	assert.Len(submitted, 2)
	staging, err := s.ListByStatus(ctx, StatusStaging)
	assert.Nil(err)
	assert.Len(staging, 1)
	assert.Equal("xfer-2", staging[0].Id)
	terminal, err := s.ListByStatus(ctx, StatusSuccess)
	assert.Nil(err)
	assert.Len(terminal, 0)
}

// tests that the authcode column is written and hidden from JSON
func TestSetAuthcode(t *testing.T) {
	assert := assert.New(t)
	s := openTestStore(t)
	ctx := context.Background()
	insertTestTransfer(t, s, "xfer-1")
	assert.Nil(s.MarkSubmitted(ctx, "xfer-1"))
	assert.Nil(s.MarkStaging(ctx, "xfer-1"))

	assert.Nil(s.SetAuthcode(ctx, "xfer-1", "secret-token"))
	xfer, _ := s.Get(ctx, "xfer-1")
	assert.Equal("secret-token", xfer.Authcode)
}

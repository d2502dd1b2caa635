// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// This package persists transfers in a SQLite database. The transfers table
// is the source of truth for every transfer's lifecycle: all state
// transitions happen here as conditional updates that name the expected
// prior status, making them linearizable and making queue redeliveries safe
// to replay.
package store

import (
	"context"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema string = `
CREATE TABLE IF NOT EXISTS transfers (
	transfer_id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL,
	destination_path TEXT NOT NULL,
	submitter TEXT NOT NULL,
	prepare_activity TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	extra_status TEXT NOT NULL DEFAULT '',
	stager_path TEXT NOT NULL DEFAULT '',
	stager_hostname TEXT NOT NULL DEFAULT '',
	stager_status TEXT NOT NULL DEFAULT '',
	authcode TEXT NOT NULL DEFAULT '',
	fts_id TEXT NOT NULL DEFAULT '',
	fts_details TEXT NOT NULL DEFAULT '',
	time_submitted TEXT NOT NULL,
	time_staging TEXT,
	time_staging_done TEXT,
	time_transferring TEXT,
	time_error TEXT,
	time_success TEXT
);
CREATE INDEX IF NOT EXISTS transfers_by_status ON transfers (status);
`

// This type provides access to the transfers table. It is safe for
// concurrent use; statements on separate connections are independent
// transactions.
type Store struct {
	pool *sqlitex.Pool
}

// Opens (creating if necessary) the transfers database at the given path.
func Open(dbFile string) (*Store, error) {
	pool, err := sqlitex.NewPool(dbFile, sqlitex.PoolOptions{PoolSize: 10})
	if err != nil {
		return nil, err
	}
	store := &Store{pool: pool}

	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, err
	}
	defer pool.Put(conn)
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Closes the database, releasing all connections.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Inserts a new transfer row in the INIT state, stamping its submission
// time. The caller supplies the id and the immutable request fields.
func (s *Store) Insert(ctx context.Context, transfer *Transfer) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	transfer.Status = StatusInit
	transfer.TimeSubmitted = time.Now().UTC().Truncate(time.Second)
	return sqlitex.Execute(conn,
		`INSERT INTO transfers
			(transfer_id, product_id, destination_path, submitter,
			 prepare_activity, status, time_submitted)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{transfer.Id, transfer.ProductId, transfer.DestinationPath,
				transfer.Submitter, transfer.PrepareActivity, string(transfer.Status),
				timestamp(transfer.TimeSubmitted)},
		})
}

// Fetches the transfer with the given id, or a NotFoundError.
func (s *Store) Get(ctx context.Context, transferId string) (Transfer, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Transfer{}, err
	}
	defer s.pool.Put(conn)

	var transfer Transfer
	found := false
	err = sqlitex.Execute(conn,
		"SELECT * FROM transfers WHERE transfer_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{transferId},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				transfer = scanTransfer(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return Transfer{}, err
	}
	if !found {
		return Transfer{}, NotFoundError{Id: transferId}
	}
	return transfer, nil
}

// Fetches all transfers currently in the given state.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]Transfer, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	transfers := make([]Transfer, 0)
	err = sqlitex.Execute(conn,
		"SELECT * FROM transfers WHERE status = ? ORDER BY time_submitted",
		&sqlitex.ExecOptions{
			Args: []any{string(status)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				transfers = append(transfers, scanTransfer(stmt))
				return nil
			},
		})
	return transfers, err
}

// This helper runs a conditional update and translates "no rows changed"
// into a StateError carrying the row's actual status (or a NotFoundError if
// the row does not exist).
func (s *Store) transition(ctx context.Context, transferId string,
	expected Status, query string, args []any) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args})
	if err != nil {
		return err
	}
	if conn.Changes() == 0 {
		actual := Status("")
		err = sqlitex.Execute(conn,
			"SELECT status FROM transfers WHERE transfer_id = ?",
			&sqlitex.ExecOptions{
				Args: []any{transferId},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					actual = Status(stmt.ColumnText(0))
					return nil
				},
			})
		if err != nil {
			return err
		}
		if actual == "" {
			return NotFoundError{Id: transferId}
		}
		return StateError{Id: transferId, Expected: expected, Actual: actual}
	}
	return nil
}

// Advances INIT -> SUBMITTED after the staging-queue publish succeeds.
func (s *Store) MarkSubmitted(ctx context.Context, transferId string) error {
	return s.transition(ctx, transferId, StatusInit,
		"UPDATE transfers SET status = ? WHERE transfer_id = ? AND status = ?",
		[]any{string(StatusSubmitted), transferId, string(StatusInit)})
}

// Advances SUBMITTED -> STAGING as the stager driver picks the transfer up.
func (s *Store) MarkStaging(ctx context.Context, transferId string) error {
	return s.transition(ctx, transferId, StatusSubmitted,
		`UPDATE transfers SET status = ?, time_staging = ?
		 WHERE transfer_id = ? AND status = ?`,
		[]any{string(StatusStaging), timestamp(time.Now()), transferId,
			string(StatusSubmitted)})
}

// Records the authcode handed to the stager for the pending dispatch.
func (s *Store) SetAuthcode(ctx context.Context, transferId, authcode string) error {
	return s.transition(ctx, transferId, StatusStaging,
		"UPDATE transfers SET authcode = ? WHERE transfer_id = ? AND status = ?",
		[]any{authcode, transferId, string(StatusStaging)})
}

// Advances STAGING -> STAGINGDONE with the results reported by the stager's
// completion callback.
func (s *Store) RecordStaged(ctx context.Context, transferId, stagerPath,
	stagerHostname, stagerStatus string) error {
	return s.transition(ctx, transferId, StatusStaging,
		`UPDATE transfers SET status = ?, stager_path = ?, stager_hostname = ?,
			stager_status = ?, time_staging_done = ?
		 WHERE transfer_id = ? AND status = ?`,
		[]any{string(StatusStagingDone), stagerPath, stagerHostname, stagerStatus,
			timestamp(time.Now()), transferId, string(StatusStaging)})
}

// Advances STAGINGDONE -> PREPARING as the prepare driver picks the transfer
// up.
func (s *Store) MarkPreparing(ctx context.Context, transferId string) error {
	return s.transition(ctx, transferId, StatusStagingDone,
		"UPDATE transfers SET status = ? WHERE transfer_id = ? AND status = ?",
		[]any{string(StatusPreparing), transferId, string(StatusStagingDone)})
}

// Advances PREPARING -> PREPARINGDONE, either directly (no prepare activity)
// or on the agent's completion callback.
func (s *Store) MarkPrepared(ctx context.Context, transferId string) error {
	return s.transition(ctx, transferId, StatusPreparing,
		"UPDATE transfers SET status = ? WHERE transfer_id = ? AND status = ?",
		[]any{string(StatusPreparingDone), transferId, string(StatusPreparing)})
}

// Advances PREPARINGDONE -> TRANSFERRING once the FTS job is accepted.
func (s *Store) MarkTransferring(ctx context.Context, transferId, ftsId string) error {
	return s.transition(ctx, transferId, StatusPreparingDone,
		`UPDATE transfers SET status = ?, fts_id = ?, time_transferring = ?
		 WHERE transfer_id = ? AND status = ?`,
		[]any{string(StatusTransferring), ftsId, timestamp(time.Now()),
			transferId, string(StatusPreparingDone)})
}

// Refreshes the FTS detail blob for a transfer still in flight. Losing the
// status condition is not an error here: the poller may race a terminal
// transition, and the stale details are simply dropped.
func (s *Store) UpdateFtsDetails(ctx context.Context, transferId, details string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn,
		"UPDATE transfers SET fts_details = ? WHERE transfer_id = ? AND status = ?",
		&sqlitex.ExecOptions{
			Args: []any{details, transferId, string(StatusTransferring)},
		})
}

// Advances TRANSFERRING -> SUCCESS when the poller observes a finished FTS
// job.
func (s *Store) MarkSuccess(ctx context.Context, transferId, details string) error {
	return s.transition(ctx, transferId, StatusTransferring,
		`UPDATE transfers SET status = ?, fts_details = ?, time_success = ?
		 WHERE transfer_id = ? AND status = ?`,
		[]any{string(StatusSuccess), details, timestamp(time.Now()),
			transferId, string(StatusTransferring)})
}

// Advances TRANSFERRING -> ERROR when the poller observes a failed FTS job,
// keeping the job's final detail blob.
func (s *Store) MarkTransferFailed(ctx context.Context, transferId, details,
	reason string) error {
	return s.transition(ctx, transferId, StatusTransferring,
		`UPDATE transfers SET status = ?, fts_details = ?, extra_status = ?,
			time_error = ?
		 WHERE transfer_id = ? AND status = ?`,
		[]any{string(StatusError), details, reason, timestamp(time.Now()),
			transferId, string(StatusTransferring)})
}

// Moves a transfer from the given expected state to ERROR, recording the
// reason. A transfer no longer in that state is left untouched (StateError),
// which lets callers tie side effects to winning the transition.
func (s *Store) FailFrom(ctx context.Context, transferId string, expected Status,
	reason string) error {
	return s.transition(ctx, transferId, expected,
		`UPDATE transfers SET status = ?, extra_status = ?, time_error = ?
		 WHERE transfer_id = ? AND status = ?`,
		[]any{string(StatusError), reason, timestamp(time.Now()), transferId,
			string(expected)})
}

// Moves a transfer in any non-terminal state to ERROR, recording the reason.
// A transfer already in a terminal state is left alone (StateError).
func (s *Store) Fail(ctx context.Context, transferId, reason string) error {
	return s.transition(ctx, transferId, "",
		`UPDATE transfers SET status = ?, extra_status = ?, time_error = ?
		 WHERE transfer_id = ? AND status NOT IN (?, ?)`,
		[]any{string(StatusError), reason, timestamp(time.Now()), transferId,
			string(StatusSuccess), string(StatusError)})
}

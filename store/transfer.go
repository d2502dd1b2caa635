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

package store

import (
	"time"

	"zombiezen.com/go/sqlite"
)

// The lifecycle state of a transfer. States advance monotonically along the
// pipeline; the only backward-free exception is the jump from any
// non-terminal state to StatusError.
type Status string

const (
	StatusInit          Status = "INIT"
	StatusSubmitted     Status = "SUBMITTED"
	StatusStaging       Status = "STAGING"
	StatusStagingDone   Status = "STAGINGDONE"
	StatusPreparing     Status = "PREPARING"
	StatusPreparingDone Status = "PREPARINGDONE"
	StatusTransferring  Status = "TRANSFERRING"
	StatusSuccess       Status = "SUCCESS"
	StatusError         Status = "ERROR"
)

// Returns true if the status is terminal (no further transitions).
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// A Transfer records the full lifecycle of one transfer request. It mirrors a
// row of the transfers table and doubles as the JSON body returned by the
// status endpoints (timestamps render as RFC 3339; unset ones are omitted).
type Transfer struct {
	// unique identifier assigned at submission
	Id string `json:"transfer_id"`
	// identifier of the data product at its origin
	ProductId string `json:"product_id"`
	// gsiftp URI of the destination directory
	DestinationPath string `json:"destination_path"`
	// DN of the identity that submitted the transfer
	Submitter string `json:"submitter"`
	// description of preprocessing to perform on the transfer host, if any
	PrepareActivity string `json:"prepare_activity,omitempty"`
	// current lifecycle state
	Status Status `json:"status"`
	// diagnostic recorded when the transfer fails
	ExtraStatus string `json:"extra_status,omitempty"`
	// reported by the stager's completion callback
	StagerPath     string `json:"stager_path,omitempty"`
	StagerHostname string `json:"stager_hostname,omitempty"`
	StagerStatus   string `json:"stager_status,omitempty"`
	// callback token handed to the stager at dispatch (never exposed)
	Authcode string `json:"-"`
	// identifier and last observed detail of the FTS job
	FtsId      string `json:"fts_id,omitempty"`
	FtsDetails string `json:"fts_details,omitempty"`
	// timestamps set on entry into the corresponding states
	TimeSubmitted    time.Time  `json:"time_submitted"`
	TimeStaging      *time.Time `json:"time_staging,omitempty"`
	TimeStagingDone  *time.Time `json:"time_staging_done,omitempty"`
	TimeTransferring *time.Time `json:"time_transferring,omitempty"`
	TimeError        *time.Time `json:"time_error,omitempty"`
	TimeSuccess      *time.Time `json:"time_success,omitempty"`
}

// database timestamps are RFC 3339 text in UTC
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTimestamp(text string) *time.Time {
	if text == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return nil
	}
	return &t
}

// This helper reads a Transfer out of a statement positioned on a row of the
// transfers table.
func scanTransfer(stmt *sqlite.Stmt) Transfer {
	transfer := Transfer{
		Id:              stmt.GetText("transfer_id"),
		ProductId:       stmt.GetText("product_id"),
		DestinationPath: stmt.GetText("destination_path"),
		Submitter:       stmt.GetText("submitter"),
		PrepareActivity: stmt.GetText("prepare_activity"),
		Status:          Status(stmt.GetText("status")),
		ExtraStatus:     stmt.GetText("extra_status"),
		StagerPath:      stmt.GetText("stager_path"),
		StagerHostname:  stmt.GetText("stager_hostname"),
		StagerStatus:    stmt.GetText("stager_status"),
		Authcode:        stmt.GetText("authcode"),
		FtsId:           stmt.GetText("fts_id"),
		FtsDetails:      stmt.GetText("fts_details"),
	}
	if submitted := parseTimestamp(stmt.GetText("time_submitted")); submitted != nil {
		transfer.TimeSubmitted = *submitted
	}
	transfer.TimeStaging = parseTimestamp(stmt.GetText("time_staging"))
	transfer.TimeStagingDone = parseTimestamp(stmt.GetText("time_staging_done"))
	transfer.TimeTransferring = parseTimestamp(stmt.GetText("time_transferring"))
	transfer.TimeError = parseTimestamp(stmt.GetText("time_error"))
	transfer.TimeSuccess = parseTimestamp(stmt.GetText("time_success"))
	return transfer
}

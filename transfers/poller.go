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

package transfers

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/datagrid/gts/config"
	"github.com/datagrid/gts/store"
)

// periodically sweeps the transfers awaiting FTS, advancing any whose job
// has reached a terminal state
func (c *Coordinator) runPoller() {
	defer c.wg.Done()
	interval := time.Duration(config.Fts.PollingInterval) * time.Second
	slog.Info(fmt.Sprintf("FTS job statuses are updated every %d s",
		config.Fts.PollingInterval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.pollFts()
		}
	}
}

// runs one sweep. Terminal transitions are conditional on TRANSFERRING, so
// a completion observed twice (or raced by a driver-side failure) releases
// the FTS token exactly once.
func (c *Coordinator) pollFts() {
	transferring, err := c.Store.ListByStatus(c.ctx, store.StatusTransferring)
	if err != nil {
		slog.Error(fmt.Sprintf("Error listing transfers awaiting FTS: %s", err.Error()))
		return
	}
	for _, transfer := range transferring {
		status, err := c.fts.JobStatus(c.ctx, transfer.FtsId)
		if err != nil {
			// leave the transfer for the next sweep
			slog.Error(fmt.Sprintf("Error fetching FTS job %s for transfer %s: %s",
				transfer.FtsId, transfer.Id, err.Error()))
			continue
		}
		details := string(status.Raw)
		switch {
		case status.Finished():
			if err := c.Store.MarkSuccess(c.ctx, transfer.Id, details); err != nil {
				slog.Debug(fmt.Sprintf("Dropping FTS completion for transfer %s: %s",
					transfer.Id, err.Error()))
				continue
			}
			c.releaseFts(transfer.Id)
			slog.Info(fmt.Sprintf("Transfer %s successfully completed using FTS", transfer.Id))
		case status.Failed():
			if err := c.Store.MarkTransferFailed(c.ctx, transfer.Id, details,
				"The transfer failed in FTS"); err != nil {
				slog.Debug(fmt.Sprintf("Dropping FTS failure for transfer %s: %s",
					transfer.Id, err.Error()))
				continue
			}
			c.releaseFts(transfer.Id)
			slog.Info(fmt.Sprintf("Transfer %s failed during the transfer stage", transfer.Id))
		default:
			if err := c.Store.UpdateFtsDetails(c.ctx, transfer.Id, details); err != nil {
				slog.Error(fmt.Sprintf("Error updating FTS details for transfer %s: %s",
					transfer.Id, err.Error()))
			}
		}
	}
}

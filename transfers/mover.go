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
	"strings"

	"github.com/datagrid/gts/fts"
	"github.com/datagrid/gts/queue"
	"github.com/datagrid/gts/store"
)

// This file implements the bulk transfer stage: enumerating the staged files
// through the transfer-host agent and submitting one FTS job that moves them
// all to the destination. FTS offers no callbacks, so the token acquired
// here is released by the poller when it observes the job finish.

// consumes the transfer queue
func (c *Coordinator) runMover(deliveries <-chan queue.Delivery) {
	defer c.wg.Done()
	for delivery := range deliveries {
		if err := c.ftsSem.Acquire(c.ctx, 1); err != nil {
			return // shutting down
		}
		c.dispatchTransfer(delivery.TransferId())
		if err := delivery.Ack(); err != nil {
			slog.Error(fmt.Sprintf("Couldn't ack transfer message for transfer %s: %s",
				delivery.TransferId(), err.Error()))
		}
	}
}

// submits the FTS job for one dequeued transfer
func (c *Coordinator) dispatchTransfer(transferId string) {
	transfer, err := c.Store.Get(c.ctx, transferId)
	if err != nil {
		slog.Error(fmt.Sprintf("Error fetching transfer %s for the bulk transfer: %s",
			transferId, err.Error()))
		c.ftsSem.Release(1)
		return
	}
	if transfer.Status != store.StatusPreparingDone {
		slog.Info(fmt.Sprintf("Ignoring transfer redelivery for transfer %s (status %s)",
			transferId, transfer.Status))
		c.ftsSem.Release(1)
		return
	}

	files, err := c.agent.ListFiles(c.ctx, transfer.StagerHostname, transfer.StagerPath)
	if err != nil {
		slog.Error(fmt.Sprintf("Error listing staged files for transfer %s: %s",
			transferId, err.Error()))
		c.abortTransfer(transferId, "Error listing staged files")
		return
	}

	job := buildJob(transfer, files)
	ftsId, err := c.fts.Submit(c.ctx, job)
	if err != nil {
		slog.Error(fmt.Sprintf("Error submitting transfer %s to FTS: %s",
			transferId, err.Error()))
		c.abortTransfer(transferId, "Error submitting job to FTS")
		return
	}

	if err := c.Store.MarkTransferring(c.ctx, transferId, ftsId); err != nil {
		// the FTS job is in flight but untracked; all we can do is record the
		// failure
		slog.Error(fmt.Sprintf("Error recording FTS job %s for transfer %s: %s",
			ftsId, transferId, err.Error()))
		c.abortTransfer(transferId, "Error recording FTS job")
		return
	}
	c.ftsInflight.add(transferId)
	slog.Info(fmt.Sprintf("Transfer %s submitted to FTS as job %s", transferId, ftsId))
}

// fails a transfer still awaiting its FTS submission, releasing the FTS
// token only on winning the transition
func (c *Coordinator) abortTransfer(transferId, reason string) {
	if err := c.Store.FailFrom(c.ctx, transferId, store.StatusPreparingDone, reason); err != nil {
		slog.Error(fmt.Sprintf("Couldn't record a transfer error for transfer %s: %s",
			transferId, err.Error()))
		return
	}
	c.ftsSem.Release(1)
}

// builds the FTS job for a staged transfer: one file movement per staged
// file, from the transfer host to the requested destination. An empty file
// list yields an empty job; FTS decides what becomes of it.
func buildJob(transfer store.Transfer, files []string) fts.Job {
	sourceBase := fmt.Sprintf("gsiftp://%s%s", transfer.StagerHostname,
		strings.TrimRight(transfer.StagerPath, "/"))
	destinationBase := strings.TrimRight(transfer.DestinationPath, "/")
	job := fts.Job{Files: make([]fts.FileTransfer, len(files))}
	for i, file := range files {
		job.Files[i] = fts.FileTransfer{
			Sources:      []string{fmt.Sprintf("%s/%s", sourceBase, file)},
			Destinations: []string{fmt.Sprintf("%s/%s", destinationBase, file)},
		}
	}
	return job
}

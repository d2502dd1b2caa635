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
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/datagrid/gts/config"
	"github.com/datagrid/gts/queue"
	"github.com/datagrid/gts/store"
)

// This file implements the staging stage: the driver that hands queued
// transfers to the stager, and the callback handler that resumes them when
// the stager reports back.

// consumes the staging queue, dispatching each transfer to the stager
func (c *Coordinator) runStager(deliveries <-chan queue.Delivery) {
	defer c.wg.Done()
	for delivery := range deliveries {
		if err := c.stagingSem.Acquire(c.ctx, 1); err != nil {
			return // shutting down
		}
		c.dispatchStaging(delivery.TransferId())
		if err := delivery.Ack(); err != nil {
			slog.Error(fmt.Sprintf("Couldn't ack staging message for transfer %s: %s",
				delivery.TransferId(), err.Error()))
		}
	}
}

// hands one dequeued transfer to the stager. The staging token is left held
// only when the request goes out: the stager's callback releases it.
func (c *Coordinator) dispatchStaging(transferId string) {
	transfer, err := c.Store.Get(c.ctx, transferId)
	if err != nil {
		slog.Error(fmt.Sprintf("Error fetching transfer %s for staging: %s",
			transferId, err.Error()))
		c.stagingSem.Release(1)
		return
	}

	err = c.Store.MarkStaging(c.ctx, transferId)
	if err != nil {
		var stateErr store.StateError
		if errors.As(err, &stateErr) {
			// redelivery of a transfer that already moved on
			slog.Info(fmt.Sprintf("Ignoring staging redelivery for transfer %s (status %s)",
				transferId, stateErr.Actual))
		} else {
			slog.Error(fmt.Sprintf("Error updating status for transfer %s: %s",
				transferId, err.Error()))
			c.failTransfer(c.ctx, transferId, "Error entering the staging stage")
		}
		c.stagingSem.Release(1)
		return
	}
	c.stagingInflight.add(transferId)

	authcode := ""
	if c.callbackKey != nil {
		authcode, err = newAuthcode(c.callbackKey, transferId)
		if err == nil {
			err = c.Store.SetAuthcode(c.ctx, transferId, authcode)
		}
		if err != nil {
			slog.Error(fmt.Sprintf("Error minting a callback token for transfer %s: %s",
				transferId, err.Error()))
			c.abortStaging(transferId, "Error minting a callback token")
			return
		}
	}

	err = c.stager.Stage(c.ctx, transferId, transfer.ProductId,
		callbackUrl("doneStaging"), authcode)
	if err != nil {
		slog.Error(fmt.Sprintf("Error contacting the stager for transfer %s: %s",
			transferId, err.Error()))
		c.abortStaging(transferId, "Error contacting stager")
		return
	}
	slog.Info(fmt.Sprintf("Finished submitting transfer %s to the stager", transferId))
}

// fails a transfer that is in STAGING on our own account, releasing the
// staging token only if the stager's callback hasn't already done so
func (c *Coordinator) abortStaging(transferId, reason string) {
	if err := c.Store.FailFrom(c.ctx, transferId, store.StatusStaging, reason); err != nil {
		slog.Error(fmt.Sprintf("Couldn't record a staging error for transfer %s: %s",
			transferId, err.Error()))
		return
	}
	c.releaseStaging(transferId)
}

// This type holds the fields of the stager's completion report.
type StagingResult struct {
	TransferId string
	ProductId  string
	Success    bool
	StagedTo   string
	Path       string
	Msg        string
	Authcode   string
}

// Processes the stager's completion report for a transfer: advances it to
// STAGINGDONE, queues it for preparation, and releases its staging token.
// The advance is conditional on the transfer still being in STAGING; a
// report for a transfer in any other state changes nothing and releases
// nothing.
func (c *Coordinator) FinishStaging(ctx context.Context, result StagingResult) error {
	if c.callbackKey != nil {
		if err := c.verifyAuthcode(ctx, result.TransferId, result.Authcode); err != nil {
			return err
		}
	}

	if !result.Success {
		slog.Error(fmt.Sprintf("The stager reported failure staging transfer %s: %s",
			result.TransferId, result.Msg))
		err := c.Store.FailFrom(ctx, result.TransferId, store.StatusStaging,
			"The stager reported failure")
		if err != nil {
			return err
		}
		c.releaseStaging(result.TransferId)
		return nil
	}

	err := c.Store.RecordStaged(ctx, result.TransferId, result.Path,
		result.StagedTo, result.Msg)
	if err != nil {
		return err
	}
	c.releaseStaging(result.TransferId)

	if err := c.Broker.Publish(ctx, config.Broker.Queues.Prepare, result.TransferId); err != nil {
		slog.Error(fmt.Sprintf("Error queueing transfer %s for preparation: %s",
			result.TransferId, err.Error()))
		c.failTransfer(ctx, result.TransferId, "Error queueing for preparation")
		return err
	}
	slog.Info(fmt.Sprintf("Completed staging of transfer %s", result.TransferId))
	return nil
}

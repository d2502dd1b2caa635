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

// This file implements the prepare stage: preprocessing of staged files by
// the transfer-host agent before the bulk transfer. Transfers with no
// prepare activity pass through without any outbound call.

// consumes the prepare queue
func (c *Coordinator) runPreparer(deliveries <-chan queue.Delivery) {
	defer c.wg.Done()
	for delivery := range deliveries {
		if err := c.prepareSem.Acquire(c.ctx, 1); err != nil {
			return // shutting down
		}
		c.dispatchPrepare(delivery.TransferId())
		if err := delivery.Ack(); err != nil {
			slog.Error(fmt.Sprintf("Couldn't ack prepare message for transfer %s: %s",
				delivery.TransferId(), err.Error()))
		}
	}
}

// runs the prepare step for one dequeued transfer. When preprocessing was
// requested the prepare token stays held until the agent's callback; when
// none was, the transfer advances on the spot.
func (c *Coordinator) dispatchPrepare(transferId string) {
	transfer, err := c.Store.Get(c.ctx, transferId)
	if err != nil {
		slog.Error(fmt.Sprintf("Error fetching transfer %s for preparation: %s",
			transferId, err.Error()))
		c.prepareSem.Release(1)
		return
	}

	err = c.Store.MarkPreparing(c.ctx, transferId)
	if err != nil {
		var stateErr store.StateError
		if errors.As(err, &stateErr) {
			slog.Info(fmt.Sprintf("Ignoring prepare redelivery for transfer %s (status %s)",
				transferId, stateErr.Actual))
		} else {
			slog.Error(fmt.Sprintf("Error updating status for transfer %s: %s",
				transferId, err.Error()))
			c.failTransfer(c.ctx, transferId, "Error entering the prepare stage")
		}
		c.prepareSem.Release(1)
		return
	}
	c.prepareInflight.add(transferId)

	if transfer.PrepareActivity == "" {
		// no preprocessing requested, so complete the stage ourselves
		msg := fmt.Sprintf("No preprocessing requested for transfer %s", transferId)
		slog.Debug(msg)
		if err := c.FinishPrepare(c.ctx, PrepareResult{
			TransferId: transferId,
			Success:    true,
			Msg:        msg,
		}); err != nil {
			slog.Error(fmt.Sprintf("Error completing the prepare stage for transfer %s: %s",
				transferId, err.Error()))
		}
		return
	}

	err = c.agent.Prepare(c.ctx, transfer.StagerHostname, transferId,
		transfer.StagerPath, transfer.PrepareActivity, callbackUrl("donePrepare"))
	if err != nil {
		slog.Error(fmt.Sprintf("Error contacting the agent on %s for transfer %s: %s",
			transfer.StagerHostname, transferId, err.Error()))
		c.abortPrepare(transferId, "Error contacting the transfer host agent")
		return
	}
	slog.Info(fmt.Sprintf("Finished submitting transfer %s for preprocessing", transferId))
}

// fails a transfer that is in PREPARING on our own account, releasing the
// prepare token only if the agent's callback hasn't already done so
func (c *Coordinator) abortPrepare(transferId, reason string) {
	if err := c.Store.FailFrom(c.ctx, transferId, store.StatusPreparing, reason); err != nil {
		slog.Error(fmt.Sprintf("Couldn't record a prepare error for transfer %s: %s",
			transferId, err.Error()))
		return
	}
	c.releasePrepare(transferId)
}

// This type holds the fields of the agent's preprocessing completion report.
type PrepareResult struct {
	TransferId string
	Success    bool
	Msg        string
}

// Processes a preprocessing completion report: advances the transfer to
// PREPARINGDONE, queues it for the bulk transfer, and releases its prepare
// token. As with staging, the advance is conditional on the transfer still
// being in PREPARING.
func (c *Coordinator) FinishPrepare(ctx context.Context, result PrepareResult) error {
	if !result.Success {
		slog.Error(fmt.Sprintf("Preprocessing failed for transfer %s: %s",
			result.TransferId, result.Msg))
		err := c.Store.FailFrom(ctx, result.TransferId, store.StatusPreparing,
			"Preprocessing failed")
		if err != nil {
			return err
		}
		c.releasePrepare(result.TransferId)
		return nil
	}

	if err := c.Store.MarkPrepared(ctx, result.TransferId); err != nil {
		return err
	}
	c.releasePrepare(result.TransferId)

	if err := c.Broker.Publish(ctx, config.Broker.Queues.Transfer, result.TransferId); err != nil {
		slog.Error(fmt.Sprintf("Error queueing transfer %s for the bulk transfer: %s",
			result.TransferId, err.Error()))
		c.failTransfer(ctx, result.TransferId, "Error queueing for transfer")
		return err
	}
	slog.Info(fmt.Sprintf("Completed preparation of transfer %s", result.TransferId))
	return nil
}

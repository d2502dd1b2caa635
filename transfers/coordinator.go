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

// Package transfers drives each transfer request through its pipeline:
// staging, optional preprocessing, and the bulk FTS transfer. A Coordinator
// runs one goroutine per stage plus a poller; they share nothing but the
// transfers database, the message broker, and three counting semaphores that
// bound how many transfers may occupy each stage. Every semaphore token
// stands for external work in flight: it is acquired before the triggering
// queue message is acknowledged and released by whichever write wins the
// transition out of the stage, never at the ack site.
package transfers

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/fernet/fernet-go"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/datagrid/gts/backends"
	"github.com/datagrid/gts/config"
	"github.com/datagrid/gts/fts"
	"github.com/datagrid/gts/queue"
	"github.com/datagrid/gts/store"
)

// This type owns the transfer pipeline: the drivers that consume the three
// stage queues, the FTS poller, and the clients for the external services.
type Coordinator struct {
	// transfer records database
	Store *store.Store
	// message broker carrying transfer ids between stages
	Broker queue.Broker

	// clients for the external services
	stager *backends.Stager
	agent  *backends.Agent
	fts    *fts.Client

	// per-stage concurrency limits; a held token means external work in
	// flight for one transfer
	stagingSem *semaphore.Weighted
	prepareSem *semaphore.Weighted
	ftsSem     *semaphore.Weighted

	// per-stage admissions awaiting completion (see inflight)
	stagingInflight *inflight
	prepareInflight *inflight
	ftsInflight     *inflight

	// key for minting and checking callback tokens (nil disables them)
	callbackKey *fernet.Key

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// This type tracks, per stage, the transfers this process has admitted and
// whose semaphore tokens are still held. Completion reports release a token
// only after removing their admission here, so a report for work admitted by
// an earlier process incarnation (whose tokens vanished with it) or a
// duplicate report releases nothing.
type inflight struct {
	mutex  sync.Mutex
	counts map[string]int
}

func newInflight() *inflight {
	return &inflight{counts: make(map[string]int)}
}

func (f *inflight) add(transferId string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.counts[transferId]++
}

// removes one admission of the given transfer, reporting whether one was
// present
func (f *inflight) remove(transferId string) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.counts[transferId] == 0 {
		return false
	}
	f.counts[transferId]--
	if f.counts[transferId] == 0 {
		delete(f.counts, transferId)
	}
	return true
}

// Completion paths release stage tokens through these helpers: a token is
// released only when an admission recorded by this process is removed with
// it.

func (c *Coordinator) releaseStaging(transferId string) {
	if c.stagingInflight.remove(transferId) {
		c.stagingSem.Release(1)
	}
}

func (c *Coordinator) releasePrepare(transferId string) {
	if c.prepareInflight.remove(transferId) {
		c.prepareSem.Release(1)
	}
}

func (c *Coordinator) releaseFts(transferId string) {
	if c.ftsInflight.remove(transferId) {
		c.ftsSem.Release(1)
	}
}

// Creates a coordinator for the given store and broker, constructing the
// external service clients from the configuration. Call Start to begin
// processing.
func NewCoordinator(transferStore *store.Store, broker queue.Broker) (*Coordinator, error) {
	stager, err := backends.NewStager()
	if err != nil {
		return nil, err
	}
	agent, err := backends.NewAgent()
	if err != nil {
		return nil, err
	}
	ftsClient, err := fts.NewClient()
	if err != nil {
		return nil, err
	}

	coordinator := &Coordinator{
		Store:           transferStore,
		Broker:          broker,
		stager:          stager,
		agent:           agent,
		fts:             ftsClient,
		stagingSem:      semaphore.NewWeighted(int64(config.Staging.ConcurrentMax)),
		prepareSem:      semaphore.NewWeighted(int64(config.Prepare.ConcurrentMax)),
		ftsSem:          semaphore.NewWeighted(int64(config.Fts.ConcurrentMax)),
		stagingInflight: newInflight(),
		prepareInflight: newInflight(),
		ftsInflight:     newInflight(),
	}

	if config.Staging.CallbackKey != "" {
		keys, err := fernet.DecodeKeys(config.Staging.CallbackKey)
		if err != nil {
			return nil, fmt.Errorf("Invalid callback key: %s", err.Error())
		}
		coordinator.callbackKey = keys[0]
	}
	return coordinator, nil
}

// Declares the stage queues and starts the drivers and the FTS poller.
func (c *Coordinator) Start() error {
	if c.ctx != nil {
		return AlreadyRunningError{}
	}

	queueNames := []string{
		config.Broker.Queues.Staging,
		config.Broker.Queues.Prepare,
		config.Broker.Queues.Transfer,
	}
	for _, queueName := range queueNames {
		if err := c.Broker.Declare(queueName); err != nil {
			return err
		}
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())

	stagingMessages, err := c.Broker.Consume(c.ctx, config.Broker.Queues.Staging)
	if err != nil {
		c.cancel()
		return err
	}
	prepareMessages, err := c.Broker.Consume(c.ctx, config.Broker.Queues.Prepare)
	if err != nil {
		c.cancel()
		return err
	}
	transferMessages, err := c.Broker.Consume(c.ctx, config.Broker.Queues.Transfer)
	if err != nil {
		c.cancel()
		return err
	}

	slog.Info(fmt.Sprintf("Starting transfer pipeline (staging max %d, prepare max %d, FTS max %d)",
		config.Staging.ConcurrentMax, config.Prepare.ConcurrentMax, config.Fts.ConcurrentMax))
	c.wg.Add(4)
	go c.runStager(stagingMessages)
	go c.runPreparer(prepareMessages)
	go c.runMover(transferMessages)
	go c.runPoller()
	return nil
}

// Stops the drivers and the poller, waiting for them to wind down. In-flight
// external work is not interrupted; its callbacks simply find the service
// gone and the transfers resume on redelivery after a restart.
func (c *Coordinator) Stop() error {
	if c.ctx == nil {
		return NotStartedError{}
	}
	c.cancel()
	c.wg.Wait()
	return nil
}

// This type holds the user-supplied description of a requested transfer.
type Specification struct {
	// identifier of the data product to move
	ProductId string
	// gsiftp URL naming the destination directory
	DestinationPath string
	// optional preprocessing to run on the staged files before transfer
	PrepareActivity string
	// DN of the authenticated submitter
	Submitter string
}

// Submits a new transfer: records it, queues it for staging, and returns its
// id. The row is written before the publish so a crash in between leaves an
// inert INIT record rather than an untracked queue message.
func (c *Coordinator) Submit(ctx context.Context, spec Specification) (string, error) {
	if spec.ProductId == "" {
		return "", InvalidRequestError{Field: "product_id", Reason: "no product ID given"}
	}
	if err := validateDestination(spec.DestinationPath); err != nil {
		return "", err
	}

	transferId := uuid.New().String()
	transfer := store.Transfer{
		Id:              transferId,
		ProductId:       spec.ProductId,
		DestinationPath: spec.DestinationPath,
		PrepareActivity: spec.PrepareActivity,
		Submitter:       spec.Submitter,
	}
	if err := c.Store.Insert(ctx, &transfer); err != nil {
		return "", err
	}
	if err := c.Broker.Publish(ctx, config.Broker.Queues.Staging, transferId); err != nil {
		return "", fmt.Errorf("Couldn't queue transfer %s for staging: %s",
			transferId, err.Error())
	}
	if err := c.Store.MarkSubmitted(ctx, transferId); err != nil {
		return "", err
	}
	slog.Info(fmt.Sprintf("Submitted transfer %s of product %s for %s",
		transferId, spec.ProductId, spec.Submitter))
	return transferId, nil
}

// Fetches the transfer with the given id on behalf of the given DN. Only the
// submitter may see a transfer's status.
func (c *Coordinator) Status(ctx context.Context, transferId, dn string) (store.Transfer, error) {
	transfer, err := c.Store.Get(ctx, transferId)
	if err != nil {
		return store.Transfer{}, err
	}
	if transfer.Submitter != dn {
		return store.Transfer{}, NotSubmitterError{TransferId: transferId, Dn: dn}
	}
	return transfer, nil
}

// checks that a destination is a well-formed gsiftp URL with a host
func validateDestination(destination string) error {
	parsed, err := url.Parse(destination)
	if err != nil || parsed.Scheme != "gsiftp" || parsed.Host == "" {
		return InvalidRequestError{
			Field:  "destination_path",
			Reason: "destination_path must be a URL specifying a gsiftp server",
		}
	}
	return nil
}

// forms the callback URL for the named completion route
func callbackUrl(route string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(config.Service.CallbackBase, "/"), route)
}

// moves a transfer to ERROR with the given reason, best effort
func (c *Coordinator) failTransfer(ctx context.Context, transferId, reason string) {
	if err := c.Store.Fail(ctx, transferId, reason); err != nil {
		slog.Error(fmt.Sprintf("Couldn't record an error for transfer %s: %s",
			transferId, err.Error()))
	}
}

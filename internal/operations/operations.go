// Package operations orchestrates Store + ConfigBuilder + NodeRegistry,
// exposing idempotent node and user lifecycle operations. Callers (the
// HTTP adapter and the Scheduler) enqueue work here rather than driving
// NodeClient directly, going through a dedicated task dispatcher backed
// by a worker pool.
package operations

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"xpanel/internal/configbuilder"
	"xpanel/internal/noderegistry"
	"xpanel/internal/store"
	"xpanel/internal/store/models"
	"xpanel/pkg/apperror"
)

// Operations ties the panel's moving parts together for node and user
// lifecycle transitions.
type Operations struct {
	store    *store.Store
	registry *noderegistry.Registry
	pool     *Pool
	log      *logrus.Logger

	restartMu      sync.Mutex
	restartRunning map[uint]bool
	restartPending map[uint]bool
}

// New builds Operations against store/registry, with a background
// worker pool of the given size.
func New(st *store.Store, registry *noderegistry.Registry, log *logrus.Logger, poolSize int) *Operations {
	return &Operations{
		store:          st,
		registry:       registry,
		pool:           NewPool(poolSize),
		log:            log,
		restartRunning: make(map[uint]bool),
		restartPending: make(map[uint]bool),
	}
}

// Enqueue schedules fn to run on the worker pool; each API request
// dispatches at most a handful of these background tasks.
func (o *Operations) Enqueue(fn func(ctx context.Context)) {
	o.pool.Submit(fn)
}

// Shutdown drains the worker pool.
func (o *Operations) Shutdown() {
	o.pool.Shutdown()
}

// ConnectNode marks the node connecting, rebuilds its config from the
// current DB snapshot, and pushes it via NodeClient.Start. On success
// the node is marked connected with its reported engine version; on
// failure it is marked error(msg) and never re-raised to the scheduler.
func (o *Operations) ConnectNode(ctx context.Context, nodeID uint) error {
	if !o.registry.TryBeginConnect(nodeID) {
		return nil // another connect attempt for this node is already in flight
	}
	defer o.registry.EndConnect(nodeID)

	node, err := o.store.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if node.Status == models.NodeStatusDisabled {
		return apperror.Conflict("node %d is disabled", nodeID)
	}

	_ = o.store.SetNodeStatus(ctx, nodeID, models.NodeStatusConnecting, "")

	client, err := o.registry.Ensure(node)
	if err != nil {
		o.markError(ctx, nodeID, err)
		return nil
	}

	configJSON, err := o.buildConfig(ctx, node)
	if err != nil {
		o.markError(ctx, nodeID, err)
		return nil
	}

	if _, err := client.Connect(ctx); err != nil {
		o.markError(ctx, nodeID, err)
		return nil
	}
	if err := client.Start(ctx, configJSON); err != nil {
		o.markError(ctx, nodeID, err)
		return nil
	}

	_, engineVersion, err := client.Status(ctx)
	if err != nil {
		o.markError(ctx, nodeID, err)
		return nil
	}
	if engineVersion != "" {
		_ = o.store.SetNodeEngineVersion(ctx, nodeID, engineVersion)
	}
	_ = o.store.SetNodeStatus(ctx, nodeID, models.NodeStatusConnected, "")
	return nil
}

// RestartNode requires the node to already be connected; it rebuilds
// the config and calls restart.
func (o *Operations) RestartNode(ctx context.Context, nodeID uint) error {
	node, err := o.store.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if node.Status != models.NodeStatusConnected {
		return apperror.Conflict("node %d is not connected", nodeID)
	}

	client, ok := o.registry.Get(nodeID)
	if !ok {
		return o.ConnectNode(ctx, nodeID)
	}

	configJSON, err := o.buildConfig(ctx, node)
	if err != nil {
		o.markError(ctx, nodeID, err)
		return nil
	}

	if err := client.Restart(ctx, configJSON); err != nil {
		o.markError(ctx, nodeID, err)
		return nil
	}
	_ = o.store.SetNodeStatus(ctx, nodeID, models.NodeStatusConnected, "")
	return nil
}

func (o *Operations) buildConfig(ctx context.Context, node *models.Node) ([]byte, error) {
	users, err := o.store.ListUsersOnNode(ctx, node.ID)
	if err != nil {
		return nil, err
	}
	full, err := o.store.GetNode(ctx, node.ID)
	if err != nil {
		return nil, err
	}
	return configbuilder.Build(full, users, full.Services)
}

// scheduleRestart enqueues a restart for nodeID, coalescing it with any
// restart already running or queued for that node: if one is already
// in flight, this request is merged into a single pending follow-up run
// rather than dispatched onto the pool independently (spec §5: "two
// restarts for the same node collapse... the latest queued restart
// wins — it reads the current DB snapshot"), mirroring
// NodeRegistry.TryBeginConnect/EndConnect's per-node guard.
func (o *Operations) scheduleRestart(nodeID uint) {
	o.restartMu.Lock()
	if o.restartRunning[nodeID] {
		o.restartPending[nodeID] = true
		o.restartMu.Unlock()
		return
	}
	o.restartRunning[nodeID] = true
	o.restartMu.Unlock()

	o.Enqueue(func(ctx context.Context) { o.runRestart(ctx, nodeID) })
}

// runRestart performs one restart, then checks whether another was
// requested while it ran; if so it re-dispatches itself so the latest
// DB snapshot is the one that actually reaches the node.
func (o *Operations) runRestart(ctx context.Context, nodeID uint) {
	if err := o.RestartNode(ctx, nodeID); err != nil {
		o.log.WithError(err).WithField("node_id", nodeID).Warn("restart failed")
	}

	o.restartMu.Lock()
	again := o.restartPending[nodeID]
	delete(o.restartPending, nodeID)
	if !again {
		delete(o.restartRunning, nodeID)
	}
	o.restartMu.Unlock()

	if again {
		o.Enqueue(func(ctx context.Context) { o.runRestart(ctx, nodeID) })
	}
}

func (o *Operations) markError(ctx context.Context, nodeID uint, err error) {
	msg := err.Error()
	o.log.WithFields(logrus.Fields{"node_id": nodeID, "error": msg}).Warn("node operation failed")
	_ = o.store.SetNodeStatus(ctx, nodeID, models.NodeStatusError, msg)
}

// ActivateUserOnNode validates that the target node is usable and the
// user's status permits activation, sets active_node_id, and schedules
// a full restart of the node so the rebuilt config includes the user
// (no per-user RPC add — full-config restart is the chosen
// reconciliation strategy).
func (o *Operations) ActivateUserOnNode(ctx context.Context, accountNumber string, nodeID uint) error {
	node, err := o.store.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if !node.IsUsable() {
		return apperror.Conflict("node %d is disabled", nodeID)
	}

	user, err := o.store.GetUserByAccountNumber(ctx, accountNumber)
	if err != nil {
		return err
	}
	if !user.IsActive() {
		return apperror.Conflict("user %s status %s forbids activation", accountNumber, user.Status)
	}

	if err := o.store.SetUserActiveNode(ctx, user.ID, &nodeID); err != nil {
		return err
	}

	o.scheduleRestart(nodeID)
	return nil
}

// DeactivateUser clears active_node_id, then schedules a restart of the
// node the user was on so the rebuilt config omits them.
func (o *Operations) DeactivateUser(ctx context.Context, accountNumber string) error {
	user, err := o.store.GetUserByAccountNumber(ctx, accountNumber)
	if err != nil {
		return err
	}
	if user.ActiveNodeID == nil {
		return nil
	}
	nodeID := *user.ActiveNodeID

	if err := o.store.SetUserActiveNode(ctx, user.ID, nil); err != nil {
		return err
	}

	o.scheduleRestart(nodeID)
	return nil
}

// ReapplyUser restarts the user's active node if their status still
// permits activation; otherwise it deactivates them. Used by
// ReviewUsers after every status transition.
func (o *Operations) ReapplyUser(ctx context.Context, userID uint) error {
	user, err := o.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.ActiveNodeID != nil && user.IsActive() {
		o.scheduleRestart(*user.ActiveNodeID)
		return nil
	}
	return o.DeactivateUser(ctx, user.AccountNumber)
}

// DeleteUser runs DeactivateUser inline (clearing active_node_id and
// scheduling a restart of the user's node), then deletes the user from
// Store.
func (o *Operations) DeleteUser(ctx context.Context, userID uint) error {
	user, err := o.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := o.DeactivateUser(ctx, user.AccountNumber); err != nil {
		return err
	}
	return o.store.DeleteUser(ctx, userID)
}

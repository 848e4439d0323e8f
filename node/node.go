// Package node assembles the protocol components into a running node:
// ledger, event log, lifecycle, arbitration, staking, slashing, rewards,
// persistence, metrics and the HTTP API.
package node

import (
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/UncleTom29/predictlink-evm/api"
	"github.com/UncleTom29/predictlink-evm/auth"
	"github.com/UncleTom29/predictlink-evm/config"
	"github.com/UncleTom29/predictlink-evm/core/events"
	"github.com/UncleTom29/predictlink-evm/core/ledger"
	"github.com/UncleTom29/predictlink-evm/core/state"
	"github.com/UncleTom29/predictlink-evm/crypto"
	"github.com/UncleTom29/predictlink-evm/metrics"
	"github.com/UncleTom29/predictlink-evm/oracle/arbitration"
	"github.com/UncleTom29/predictlink-evm/oracle/lifecycle"
	"github.com/UncleTom29/predictlink-evm/rewards"
	"github.com/UncleTom29/predictlink-evm/staking"
	"github.com/UncleTom29/predictlink-evm/staking/slashing"
	"github.com/UncleTom29/predictlink-evm/storage"
)

var log = logging.Logger("node")

// ArbitrationPrincipal is the identity arbitration acts under when
// applying verdicts. It is granted the validator capability at assembly.
const ArbitrationPrincipal = "predictlink:arbitration"

const snapshotInterval = time.Minute

// Node is the assembled protocol node
type Node struct {
	cfg      *config.Config
	identity *crypto.Identity

	state *state.ProtocolState
	store *storage.Store

	Authorizer  *auth.Registry
	Lifecycle   *lifecycle.Manager
	Arbitration *arbitration.Manager
	Staking     *staking.Manager
	Slashing    *slashing.Governor
	Rewards     *rewards.Distributor

	metrics *metrics.Metrics
	api     *api.Server

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewNode builds a node from configuration
func NewNode(cfg *config.Config) (*Node, error) {
	identity, err := crypto.GenerateIdentity()
	if err != nil {
		return nil, fmt.Errorf("failed to create node identity: %v", err)
	}

	lgr := ledger.NewLedger()
	eventLog := events.NewLog()
	protocolState := state.NewProtocolState(lgr, eventLog)

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %v", err)
	}

	// Restore before wiring observers so persisted entries are not
	// journaled a second time.
	snapshot, err := store.LoadSnapshot()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load snapshot: %v", err)
	}
	if snapshot != nil {
		if err := protocolState.RestoreFromSnapshot(snapshot); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to restore state: %v", err)
		}
		log.Infow("state restored", "root", snapshot.StateRoot, "events", len(snapshot.Events))
	}

	mtr := metrics.New()
	eventLog.Subscribe(mtr.Observe())
	eventLog.Subscribe(func(entry events.Entry) {
		if err := store.AppendEvent(entry); err != nil {
			log.Errorw("failed to journal event", "id", entry.ID, "err", err)
		}
	})

	authorizer := auth.NewRegistry()

	stakingManager := staking.NewManager(cfg, lgr, eventLog, authorizer)
	governor := slashing.NewGovernor(cfg, lgr, eventLog, authorizer, stakingManager)
	stakingManager.SetBlacklist(governor)

	lifecycleManager := lifecycle.NewManager(cfg, lgr, eventLog, authorizer)
	arbitrationManager := arbitration.NewManager(cfg, lgr, eventLog, authorizer, ArbitrationPrincipal)
	lifecycleManager.SetVotingOpener(arbitrationManager)
	arbitrationManager.SetResolver(lifecycleManager)

	distributor := rewards.NewDistributor(cfg, lgr, eventLog, authorizer)

	// The node identity administers the protocol; arbitration applies
	// verdicts through the validator capability.
	if err := authorizer.Grant(identity.Address(), auth.CapabilityAdmin); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to grant admin capability: %v", err)
	}
	if err := authorizer.Grant(ArbitrationPrincipal, auth.CapabilityValidator); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to grant validator capability: %v", err)
	}

	n := &Node{
		cfg:         cfg,
		identity:    identity,
		state:       protocolState,
		store:       store,
		Authorizer:  authorizer,
		Lifecycle:   lifecycleManager,
		Arbitration: arbitrationManager,
		Staking:     stakingManager,
		Slashing:    governor,
		Rewards:     distributor,
		metrics:     mtr,
		stopCh:      make(chan struct{}),
	}
	n.api = api.NewServer(cfg, protocolState, lifecycleManager, arbitrationManager,
		stakingManager, governor, distributor, mtr)

	return n, nil
}

// Address returns the node identity's protocol address
func (n *Node) Address() string {
	return n.identity.Address()
}

// State returns the aggregated protocol state
func (n *Node) State() *state.ProtocolState {
	return n.state
}

// Start launches the API server and the snapshot loop
func (n *Node) Start() error {
	log.Infow("node starting", "id", n.cfg.NodeID, "address", n.identity.Address())

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.api.Start(); err != nil {
			log.Errorw("api server stopped", "err", err)
		}
	}()

	n.wg.Add(1)
	go n.snapshotLoop()

	return nil
}

// Stop shuts the node down, persisting a final snapshot
func (n *Node) Stop() error {
	log.Infow("node stopping", "id", n.cfg.NodeID)

	close(n.stopCh)
	if err := n.api.Stop(); err != nil {
		log.Warnw("failed to stop api server", "err", err)
	}
	n.wg.Wait()

	if err := n.persistSnapshot(); err != nil {
		log.Errorw("failed to persist final snapshot", "err", err)
	}

	return n.store.Close()
}

// snapshotLoop periodically persists state and refreshes gauges
func (n *Node) snapshotLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.metrics.SetTotalSupply(n.state.Ledger().TotalSupply())
			n.metrics.SetTotalStaked(n.Staking.TotalStaked())

			if err := n.persistSnapshot(); err != nil {
				log.Errorw("failed to persist snapshot", "err", err)
			}
		case <-n.stopCh:
			return
		}
	}
}

func (n *Node) persistSnapshot() error {
	if err := n.state.ValidateConsistency(); err != nil {
		return fmt.Errorf("refusing to persist inconsistent state: %v", err)
	}
	return n.store.SaveSnapshot(n.state.CreateSnapshot())
}

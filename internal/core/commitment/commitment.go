// Package commitment is the Commitment Tracker (§4.5): records liveness
// heartbeats and is the sole channel through which the system tells a
// worker to stop (§5, §9 — there is no server-initiated push channel).
package commitment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nightslayer18/skeenode-contracts/internal/core/model"
	"github.com/nightslayer18/skeenode-contracts/internal/storage"
)

// Tracker is the Commitment Tracker over one store handle.
type Tracker struct {
	store storage.Store
	now   func() time.Time
}

// New builds a commitment Tracker.
func New(store storage.Store, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: store, now: now}
}

// Heartbeat records liveness for commitmentID and returns whether the agent
// should keep running or cancel. The instruction is derived from the
// commitment's contract's current outcome: once something else (pause,
// stale-commitment reclaim) has moved the contract away from `running`, the
// next heartbeat response is the only way the system has to tell the agent
// to stop (§4.5, §5, §9).
func (t *Tracker) Heartbeat(ctx context.Context, commitmentID uuid.UUID) (model.HeartbeatResult, error) {
	commitment, err := t.store.GetCommitmentByID(ctx, commitmentID)
	if err != nil {
		if err == storage.ErrNotFound {
			return model.HeartbeatResult{}, model.ErrStaleCommitment
		}
		return model.HeartbeatResult{}, model.WrapError(model.KindInternal, "get commitment", err)
	}

	contract, err := t.store.GetContractByID(ctx, commitment.ContractID)
	if err != nil {
		if err == storage.ErrNotFound {
			return model.HeartbeatResult{}, model.ErrStaleCommitment
		}
		return model.HeartbeatResult{}, model.WrapError(model.KindInternal, "get contract for heartbeat", err)
	}

	if contract.Outcome != model.OutcomeRunning {
		// The contract moved on without this agent (cascade-pause, a racing
		// completion); tell it to cancel instead of erroring, since the
		// heartbeat itself is otherwise harmless.
		return model.HeartbeatResult{Instruction: model.InstructionCancel}, nil
	}

	now := t.now().UTC()
	if _, err := t.store.UpdateHeartbeat(ctx, commitmentID, now); err != nil {
		return model.HeartbeatResult{}, model.WrapError(model.KindInternal, "update heartbeat", err)
	}

	return model.HeartbeatResult{Instruction: model.InstructionContinue}, nil
}

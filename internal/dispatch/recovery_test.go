// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genscene/genscene/internal/credits"
	"github.com/genscene/genscene/internal/job"
)

// seedJob writes a job row directly, simulating state left by a previous
// process.
func (r *testRig) seedJob(t *testing.T, id string, state job.State, progress int, typ job.Type, user string, cost int64) {
	t.Helper()
	payload := job.Payload{"request": map[string]any{"idea_text": "recovered idea"}}
	if user != "" {
		payload.SetUserID(user)
	}
	if cost > 0 {
		payload.SetCreditsCost(cost)
	}
	require.NoError(t, r.store.UpsertJob(context.Background(), id, state, progress, typ, payload))
}

func TestRecoverRequeuesUnfinished(t *testing.T) {
	rig := newTestRig(t, Config{}, 8, nil)
	ctx := context.Background()

	rig.seedJob(t, "qcf-interrupted", job.StateProcessing, 50, job.TypeFullUniverse, "u1", 60)
	rig.seedJob(t, "qc-waiting", job.StateQueued, 0, job.TypeQuickCreate, "", 0)
	rig.seedJob(t, "qc-finished", job.StateDone, 100, job.TypeQuickCreate, "", 0)

	n, err := rig.m.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"qcf-interrupted", "qc-waiting"} {
		rec, ok := rig.reg.Get(id)
		require.True(t, ok, id)
		assert.Equal(t, job.StateQueued, rec.State, id)

		row, err := rig.store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, job.StateQueued, row.State, id)
	}

	// The interrupted job keeps its persisted progress until re-pickup.
	rec, _ := rig.reg.Get("qcf-interrupted")
	assert.Equal(t, 50, rec.Progress)

	// Done jobs stay out of the registry.
	_, ok := rig.reg.Get("qc-finished")
	assert.False(t, ok)

	depth, err := rig.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	// No credits moved: the original debit stands.
	assert.Equal(t, int64(0), rig.balance(t, "u1"))
}

func TestRecoverIsIdempotent(t *testing.T) {
	rig := newTestRig(t, Config{}, 8, nil)
	ctx := context.Background()

	rig.seedJob(t, "qc-a", job.StateQueued, 0, job.TypeQuickCreate, "", 0)

	n, err := rig.m.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = rig.m.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Same registry state either way; the duplicate queue reference loses
	// the pickup CAS when a worker eventually pops it.
	assert.Equal(t, 1, rig.reg.Len())
	rec, ok := rig.reg.Get("qc-a")
	require.True(t, ok)
	assert.Equal(t, job.StateQueued, rec.State)
}

func TestRecoveredJobRunsWithoutRedebit(t *testing.T) {
	rig := newTestRig(t, fastPool(), 8, nil)
	ctx := context.Background()

	rig.fund(t, "u1", 40) // less than the job cost: must not be debited again
	rig.seedJob(t, "qcf-carryover", job.StateProcessing, 80, job.TypeFullUniverse, "u1", 60)

	n, err := rig.m.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	stop := rig.start()
	defer stop()

	rig.waitState(t, "qcf-carryover", job.StateDone)
	assert.Equal(t, int64(40), rig.balance(t, "u1"))
}

func TestReconcileIssuesMissingRefunds(t *testing.T) {
	rig := newTestRig(t, Config{}, 8, nil)
	ctx := context.Background()

	// Crashed after marking error, before refunding.
	rig.seedJob(t, "qcf-orphan", job.StateError, 50, job.TypeFullUniverse, "u1", 60)
	// Failed but already refunded.
	rig.seedJob(t, "qcf-settled", job.StateError, 50, job.TypeFullUniverse, "u2", 40)
	require.NoError(t, rig.ledger.Credit(ctx, "u2", 40, credits.TxRefund, "qcf-settled", "Refund for failed job qcf-settled"))
	// Cancelled without cost: nothing to refund.
	rig.seedJob(t, "qc-free", job.StateCancelled, 0, job.TypeQuickCreate, "", 0)

	n, err := rig.m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, int64(60), rig.balance(t, "u1"))
	assert.Equal(t, int64(40), rig.balance(t, "u2"))

	has, err := rig.ledger.HasRefund(ctx, "qcf-orphan")
	require.NoError(t, err)
	assert.True(t, has)

	// A second sweep finds nothing left to do.
	n, err = rig.m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

package audit

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportCheckpoint(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	// Checkpointing an empty log snapshots sequence 0.
	cp0, err := l.ExportCheckpoint(ctx)
	require.NoError(t, err)
	assert.Zero(t, cp0.SequenceNumber)
	assert.Empty(t, cp0.ChainHeadHash)
	assert.NotEmpty(t, cp0.CheckpointHash)

	var head string
	for i := 0; i < 3; i++ {
		e, err := l.Append(ctx, "TEST_EVENT", map[string]any{"i": i})
		require.NoError(t, err)
		head = e.EntryHash
	}

	cp, err := l.ExportCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cp.SequenceNumber)
	assert.Equal(t, head, cp.ChainHeadHash)

	// Checkpoint export itself never appends to the audit log.
	report, err := l.VerifyChain(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, report.EntriesChecked)

	all, err := l.Checkpoints(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAttestationRoundTrip(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	_, err := l.Append(ctx, "TEST_EVENT", map[string]any{"x": 1})
	require.NoError(t, err)
	cp, err := l.ExportCheckpoint(ctx)
	require.NoError(t, err)

	seed := make([]byte, 32)
	_, err = rand.Read(seed)
	require.NoError(t, err)
	attestor, err := NewAttestor(seed, "attest-1")
	require.NoError(t, err)

	token, err := attestor.Attest(cp)
	require.NoError(t, err)

	got, err := VerifyAttestation(token, attestor.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, cp.ChainHeadHash, got.ChainHeadHash)
	assert.Equal(t, cp.SequenceNumber, got.SequenceNumber)
	assert.Equal(t, cp.CheckpointHash, got.CheckpointHash)
}

func TestAttestationRejectsWrongKey(t *testing.T) {
	l, _ := newLedger(t)
	cp, err := l.ExportCheckpoint(context.Background())
	require.NoError(t, err)

	seedA := make([]byte, 32)
	seedB := make([]byte, 32)
	_, _ = rand.Read(seedA)
	_, _ = rand.Read(seedB)
	attestorA, err := NewAttestor(seedA, "a")
	require.NoError(t, err)
	attestorB, err := NewAttestor(seedB, "b")
	require.NoError(t, err)

	token, err := attestorA.Attest(cp)
	require.NoError(t, err)

	_, err = VerifyAttestation(token, attestorB.PublicKey())
	assert.Error(t, err)
}

func TestAttestorRejectsShortSeed(t *testing.T) {
	_, err := NewAttestor([]byte("short"), "x")
	assert.Error(t, err)
}

package txn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.htxn.dev/core/txn"
)

func TestIngressSMHappyPath(t *testing.T) {
	var m txn.IngressSM
	assert.Equal(t, txn.IngressStart, m.State())

	assert.True(t, m.Fire(txn.EventOnHeaders))
	assert.Equal(t, txn.IngressHeadersReceived, m.State())

	assert.True(t, m.Fire(txn.EventOnBody))
	assert.True(t, m.Fire(txn.EventOnBody))
	assert.Equal(t, txn.IngressRegularBodyReceived, m.State())

	assert.True(t, m.Fire(txn.EventOnEOM))
	assert.Equal(t, txn.IngressEOMQueued, m.State())
	assert.False(t, m.State().IsTerminal())
}

func TestIngressSMRejectsInvalidTransition(t *testing.T) {
	var m txn.IngressSM
	assert.False(t, m.Fire(txn.EventOnBody), "onBody before onHeaders is invalid")
	assert.Equal(t, txn.IngressStart, m.State(), "a rejected Fire leaves state unmodified")
}

func TestIngressSMChunkedPath(t *testing.T) {
	var m txn.IngressSM
	assert.True(t, m.Fire(txn.EventOnHeaders))
	assert.True(t, m.Fire(txn.EventOnChunkHeader))
	assert.True(t, m.Fire(txn.EventOnBody))
	assert.Equal(t, txn.IngressChunkBodyReceived, m.State())
	assert.True(t, m.Fire(txn.EventOnChunkComplete))
	assert.Equal(t, txn.IngressChunkCompleted, m.State())
	assert.True(t, m.Fire(txn.EventOnChunkHeader), "another chunk may follow")
}

func TestEgressSMHappyPath(t *testing.T) {
	var m txn.EgressSM
	assert.True(t, m.Fire(txn.EventSendHeaders))
	assert.True(t, m.Fire(txn.EventSendBody))
	assert.True(t, m.Fire(txn.EventSendBody))
	assert.True(t, m.Fire(txn.EventSendTrailers))
	assert.True(t, m.Fire(txn.EventSendEOM))
	assert.Equal(t, txn.EgressEOMQueued, m.State())
}

func TestEgressSMRejectsBodyAfterEOM(t *testing.T) {
	var m txn.EgressSM
	assert.True(t, m.Fire(txn.EventSendHeaders))
	assert.True(t, m.Fire(txn.EventSendEOM))
	assert.False(t, m.Fire(txn.EventSendBody))
}

func TestEgressSMChunkedRequiresTerminatorBetweenChunks(t *testing.T) {
	var m txn.EgressSM
	assert.True(t, m.Fire(txn.EventSendHeaders))
	assert.True(t, m.Fire(txn.EventSendChunkHeader))
	assert.True(t, m.Fire(txn.EventSendBody))
	assert.False(t, m.Fire(txn.EventSendChunkHeader), "a second chunk header needs a terminator first")
	assert.True(t, m.Fire(txn.EventSendChunkTerminator))
	assert.True(t, m.Fire(txn.EventSendChunkHeader))
}

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocalq-backend/internal/domain"
	"vocalq-backend/internal/turn"
)

func TestManager_TracksSessions(t *testing.T) {
	calls := make(chan domain.Call, 2)
	var procs []*relayStub
	factory := func() turn.Processor {
		p := newRelayStub()
		procs = append(procs, p)
		return p
	}

	opts := testOptions()
	opts.StartTimeout = 10 * time.Second
	m := NewManager(factory, staticSettings{Greeting: "Welcome to VocalQ.", InboundEnabled: true},
		Deps{Store: permissiveStore(calls)}, opts)

	a := m.Open(context.Background(), newFakeOutbound())
	b := m.Open(context.Background(), newFakeOutbound())
	assert.NotEqual(t, a.ID(), b.ID())
	require.Len(t, procs, 2)

	a.Start("MZ-A", "+15550000001")
	<-procs[0].opened
	require.Eventually(t, func() bool { return a.Info().Turns == 1 }, time.Second, 5*time.Millisecond)

	got, ok := m.Get(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, 2, m.Count())
	assert.Len(t, m.Active(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	assert.Zero(t, m.Count())
	statuses := map[domain.CallStatus]bool{}
	for i := 0; i < 2; i++ {
		call := <-calls
		statuses[call.Status] = true
		if call.CallID == a.ID() {
			assert.Equal(t, "Welcome to VocalQ.", call.Transcript[0].Text)
		}
	}
	assert.True(t, statuses[domain.CallStatusCompleted])
	assert.True(t, statuses[domain.CallStatusMissed])
}

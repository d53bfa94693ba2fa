package tactile

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientUpdater(t *testing.T) {
	const port = 35690
	abort := make(chan struct{})
	defer close(abort)
	updates, err := StartClientUpdater(port, abort)
	require.NoError(t, err)

	sub, err := zmq.NewSocket(zmq.SUB)
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, sub.Connect(fmt.Sprintf("tcp://localhost:%d", port)))
	require.NoError(t, sub.SetSubscribe("STEP"))
	require.NoError(t, sub.SetRcvtimeo(20*time.Millisecond))

	// A PUB socket drops messages until the subscription arrives, so keep
	// publishing until one gets through.
	observer := updateObserver{clientUpdates: updates}
	bursts := []BurstIntensity{{3, 7}, {4, 2}}
	var msg []string
	for i := 0; i < 100 && msg == nil; i++ {
		updates <- ClientUpdate{"STATUS", ServerStatus{}}
		observer.StepStarted(i, bursts, Point{0.5, 0.25})
		if m, err := sub.RecvMessage(0); err == nil {
			msg = m
		}
	}
	require.Len(t, msg, 2)
	assert.Equal(t, "STEP", msg[0])

	var step StepMessage
	require.NoError(t, json.Unmarshal([]byte(msg[1]), &step))
	assert.Equal(t, bursts, step.Bursts)
	assert.Equal(t, Point{0.5, 0.25}, step.Point)

	// A second updater cannot bind the same port.
	_, err = StartClientUpdater(port, abort)
	assert.Error(t, err)
}

func TestDrainClientUpdates(t *testing.T) {
	updates := DrainClientUpdates()
	observer := updateObserver{clientUpdates: updates}
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			observer.StepStarted(i, nil, Point{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sends to a drained update channel blocked")
	}
}

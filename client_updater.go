package tactile

// Contains the ClientUpdater, which publishes JSON-encoded messages
// giving the latest server state.

import (
	"encoding/json"
	"fmt"
	"log"

	zmq "github.com/pebbe/zmq4"
	"github.com/usnistgov/tactile/internal/unboundedchan"
)

// ClientUpdate carries the messages to be published on the status port.
type ClientUpdate struct {
	tag   string
	state any
}

// StepMessage is the state published with each STEP update.
type StepMessage struct {
	Index  int
	Bursts []BurstIntensity
	Point  Point
}

// updateObserver forwards playback step notifications to clients.
type updateObserver struct {
	clientUpdates chan<- ClientUpdate
}

// StepStarted publishes a STEP update. The update queue is unbounded, so
// this never waits on a slow client.
func (uo updateObserver) StepStarted(index int, bursts []BurstIntensity, point Point) {
	uo.clientUpdates <- ClientUpdate{"STEP", StepMessage{Index: index, Bursts: bursts, Point: point}}
}

// quietTags are not copied to the UpdateLogger, because they arrive at playback rate.
var quietTags = map[string]bool{"STEP": true}

// StartClientUpdater binds a ZMQ PUB socket on portstatus and launches a
// goroutine that publishes every ClientUpdate sent on the returned channel as
// a 2-frame message [tag, JSON state]. Sends on the channel never block.
// The goroutine exits when abort is closed.
func StartClientUpdater(portstatus int, abort <-chan struct{}) (chan<- ClientUpdate, error) {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	hostname := fmt.Sprintf("tcp://*:%d", portstatus)
	if err := pubSocket.Bind(hostname); err != nil {
		pubSocket.Close()
		return nil, fmt.Errorf("could not bind client updater to %s: %w", hostname, err)
	}
	queue := unboundedchan.NewUnboundedChannel[ClientUpdate]()
	go publishUpdates(pubSocket, queue.Out(), abort)
	return queue.In(), nil
}

func publishUpdates(pubSocket *zmq.Socket, updates <-chan ClientUpdate, abort <-chan struct{}) {
	defer func() {
		pubSocket.SetLinger(0)
		pubSocket.Close()
	}()
	for {
		select {
		case <-abort:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			message, err := json.Marshal(update.state)
			if err != nil {
				ProblemLogger.Printf("could not JSON-encode %s update: %v", update.tag, err)
				continue
			}
			if !quietTags[update.tag] {
				UpdateLogger.Printf("%-10s %s", update.tag, message)
			}
			if _, err := pubSocket.SendMessage(update.tag, message); err != nil {
				log.Printf("ZMQ publish of %s failed: %v", update.tag, err)
			}
		}
	}
}

// DrainClientUpdates returns a channel that silently discards everything
// sent to it, for running a controller without a status port.
func DrainClientUpdates() chan<- ClientUpdate {
	queue := unboundedchan.NewUnboundedChannel[ClientUpdate]()
	go func() {
		for range queue.Out() {
		}
	}()
	return queue.In()
}

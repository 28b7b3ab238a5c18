package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

const integrationPrefix = "events:comms_publisher_integration_test"

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T) (*comms.Conn, func()) {
	t.Helper()

	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", integrationPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", integrationPrefix)
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", integrationPrefix, err)
	}

	return nc, func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}
}

func subscribeEvents(t *testing.T, nc *comms.Conn, subject string) chan *TaskEvent {
	t.Helper()
	ch := make(chan *TaskEvent, 4)
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var ev TaskEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			t.Errorf("%s - failed to unmarshal: %v", integrationPrefix, err)
			return
		}
		ch <- &ev
	})
	if err != nil {
		t.Fatalf("%s - failed to subscribe %s: %v", integrationPrefix, subject, err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return ch
}

func TestCommsPublisher_StateAndGlobalSubjects(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	stateCh := subscribeEvents(t, nc, "a2a.tasks.failed")
	globalCh := subscribeEvents(t, nc, "a2a.tasks")

	pub := NewCommsPublisher(nc, nil)
	event := &TaskEvent{
		TaskID:    "task-1",
		ContextID: "ctx-1",
		RequestID: "1",
		Method:    "message/send",
		State:     "failed",
		ErrorCode: -32001,
		Timestamp: "2026-01-01T00:00:00Z",
	}
	if err := pub.PublishTaskEvent(context.Background(), event); err != nil {
		t.Fatalf("%s - PublishTaskEvent failed: %v", integrationPrefix, err)
	}
	nc.Flush()

	for name, ch := range map[string]chan *TaskEvent{"state": stateCh, "global": globalCh} {
		select {
		case got := <-ch:
			if got.TaskID != "task-1" || got.ErrorCode != -32001 || got.Method != "message/send" {
				t.Errorf("%s - %s subject got %+v", integrationPrefix, name, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s - timeout waiting for %s event", integrationPrefix, name)
		}
	}
}

func TestCommsPublisher_CustomGlobalSubject(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	ch := subscribeEvents(t, nc, "market.tasks.running")
	pub := NewCommsPublisher(nc, &CommsPublisherOpts{GlobalSubject: "market.tasks"})
	if err := pub.PublishTaskEvent(context.Background(), &TaskEvent{TaskID: "t", State: "running"}); err != nil {
		t.Fatalf("%s - PublishTaskEvent failed: %v", integrationPrefix, err)
	}
	nc.Flush()

	select {
	case got := <-ch:
		if got.TaskID != "t" {
			t.Errorf("%s - TaskID = %q", integrationPrefix, got.TaskID)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - timeout waiting for custom subject event", integrationPrefix)
	}
}

func TestNewCommsPublisher_Defaults(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	if p := NewCommsPublisher(nc, nil); p.globalSubject != "a2a.tasks" {
		t.Errorf("%s - globalSubject = %q", integrationPrefix, p.globalSubject)
	}
	if p := NewCommsPublisher(nc, &CommsPublisherOpts{}); p.globalSubject != "a2a.tasks" {
		t.Errorf("%s - empty override should keep default, got %q", integrationPrefix, p.globalSubject)
	}
}

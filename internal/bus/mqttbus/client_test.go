package mqttbus

import "testing"

func TestClient_SubscriptionRefcounting(t *testing.T) {
	c := &Client{subscriptions: make(map[string]*subscription)}
	topic := "ctl/event/lab/sensor/1/temperature"

	var aCalls, bCalls int
	handlerA := func(string, []byte) error { aCalls++; return nil }
	handlerB := func(string, []byte) error { bCalls++; return nil }

	sub, first := c.retainSubscription(topic, 1, handlerA)
	if !first {
		t.Fatal("first retain did not ask for a broker subscription")
	}
	if _, again := c.retainSubscription(topic, 1, handlerB); again {
		t.Fatal("second retain asked for a second broker subscription")
	}
	if sub.refs != 2 {
		t.Errorf("refs = %d, want 2", sub.refs)
	}

	// Delivery routes through the tracked entry, so the re-subscribe
	// took over the topic without touching the broker.
	if err := sub.handler(topic, nil); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if aCalls != 0 || bCalls != 1 {
		t.Errorf("handler calls = (%d, %d), want (0, 1)", aCalls, bCalls)
	}

	// A stale release must not tear down a topic the newer subscriber
	// still uses.
	if c.releaseSubscription(topic) {
		t.Error("release with a live reference reported last")
	}
	if _, ok := c.subscriptions[topic]; !ok {
		t.Fatal("subscription dropped while still referenced")
	}

	if !c.releaseSubscription(topic) {
		t.Error("final release did not report last")
	}
	if _, ok := c.subscriptions[topic]; ok {
		t.Error("subscription still tracked after final release")
	}

	// Releasing an untracked topic is a no-op.
	if c.releaseSubscription("ctl/event/lab/sensor/2/pressure") {
		t.Error("release of an untracked topic reported last")
	}
}

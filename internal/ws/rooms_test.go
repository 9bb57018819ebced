package ws

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJoinSubscribesFirstMemberOnly(t *testing.T) {
	broker := newFakeBroker()
	reg, router := newTestRouter(broker)
	ctx := context.Background()

	a := reg.Register(&fakeTransport{})
	b := reg.Register(&fakeTransport{})

	if err := router.Join(ctx, a, "lobby"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if !broker.subscribed("room:lobby") {
		t.Fatal("first join must subscribe the room channel")
	}
	if err := router.Join(ctx, b, "lobby"); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if got := router.Members("lobby"); got != 2 {
		t.Fatalf("members = %d, want 2", got)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	broker := newFakeBroker()
	reg, router := newTestRouter(broker)
	ctx := context.Background()

	a := reg.Register(&fakeTransport{})
	if err := router.Join(ctx, a, "lobby"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := router.Join(ctx, a, "lobby"); err != nil {
		t.Fatalf("repeat join must be a no-op success, got %v", err)
	}
	if got := router.Members("lobby"); got != 1 {
		t.Fatalf("members = %d, want 1", got)
	}
}

func TestJoinRollsBackOnSubscribeFailure(t *testing.T) {
	broker := newFakeBroker()
	broker.failSubscribe = true
	reg, router := newTestRouter(broker)
	ctx := context.Background()

	a := reg.Register(&fakeTransport{})
	err := router.Join(ctx, a, "lobby")
	if !errors.Is(err, ErrJoinFailed) {
		t.Fatalf("err = %v, want ErrJoinFailed", err)
	}
	if router.Joined(a, "lobby") {
		t.Fatal("failed join must not leave the connection joined")
	}
	if router.Members("lobby") != 0 {
		t.Fatal("failed join must not create the room")
	}
}

func TestLeaveLastMemberUnsubscribes(t *testing.T) {
	broker := newFakeBroker()
	reg, router := newTestRouter(broker)
	ctx := context.Background()

	a := reg.Register(&fakeTransport{})
	b := reg.Register(&fakeTransport{})
	_ = router.Join(ctx, a, "lobby")
	_ = router.Join(ctx, b, "lobby")

	router.Leave(ctx, a, "lobby")
	if !broker.subscribed("room:lobby") {
		t.Fatal("room still has a member, subscription must survive")
	}

	router.Leave(ctx, b, "lobby")
	if broker.subscribed("room:lobby") {
		t.Fatal("empty room must drop its broker subscription")
	}
	if router.Members("lobby") != 0 {
		t.Fatal("empty room must be removed from the index")
	}
}

func TestLeaveNotJoinedIsNoop(t *testing.T) {
	broker := newFakeBroker()
	reg, router := newTestRouter(broker)
	ctx := context.Background()

	a := reg.Register(&fakeTransport{})
	router.Leave(ctx, a, "never-joined") // must not panic or error
	if broker.subscribed("room:never-joined") {
		t.Fatal("leave must not create subscriptions")
	}
}

func TestJoinLeaveReplayYieldsSetSemantics(t *testing.T) {
	broker := newFakeBroker()
	reg, router := newTestRouter(broker)
	ctx := context.Background()
	a := reg.Register(&fakeTransport{})

	// join/leave are set operations, not counters
	_ = router.Join(ctx, a, "x")
	_ = router.Join(ctx, a, "x")
	router.Leave(ctx, a, "x")

	_ = router.Join(ctx, a, "y")
	router.Leave(ctx, a, "z")

	rooms := router.Rooms(a)
	if len(rooms) != 1 || rooms[0] != "y" {
		t.Fatalf("rooms = %v, want [y]", rooms)
	}
}

func TestFanOutReachesMembersOnly(t *testing.T) {
	broker := newFakeBroker()
	reg, router := newTestRouter(broker)
	ctx := context.Background()

	ta, tb, tc := &fakeTransport{}, &fakeTransport{}, &fakeTransport{}
	a := reg.Register(ta)
	b := reg.Register(tb)
	c := reg.Register(tc)
	_ = router.Join(ctx, a, "lobby")
	_ = router.Join(ctx, b, "lobby")
	_ = router.Join(ctx, c, "other")

	broker.Deliver(ctx, "room:lobby", []byte("hi"))

	if len(ta.received()) != 1 || len(tb.received()) != 1 {
		t.Fatal("both lobby members must receive the message")
	}
	if len(tc.received()) != 0 {
		t.Fatal("non-member must receive nothing")
	}
}

func TestFanOutSurvivesDeadConnection(t *testing.T) {
	broker := newFakeBroker()
	reg, router := newTestRouter(broker)
	ctx := context.Background()

	dead := &fakeTransport{dead: true}
	live := &fakeTransport{}
	a := reg.Register(dead)
	b := reg.Register(live)
	_ = router.Join(ctx, a, "lobby")
	_ = router.Join(ctx, b, "lobby")

	broker.Deliver(ctx, "room:lobby", []byte("hi"))

	if len(live.received()) != 1 {
		t.Fatal("dead peer must not halt delivery to live members")
	}
	if reg.Connected(a) {
		t.Fatal("dead transport must be unregistered")
	}
	if router.Joined(a, "lobby") {
		t.Fatal("dead connection must be removed from the room")
	}
}

func TestUnregisterCleansEveryRoom(t *testing.T) {
	broker := newFakeBroker()
	reg, router := newTestRouter(broker)
	ctx := context.Background()

	ta := &fakeTransport{}
	a := reg.Register(ta)
	b := reg.Register(&fakeTransport{})
	_ = router.Join(ctx, a, "lobby")
	_ = router.Join(ctx, a, "dev")
	_ = router.Join(ctx, b, "lobby")

	reg.Unregister(ctx, a)

	if len(router.Rooms(a)) != 0 {
		t.Fatal("unregister must leave every room")
	}
	if broker.subscribed("room:dev") {
		t.Fatal("room emptied by disconnect must drop its subscription")
	}
	if !broker.subscribed("room:lobby") {
		t.Fatal("room with remaining members must stay subscribed")
	}
	if !ta.closed {
		t.Fatal("unregister must close the transport")
	}

	// late external publish reaches nobody gone
	broker.Deliver(ctx, "room:lobby", []byte("later"))
	if len(ta.received()) != 0 {
		t.Fatal("disconnected connection must not receive messages")
	}
}

func TestSlowSubscribeDoesNotBlockOtherRooms(t *testing.T) {
	broker := newFakeBroker()
	reg, router := newTestRouter(broker)
	ctx := context.Background()

	fast := &fakeTransport{}
	a := reg.Register(fast)
	if err := router.Join(ctx, a, "fast"); err != nil {
		t.Fatalf("join fast: %v", err)
	}

	entered, release := broker.stallSubscribe("room:slow")
	b := reg.Register(&fakeTransport{})
	joined := make(chan error, 1)
	go func() { joined <- router.Join(ctx, b, "slow") }()
	<-entered // join is now suspended inside the broker round trip

	// fan-out and membership queries for unrelated rooms must proceed
	done := make(chan struct{})
	go func() {
		broker.Deliver(ctx, "room:fast", []byte("hi"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fan-out to an unrelated room blocked behind a pending subscribe")
	}
	if len(fast.received()) != 1 {
		t.Fatal("fast room member must receive the message")
	}
	if !router.Joined(a, "fast") {
		t.Fatal("membership query must stay responsive")
	}

	release <- struct{}{}
	if err := <-joined; err != nil {
		t.Fatalf("slow join: %v", err)
	}
	if !router.Joined(b, "slow") {
		t.Fatal("join must complete once the subscribe resolves")
	}
}

func TestJoinersWaitForPendingSubscribe(t *testing.T) {
	broker := newFakeBroker()
	reg, router := newTestRouter(broker)
	ctx := context.Background()

	entered, release := broker.stallSubscribe("room:lobby")
	a := reg.Register(&fakeTransport{})
	b := reg.Register(&fakeTransport{})

	first := make(chan error, 1)
	go func() { first <- router.Join(ctx, a, "lobby") }()
	<-entered

	second := make(chan error, 1)
	go func() { second <- router.Join(ctx, b, "lobby") }()

	release <- struct{}{}
	if err := <-first; err != nil {
		t.Fatalf("first join: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second join: %v", err)
	}
	if got := router.Members("lobby"); got != 2 {
		t.Fatalf("members = %d, want 2", got)
	}
	if !broker.subscribed("room:lobby") {
		t.Fatal("room must end up subscribed exactly once")
	}
}

func TestPendingJoinersShareSubscribeFailure(t *testing.T) {
	broker := newFakeBroker()
	broker.failSubscribe = true
	reg, router := newTestRouter(broker)
	ctx := context.Background()

	entered, release := broker.stallSubscribe("room:lobby")
	a := reg.Register(&fakeTransport{})
	b := reg.Register(&fakeTransport{})

	first := make(chan error, 1)
	go func() { first <- router.Join(ctx, a, "lobby") }()
	<-entered

	second := make(chan error, 1)
	go func() { second <- router.Join(ctx, b, "lobby") }()

	release <- struct{}{}
	if err := <-first; !errors.Is(err, ErrJoinFailed) {
		t.Fatalf("first join err = %v, want ErrJoinFailed", err)
	}
	if err := <-second; !errors.Is(err, ErrJoinFailed) {
		t.Fatalf("second join err = %v, want ErrJoinFailed", err)
	}
	if router.Joined(a, "lobby") || router.Joined(b, "lobby") {
		t.Fatal("failed subscribe must roll back every pending member")
	}
	if router.Members("lobby") != 0 {
		t.Fatal("failed room must not linger in the index")
	}
}

func TestRoomEmptiedDuringPendingSubscribe(t *testing.T) {
	broker := newFakeBroker()
	reg, router := newTestRouter(broker)
	ctx := context.Background()

	entered, release := broker.stallSubscribe("room:x")
	a := reg.Register(&fakeTransport{})

	joined := make(chan error, 1)
	go func() { joined <- router.Join(ctx, a, "x") }()
	<-entered

	// member leaves while the subscribe is still in flight
	router.Leave(ctx, a, "x")

	release <- struct{}{}
	if err := <-joined; err != nil {
		t.Fatalf("join: %v", err)
	}
	if broker.subscribed("room:x") {
		t.Fatal("room emptied mid-subscribe must be unsubscribed again")
	}
	if router.Members("x") != 0 {
		t.Fatal("empty room must be removed from the index")
	}
}

func TestPublishWithoutMembership(t *testing.T) {
	broker := newFakeBroker()
	_, router := newTestRouter(broker)
	ctx := context.Background()

	// publish and subscribe are independent rights
	if err := router.Publish(ctx, "lobby", []byte("ext")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(broker.published["room:lobby"]) != 1 {
		t.Fatal("publish must reach the broker channel")
	}
}

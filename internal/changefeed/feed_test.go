package changefeed

import (
	"testing"

	"github.com/google/uuid"
)

// newStoppedFeed builds a Feed with handler maps but no live listener; the
// dispatch paths under test never touch the connection.
func newStoppedFeed() *Feed {
	return &Feed{
		cfg:      DefaultConfig(),
		handlers: make(map[uuid.UUID]func(gameID uuid.UUID)),
	}
}

func TestHandleNotificationDispatch(t *testing.T) {
	f := newStoppedFeed()
	subscribed := uuid.New()
	other := uuid.New()

	var perGame []uuid.UUID
	var all []uuid.UUID
	if err := f.Subscribe(subscribed, func(id uuid.UUID) { perGame = append(perGame, id) }); err != nil {
		t.Fatal(err)
	}
	f.SubscribeAll(func(id uuid.UUID) { all = append(all, id) })

	f.handleNotification(subscribed.String())
	f.handleNotification(other.String())

	if len(perGame) != 1 || perGame[0] != subscribed {
		t.Errorf("per-game handler calls = %v, want [%s]", perGame, subscribed)
	}
	if len(all) != 2 {
		t.Errorf("all-handler calls = %d, want 2", len(all))
	}
}

func TestHandleNotificationIgnoresMalformedPayload(t *testing.T) {
	f := newStoppedFeed()
	fired := false
	f.SubscribeAll(func(uuid.UUID) { fired = true })

	f.handleNotification("not-a-uuid")
	if fired {
		t.Error("a malformed payload must not reach handlers")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	f := newStoppedFeed()
	gameID := uuid.New()

	calls := 0
	if err := f.Subscribe(gameID, func(uuid.UUID) { calls++ }); err != nil {
		t.Fatal(err)
	}
	f.handleNotification(gameID.String())
	f.Unsubscribe(gameID)
	f.handleNotification(gameID.String())

	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}

func TestEmitAllCoversEverySubscription(t *testing.T) {
	f := newStoppedFeed()
	a, b := uuid.New(), uuid.New()

	var seen []uuid.UUID
	_ = f.Subscribe(a, func(id uuid.UUID) { seen = append(seen, id) })
	_ = f.Subscribe(b, func(id uuid.UUID) { seen = append(seen, id) })
	allFired := false
	f.SubscribeAll(func(uuid.UUID) { allFired = true })

	f.emitAll()

	if len(seen) != 2 {
		t.Errorf("fallback emits = %d, want 2", len(seen))
	}
	if !allFired {
		t.Error("fallback emit must also fire the all-games handlers")
	}
}

package notification

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The audit log, the websocket hub and the mailer are all dispatcher
// subscribers, alongside the HTTP Handler that serves them.
var (
	_ EventHandler = (*AuditRepository)(nil)
	_ EventHandler = (*Hub)(nil)
	_ EventHandler = (*Mailer)(nil)
	_ EventHandler = EventHandlerFunc(nil)
)

type collector struct {
	mu    sync.Mutex
	kinds []Kind
}

func (c *collector) Handle(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds = append(c.kinds, e.Kind)
	return nil
}

func TestDispatcherDeliversToEveryHandlerInOrder(t *testing.T) {
	a, b := &collector{}, &collector{}
	failing := EventHandlerFunc(func(context.Context, Event) error { return errors.New("smtp down") })
	d := NewDispatcher(8, a, failing, b)

	d.Publish(NewEvent(KindWithdrawalRequested, uuid.New()))
	d.Publish(NewEvent(KindWithdrawalApproved, uuid.New()))
	d.Close()

	want := []Kind{KindWithdrawalRequested, KindWithdrawalApproved}
	assert.Equal(t, want, a.kinds)
	assert.Equal(t, want, b.kinds)
}

func TestDispatcherSurvivesPanickingHandler(t *testing.T) {
	c := &collector{}
	boom := EventHandlerFunc(func(context.Context, Event) error { panic("nil map") })
	d := NewDispatcher(4, boom, c)

	d.Publish(NewEvent(KindSettingsUpdated, uuid.Nil))
	d.Publish(NewEvent(KindSettingsUpdated, uuid.Nil))
	d.Close()

	assert.Len(t, c.kinds, 2)
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	c := &collector{}
	blocking := EventHandlerFunc(func(context.Context, Event) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})
	d := NewDispatcher(1, blocking, c)

	d.Publish(NewEvent(KindLedgerEntryApplied, uuid.New()))
	<-started
	d.Publish(NewEvent(KindReferralApplied, uuid.New()))
	d.Publish(NewEvent(KindRewardFailed, uuid.New()))

	close(release)
	d.Close()

	assert.Equal(t, []Kind{KindLedgerEntryApplied, KindReferralApplied}, c.kinds)
}

func TestPublishAfterCloseIsIgnored(t *testing.T) {
	c := &collector{}
	d := NewDispatcher(2, c)
	d.Close()
	d.Close()

	d.Publish(NewEvent(KindSettingsUpdated, uuid.Nil))
	assert.Empty(t, c.kinds)
}

func TestEventWithCopiesPayload(t *testing.T) {
	base := NewEvent(KindOrderRefunded, uuid.New()).With("order_id", "o1")
	derived := base.With("reason", "duplicate")

	assert.NotContains(t, base.Payload, "reason")
	assert.Equal(t, "o1", derived.Payload["order_id"])

	system := NewEvent(KindSettingsUpdated, uuid.Nil).WithActor(uuid.Nil)
	assert.Nil(t, system.UserID)
	assert.Nil(t, system.ActorID)

	withAmount := system.WithAmount(-30, "order_x")
	require.NotNil(t, withAmount.Amount)
	assert.Equal(t, int64(-30), *withAmount.Amount)
}

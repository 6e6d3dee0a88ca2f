package correlation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drluca/orderflow/internal/events"
)

func TestKeyPrefersCorrelationID(t *testing.T) {
	env := events.Envelope{CorrelationID: "corr-1", Order: events.OrderSnapshot{OrderID: "order-1"}}
	assert.Equal(t, "corr-1", Key(env))
}

func TestKeyFallsBackToOrderID(t *testing.T) {
	env := events.Envelope{Order: events.OrderSnapshot{OrderID: "order-1"}}
	assert.Equal(t, "order-1", Key(env))
}

func TestTrackerRemembersSettledIDs(t *testing.T) {
	tr := NewTracker(10)
	assert.False(t, tr.Settled("order-1"))

	tr.MarkSettled("order-1")
	assert.True(t, tr.Settled("order-1"))

	tr.MarkSettled("order-1")
	assert.True(t, tr.Settled("order-1"))
}

func TestTrackerEvictsOldestAtCapacity(t *testing.T) {
	tr := NewTracker(3)
	for i := 0; i < 4; i++ {
		tr.MarkSettled(fmt.Sprintf("order-%d", i))
	}
	assert.False(t, tr.Settled("order-0"))
	assert.True(t, tr.Settled("order-1"))
	assert.True(t, tr.Settled("order-3"))
}

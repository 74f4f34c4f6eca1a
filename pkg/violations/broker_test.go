package violations

import (
	"testing"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustID(t *testing.T) blockid.ID {
	id, err := blockid.New()
	require.NoError(t, err)
	return id
}

func TestPublishDeliversToEverySubscriber(t *testing.T) {
	b := NewBroker()
	var gotA, gotB Violation
	b.Subscribe(func(v Violation) { gotA = v })
	b.Subscribe(func(v Violation) { gotB = v })

	v := Violation{BlockID: mustID(t), Kind: KindRollback, Reason: "replay"}
	b.Publish(v)

	assert.Equal(t, v.BlockID, gotA.BlockID)
	assert.Equal(t, v.Kind, gotA.Kind)
	assert.False(t, gotA.DetectedAt.IsZero())
	assert.Equal(t, gotA, gotB)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	count := 0
	unsubscribe := b.Subscribe(func(Violation) { count++ })

	b.Publish(Violation{})
	unsubscribe()
	b.Publish(Violation{})

	assert.Equal(t, 1, count)
}

func TestPublishWithNoSubscribersIsANoop(t *testing.T) {
	b := NewBroker()
	assert.NotPanics(t, func() { b.Publish(Violation{}) })
}

func TestPublishRunsSynchronously(t *testing.T) {
	b := NewBroker()
	order := []string{}
	b.Subscribe(func(Violation) { order = append(order, "first") })
	b.Subscribe(func(Violation) { order = append(order, "second") })

	b.Publish(Violation{})
	order = append(order, "after-publish")

	assert.Equal(t, []string{"first", "second", "after-publish"}, order)
}

package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToFlowAndAdminSubscribers(t *testing.T) {
	b := New()
	var flowSeen, adminSeen []Event

	unsubFlow := b.SubscribeFlow("f1", func(e Event) { flowSeen = append(flowSeen, e) })
	defer unsubFlow()
	unsubAdmin := b.SubscribeAdmin(func(e Event) { adminSeen = append(adminSeen, e) })
	defer unsubAdmin()

	b.Publish(Event{Type: EventFlowStatusChanged, FlowID: "f1", Seq: 1})
	b.Publish(Event{Type: EventFlowStatusChanged, FlowID: "f2", Seq: 1})

	require.Len(t, flowSeen, 1)
	require.Equal(t, "f1", flowSeen[0].FlowID)
	require.Len(t, adminSeen, 2)
}

func TestNextSeqMonotonicPerFlow(t *testing.T) {
	b := New()
	require.Equal(t, uint64(1), b.NextSeq("f1"))
	require.Equal(t, uint64(2), b.NextSeq("f1"))
	require.Equal(t, uint64(1), b.NextSeq("f2"))
}

func TestSubscribeOnceUnsubscribesAfterTerminal(t *testing.T) {
	b := New()
	var count int
	b.SubscribeOnce("child", func(e Event) bool { return e.Seq == 2 }, func(e Event) { count++ })

	b.Publish(Event{FlowID: "child", Seq: 1})
	b.Publish(Event{FlowID: "child", Seq: 2})
	b.Publish(Event{FlowID: "child", Seq: 3})

	require.Equal(t, 2, count)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	var count int
	unsub := b.SubscribeFlow("f1", func(e Event) { count++ })
	b.Publish(Event{FlowID: "f1"})
	unsub()
	b.Publish(Event{FlowID: "f1"})
	require.Equal(t, 1, count)
}

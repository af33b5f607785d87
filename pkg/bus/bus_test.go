package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInboundRoundTrip(t *testing.T) {
	b := NewMessageBus()
	defer b.Stop()

	ev := InboundEvent{
		Channel:   "whatsapp",
		SenderID:  "5216680000000",
		MessageID: "wamid.test1",
		Kind:      KindText,
		Text:      "hola",
	}
	b.PublishInbound(ev)

	got := <-b.ConsumeInbound()
	require.Equal(t, ev.MessageID, got.MessageID)
	require.Equal(t, ev.Text, got.Text)
}

func TestOutboundFanout(t *testing.T) {
	b := NewMessageBus()
	defer b.Stop()

	received := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("whatsapp", func(msg OutboundMessage) {
		received <- msg
	})
	go b.DispatchOutbound()

	b.PublishOutbound(OutboundMessage{Channel: "whatsapp", To: "521000", Content: "hola"})

	select {
	case msg := <-received:
		require.Equal(t, "521000", msg.To)
	case <-time.After(2 * time.Second):
		t.Fatal("outbound message never delivered")
	}
}

func TestOutboundIgnoresOtherChannels(t *testing.T) {
	b := NewMessageBus()
	defer b.Stop()

	received := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("telegram", func(msg OutboundMessage) {
		received <- msg
	})
	go b.DispatchOutbound()

	b.PublishOutbound(OutboundMessage{Channel: "whatsapp", To: "521000", Content: "hola"})

	select {
	case <-received:
		t.Fatal("telegram subscriber received a whatsapp message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestKindIsMedia(t *testing.T) {
	for _, k := range []EventKind{KindImage, KindDocument, KindVideo, KindAudio} {
		require.True(t, k.IsMedia(), "kind %s", k)
	}
	require.False(t, KindText.IsMedia())
	require.False(t, KindInteractive.IsMedia())
}

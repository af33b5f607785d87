package bus

import (
	"log"
	"sync"
)

// MessageBus decouples the webhook channel from the dispatcher and the
// operator channels.
type MessageBus struct {
	inbound             chan InboundEvent
	outbound            chan OutboundMessage
	outboundSubscribers map[string][]func(OutboundMessage)
	subscribersMu       sync.RWMutex
	stopChan            chan struct{}
	stopOnce            sync.Once
}

// NewMessageBus creates a new MessageBus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:             make(chan InboundEvent, 100),
		outbound:            make(chan OutboundMessage, 100),
		outboundSubscribers: make(map[string][]func(OutboundMessage)),
		stopChan:            make(chan struct{}),
	}
}

// PublishInbound publishes an event from a channel to the dispatcher.
func (b *MessageBus) PublishInbound(ev InboundEvent) {
	b.inbound <- ev
}

// ConsumeInbound returns a channel to consume inbound events.
func (b *MessageBus) ConsumeInbound() <-chan InboundEvent {
	return b.inbound
}

// PublishOutbound publishes a message from the dispatcher to channels.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// SubscribeOutbound subscribes to outbound messages for a specific channel.
func (b *MessageBus) SubscribeOutbound(channel string, callback func(OutboundMessage)) {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()
	b.outboundSubscribers[channel] = append(b.outboundSubscribers[channel], callback)
}

// DispatchOutbound starts dispatching outbound messages to subscribers.
// This should be run in a goroutine.
func (b *MessageBus) DispatchOutbound() {
	for {
		select {
		case msg := <-b.outbound:
			b.subscribersMu.RLock()
			subscribers, ok := b.outboundSubscribers[msg.Channel]
			b.subscribersMu.RUnlock()

			if ok {
				for _, cb := range subscribers {
					go func(callback func(OutboundMessage), message OutboundMessage) {
						defer func() {
							if r := recover(); r != nil {
								log.Printf("Error in outbound subscriber callback: %v", r)
							}
						}()
						callback(message)
					}(cb, msg)
				}
			}
		case <-b.stopChan:
			return
		}
	}
}

// Stop stops the dispatcher loop.
func (b *MessageBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
	})
}

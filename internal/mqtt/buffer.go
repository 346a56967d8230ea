package mqtt

import "log"

// DefaultBufferSize is how many messages are kept while disconnected.
const DefaultBufferSize = 256

// outboundMsg stores a serialized MQTT message for replay after reconnection.
type outboundMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a bounded FIFO of messages published while disconnected. When
// full the oldest message is dropped. Not safe for concurrent use.
type outbox struct {
	msgs    []outboundMsg
	limit   int
	dropped int
}

func newOutbox(limit int) *outbox {
	if limit < 1 {
		limit = 1
	}
	return &outbox{limit: limit}
}

func (o *outbox) push(msg outboundMsg) {
	if len(o.msgs) == o.limit {
		if o.dropped == 0 {
			log.Printf("mqtt: buffer full (%d messages), dropping oldest", o.limit)
		}
		o.dropped++
		copy(o.msgs, o.msgs[1:])
		o.msgs[len(o.msgs)-1] = msg
		return
	}
	o.msgs = append(o.msgs, msg)
}

// drain returns the buffered messages oldest first and empties the outbox.
func (o *outbox) drain() []outboundMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	if o.dropped > 0 {
		log.Printf("mqtt: %d buffered messages were dropped", o.dropped)
	}
	msgs := o.msgs
	o.msgs = nil
	o.dropped = 0
	return msgs
}

func (o *outbox) len() int {
	return len(o.msgs)
}

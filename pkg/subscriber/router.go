package subscriber

import "github.com/rs/zerolog"

// Router filters inbound messages by topic and dispatches them to the
// stream by event. A client process may be listening broadly; only
// messages for its configured topic reach the stream.
type Router struct {
	topic  string
	stream Stream
	logger zerolog.Logger
}

func NewRouter(topic string, stream Stream, logger zerolog.Logger) *Router {
	return &Router{topic: topic, stream: stream, logger: logger}
}

func (router *Router) Route(message Message) {
	if message.Data["topic_id"] != router.topic {
		router.logger.Debug().Str("topic_id", message.Data["topic_id"]).Msg("message for other topic dropped")
		return
	}

	switch message.Data["event"] {
	case "add":
		router.stream.AddPost(message.Data)
	case "edit":
		router.stream.EditPost(message.Data)
	default:
		// Unknown events are a forward-compatible no-op.
		router.logger.Debug().Str("event", message.Data["event"]).Msg("unknown event ignored")
	}
}

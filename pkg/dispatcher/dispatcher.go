package dispatcher

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

// Classification is the outcome of dispatching one frame
type Classification string

const (
	Discarded Classification = "discarded"
	Response  Classification = "response"
	Event     Classification = "event"
	Resize    Classification = "resize"
)

// IResponseRouter receives correlated replies
type IResponseRouter interface {
	RouteResponse(msg *types.InboundMessage)
}

// IEventRouter receives bridge events
type IEventRouter interface {
	RouteEvent(evt *types.Event)
}

// IResizeRouter receives layout requests
type IResizeRouter interface {
	RouteResize(mode types.ResizeMode, params json.RawMessage)
}

// Dispatcher is the single inbound filter. It accepts only frames tagged with
// its channel and routes them by declared type.
type Dispatcher struct {
	channel   string
	responses IResponseRouter
	events    IEventRouter
	resizes   IResizeRouter
	logger    *zap.Logger
}

func NewDispatcher(
	channel string,
	responses IResponseRouter,
	events IEventRouter,
	resizes IResizeRouter,
	logger *zap.Logger,
) *Dispatcher {
	if channel == "" {
		channel = types.ChannelFromBridge
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		channel:   channel,
		responses: responses,
		events:    events,
		resizes:   resizes,
		logger:    logger,
	}
}

// Dispatch decodes and routes one raw frame. Anything that is not a well
// formed message on the expected channel is dropped without side effects.
func (d *Dispatcher) Dispatch(frame []byte) Classification {
	var env types.InboundEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		d.logger.Sugar().Debugw("Discarding undecodable frame", "error", err)
		return Discarded
	}
	if env.Channel != d.channel {
		return Discarded
	}
	if env.Data == nil {
		return Discarded
	}
	msg := env.Data

	switch msg.Type {
	case types.MessageTypeResponse:
		if d.responses == nil {
			return Discarded
		}
		d.responses.RouteResponse(msg)
		return Response
	case types.MessageTypeEvent:
		if msg.Event == nil || d.events == nil {
			return Discarded
		}
		d.events.RouteEvent(msg.Event)
		return Event
	case types.MessageTypeResize:
		if d.resizes == nil {
			return Discarded
		}
		d.resizes.RouteResize(msg.ResizeMode, msg.Params)
		return Resize
	default:
		d.logger.Sugar().Debugw("Discarding message of unknown type", "type", msg.Type, "id", msg.ID)
		return Discarded
	}
}

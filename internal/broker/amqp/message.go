package amqp

import (
	"strings"
	"time"

	"github.com/phrazzld/tollgate/internal/correlator"
	"github.com/phrazzld/tollgate/internal/dispatch"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

// ErrorHeader marks a worker reply whose body is an error message.
const ErrorHeader = "x-error"

// taskPublishing builds a persistent JSON message for msg. correlationID and
// replyTo are empty for fire-and-forget tasks.
func taskPublishing(msg dispatch.Message, correlationID, replyTo string, now time.Time) (amqp091.Publishing, error) {
	body, err := msg.Encode()
	if err != nil {
		return amqp091.Publishing{}, err
	}
	return amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     msg.TaskID.String(),
		CorrelationId: correlationID,
		ReplyTo:       replyTo,
		Timestamp:     now.UTC(),
		Body:          body,
	}, nil
}

// replyFromDelivery converts a worker reply into a correlator.Reply.
func replyFromDelivery(d amqp091.Delivery) correlator.Reply {
	return correlator.Reply{
		Body:    string(d.Body),
		IsError: isErrorReply(d.Headers),
	}
}

// isErrorReply accepts a boolean header or the strings "true" and "1".
func isErrorReply(headers amqp091.Table) bool {
	v, ok := headers[ErrorHeader]
	if !ok {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return strings.EqualFold(val, "true") || val == "1"
	default:
		return false
	}
}

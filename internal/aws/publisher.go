package aws

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Message is one queue message. GroupID and DeduplicationID are only sent
// to FIFO queues.
type Message struct {
	Body            string
	GroupID         string
	DeduplicationID string
	Attributes      map[string]string
}

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// FIFO reports whether the queue is a FIFO queue.
func (p *Publisher) FIFO() bool {
	return strings.HasSuffix(p.QueueURL, ".fifo")
}

// Publish sends msg. Attributes are sent as String message attributes.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &msg.Body,
	}
	if p.FIFO() {
		if msg.GroupID != "" {
			input.MessageGroupId = awsString(msg.GroupID)
		}
		if msg.DeduplicationID != "" {
			input.MessageDeduplicationId = awsString(msg.DeduplicationID)
		}
	}
	if len(msg.Attributes) > 0 {
		keys := make([]string, 0, len(msg.Attributes))
		for k := range msg.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		msgAttrs := make(map[string]sqstypes.MessageAttributeValue, len(keys))
		for _, k := range keys {
			v := msg.Attributes[k]
			if v == "" {
				// SQS rejects empty attribute values
				continue
			}
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    awsString("String"),
				StringValue: awsString(v),
			}
		}
		input.MessageAttributes = msgAttrs
	}

	_, err := p.SQS.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// awsString helper
func awsString(s string) *string { return &s }

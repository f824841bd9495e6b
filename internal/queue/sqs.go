package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the slice of the SQS client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQS adapts SQS queues to the Queue contract. Each work-item kind has
// its own queue URL: Enqueue routes by the item's kind and Dequeue
// polls the requested kind's queue, so one adapter serves both
// pipeline stages. Visibility, receive counting and dead-lettering are
// SQS-native: each queue's redrive policy moves exhausted messages to
// the shared dead-letter queue.
type SQS struct {
	client SQSAPI
	urls   map[string]string

	// dlqURL is the redrive target. DeadLetters reads from it
	// non-destructively; empty means inspection is unavailable.
	dlqURL string
}

var _ Queue = (*SQS)(nil)

// SQSConfig names the queue URL for each work-item kind plus the
// shared redrive target. DeadLetterURL may be empty when the queues
// have no redrive policy.
type SQSConfig struct {
	ProcessURL    string
	RespondURL    string
	DeadLetterURL string
}

// NewSQS builds an SQS-backed queue over one queue per work-item kind.
func NewSQS(client SQSAPI, cfg SQSConfig) *SQS {
	return &SQS{
		client: client,
		urls: map[string]string{
			KindProcess: cfg.ProcessURL,
			KindRespond: cfg.RespondURL,
		},
		dlqURL: cfg.DeadLetterURL,
	}
}

// urlFor resolves the queue URL carrying the given kind.
func (q *SQS) urlFor(kind string) (string, error) {
	url := q.urls[kind]
	if url == "" {
		return "", fmt.Errorf("no queue configured for %q items", kind)
	}
	return url, nil
}

// Enqueue sends the item as a JSON message body. SQS standard queues
// do not deduplicate; downstream processing is idempotent, so
// duplicate deliveries are harmless.
func (q *SQS) Enqueue(ctx context.Context, item Item) error {
	url, err := q.urlFor(item.Kind)
	if err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", item.Namespace, item.MessageID, err)
	}
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("enqueue %s %s/%s: %w", item.Kind, item.Namespace, item.MessageID, err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("enqueue %s %s/%s: %w", item.Kind, item.Namespace, item.MessageID, err)
	}
	return nil
}

// Dequeue long-polls the kind's queue until a message arrives or ctx
// is done. A message whose body names a different kind means the
// queues are miswired; that is surfaced as an error rather than
// silently recirculated.
func (q *SQS) Dequeue(ctx context.Context, kind string, visibility time.Duration) (Lease, error) {
	url, err := q.urlFor(kind)
	if err != nil {
		return Lease{}, fmt.Errorf("dequeue: %w", err)
	}
	if visibility <= 0 {
		visibility = DefaultVisibility
	}

	for {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(url),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibility / time.Second),
			MessageSystemAttributeNames: []types.MessageSystemAttributeName{
				types.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return Lease{}, ctx.Err()
			}
			return Lease{}, fmt.Errorf("dequeue: %w", err)
		}
		if len(out.Messages) == 0 {
			if ctx.Err() != nil {
				return Lease{}, ctx.Err()
			}
			continue
		}

		msg := out.Messages[0]
		var item Item
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &item); err != nil {
			return Lease{}, fmt.Errorf("dequeue: malformed body: %w", err)
		}
		if item.Kind != kind {
			return Lease{}, fmt.Errorf("dequeue: queue %s carries %q items, wanted %q",
				url, item.Kind, kind)
		}
		count, _ := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		return Lease{
			Item:         item,
			ReceiveCount: count,
			handle:       aws.ToString(msg.ReceiptHandle),
		}, nil
	}
}

// Ack deletes the message from its kind's queue. SQS ignores deletes
// with expired receipt handles, matching the stale-ack-is-a-no-op
// contract.
func (q *SQS) Ack(ctx context.Context, lease Lease) error {
	url, err := q.urlFor(lease.Item.Kind)
	if err != nil {
		return fmt.Errorf("ack %s/%s: %w", lease.Item.Namespace, lease.Item.MessageID, err)
	}
	_, err = q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(lease.handle),
	})
	if err != nil {
		return fmt.Errorf("ack %s/%s: %w", lease.Item.Namespace, lease.Item.MessageID, err)
	}
	return nil
}

// DeadLetters peeks at the dead-letter queue. Messages are received
// with zero visibility change and not deleted, so inspection doesn't
// consume them.
func (q *SQS) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	if q.dlqURL == "" {
		return nil, nil
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.dlqURL),
		MaxNumberOfMessages: 10,
		VisibilityTimeout:   0,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameSentTimestamp,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dead letters: %w", err)
	}

	var dead []DeadLetter
	for _, msg := range out.Messages {
		var item Item
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &item); err != nil {
			return nil, fmt.Errorf("dead letters: malformed body: %w", err)
		}
		count, _ := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		dl := DeadLetter{Item: item, ReceiveCount: count}
		if ms, err := strconv.ParseInt(msg.Attributes[string(types.MessageSystemAttributeNameSentTimestamp)], 10, 64); err == nil {
			dl.EnqueuedAt = time.UnixMilli(ms).UTC()
		}
		dead = append(dead, dl)
	}
	return dead, nil
}

// Close is a no-op; the SQS client carries no queue-owned resources.
func (q *SQS) Close() error {
	return nil
}

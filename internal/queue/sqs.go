// Package queue implements RequestQueue (C7) and DLQReader over Amazon
// SQS (§4.7). SQS's native RedrivePolicy/maxReceiveCount/visibility-timeout
// support maps onto the contract almost verbatim, so this package is a
// thin typed wrapper over aws-sdk-go-v2/service/sqs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ctrlmap/mapper/internal/common"
	"github.com/ctrlmap/mapper/internal/interfaces"
	"github.com/ctrlmap/mapper/internal/models"
	"github.com/ctrlmap/mapper/internal/pipelineerr"
)

// VisibilityTimeout is the default invisibility window after a Receive,
// 6x the worker's per-job soft timeout (§4.7).
const VisibilityTimeout = 360 * time.Second

// Queue wraps an SQS client bound to a main queue URL and its DLQ URL.
type Queue struct {
	client   *sqs.Client
	queueURL string
	dlqURL   string
	logger   *common.Logger
}

// Config names the two queue URLs this process talks to.
type Config struct {
	QueueURL string
	DLQURL   string
}

// NewQueue wraps an already-configured SQS client.
func NewQueue(client *sqs.Client, cfg Config, logger *common.Logger) *Queue {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Queue{client: client, queueURL: cfg.QueueURL, dlqURL: cfg.DLQURL, logger: logger}
}

func (q *Queue) Enqueue(ctx context.Context, message models.QueueMessage) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode queue message %s: %w", message.JobID, err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("%w: enqueue %s: %v", pipelineerr.ErrQueueUnavailable, message.JobID, err)
	}
	return nil
}

func (q *Queue) Receive(ctx context.Context, maxCount int) ([]interfaces.QueuedMessage, error) {
	return receiveFrom(ctx, q.client, q.queueURL, maxCount)
}

func (q *Queue) Ack(ctx context.Context, token interfaces.DeliveryToken) error {
	return deleteFrom(ctx, q.client, q.queueURL, token)
}

func (q *Queue) ExtendVisibility(ctx context.Context, token interfaces.DeliveryToken, d time.Duration) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(string(token)),
		VisibilityTimeout: int32(d.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("extend visibility: %w", err)
	}
	return nil
}

// ReceiveFromDLQ, DeleteFromDLQ, and ApproximateDLQDepth implement
// interfaces.DLQReader, used exclusively by Redrive (C12).

func (q *Queue) ReceiveFromDLQ(ctx context.Context, maxCount int) ([]interfaces.QueuedMessage, error) {
	return receiveFrom(ctx, q.client, q.dlqURL, maxCount)
}

func (q *Queue) DeleteFromDLQ(ctx context.Context, token interfaces.DeliveryToken) error {
	return deleteFrom(ctx, q.client, q.dlqURL, token)
}

func (q *Queue) ApproximateDLQDepth(ctx context.Context) (int, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.dlqURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("get DLQ depth: %w", err)
	}
	raw := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]
	var depth int
	if _, err := fmt.Sscanf(raw, "%d", &depth); err != nil {
		return 0, fmt.Errorf("parse DLQ depth %q: %w", raw, err)
	}
	return depth, nil
}

func receiveFrom(ctx context.Context, client *sqs.Client, url string, maxCount int) ([]interfaces.QueuedMessage, error) {
	if maxCount <= 0 {
		maxCount = 1
	}
	if maxCount > 10 {
		maxCount = 10 // SQS ReceiveMessage hard cap
	}
	out, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages: int32(maxCount),
		VisibilityTimeout:   int32(VisibilityTimeout.Seconds()),
		WaitTimeSeconds:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", url, err)
	}

	results := make([]interfaces.QueuedMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		var msg models.QueueMessage
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &msg); err != nil {
			continue // corrupt message: left in place, will exhaust maxReceiveCount and move to DLQ
		}
		results = append(results, interfaces.QueuedMessage{
			Message: msg,
			Token:   interfaces.DeliveryToken(aws.ToString(m.ReceiptHandle)),
		})
	}
	return results, nil
}

func deleteFrom(ctx context.Context, client *sqs.Client, url string, token interfaces.DeliveryToken) error {
	_, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(string(token)),
	})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", url, err)
	}
	return nil
}

var (
	_ interfaces.RequestQueue = (*Queue)(nil)
	_ interfaces.DLQReader    = (*Queue)(nil)
)

package queue

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dataplume/godiscover"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"go.uber.org/zap"
	"golang.org/x/net/context"
)

// maxBatchSize is the AWS API limit for a single SendMessageBatch call.
const maxBatchSize = 10

// SQSConsumerConfig represents the SQSConsumer configurable fields model.
type SQSConsumerConfig struct {
	AwsCfg   *aws.Config
	QueueURL string `validate:"required,url"`
	// BatchSize is the number of granules grouped into one batch send call.
	BatchSize int `validate:"lte=10"` // AWS API allows to send not more than 10 messages in a call
}

// NewSQSConsumer returns a new instance of the SQSConsumer.
func NewSQSConsumer(cfg SQSConsumerConfig, logger *zap.Logger) *SQSConsumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = maxBatchSize
	}
	return &SQSConsumer{
		Cfg:    cfg,
		logger: logger,
	}
}

// SQSConsumer is a downstream granule consumer that fans discovered granules out to
// an AWS SQS work queue.
type SQSConsumer struct {
	Cfg    SQSConsumerConfig
	logger *zap.Logger
	svc    *sqs.SQS
}

// Setup contains the consumer preparations like connection etc. Is called only once at
// the very beginning of the work with the consumer. It checks whether the config is
// proper by connecting and performing a simple SQS API call.
func (c *SQSConsumer) Setup() error {
	sess, err := session.NewSession(c.Cfg.AwsCfg)
	if err != nil {
		return fmt.Errorf("failed to create a new sqs session: %v", err)
	}
	svc := sqs.New(sess)
	_, err = svc.GetQueueAttributes(&sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(c.Cfg.QueueURL),
		AttributeNames: []*string{aws.String(sqs.QueueAttributeNameQueueArn)},
	})
	if err != nil {
		return fmt.Errorf("ping sqs query error: %v", err)
	}
	c.svc = svc
	return nil
}

// Consume drains the passed discovery output stream, enqueueing the granules in
// batches. It preserves the discovery order within each batch and returns once the
// stream is closed or the context is cancelled.
func (c *SQSConsumer) Consume(ctx context.Context, granules <-chan *godiscover.Granule) error {
	batch := make([]*godiscover.Granule, 0, c.Cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case granule, ok := <-granules:
			if !ok {
				return c.sendBatch(batch)
			}
			batch = append(batch, granule)
			if len(batch) == c.Cfg.BatchSize {
				if err := c.sendBatch(batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
	}
}

// sendBatch enqueues one granule batch.
func (c *SQSConsumer) sendBatch(batch []*godiscover.Granule) error {
	if len(batch) == 0 {
		return nil
	}
	entries := make([]*sqs.SendMessageBatchRequestEntry, 0, len(batch))
	for i, granule := range batch {
		body, err := json.Marshal(granule)
		if err != nil {
			return fmt.Errorf("failed to marshal the granule %s: %v", granule.GranuleID, err)
		}
		entries = append(entries, &sqs.SendMessageBatchRequestEntry{
			Id:          aws.String(strconv.Itoa(i)),
			MessageBody: aws.String(string(body)),
		})
	}
	out, err := c.svc.SendMessageBatch(&sqs.SendMessageBatchInput{
		QueueUrl: aws.String(c.Cfg.QueueURL),
		Entries:  entries,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue a granules batch: %v", err)
	}
	for _, failure := range out.Failed {
		c.logger.Error("failed to enqueue a granule",
			zap.String("id", aws.StringValue(failure.Id)),
			zap.String("code", aws.StringValue(failure.Code)),
			zap.String("message", aws.StringValue(failure.Message)),
		)
	}
	if len(out.Failed) > 0 {
		return fmt.Errorf("%d of %d granules have not been enqueued", len(out.Failed), len(batch))
	}
	c.logger.Info("granules batch has been enqueued", zap.Int("amount", len(batch)))
	return nil
}

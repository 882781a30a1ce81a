// Package notifier wraps the notification-bus Publish call behind a
// narrow interface (spec §6 "Notification bus").
package notifier

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/panther-labs/panther/internal/apperrors"
)

// Publisher is the outbound port the Sink depends on.
type Publisher interface {
	Publish(ctx context.Context, topicARN string, body []byte, attrs map[string]string) error
}

// SNSBus implements Publisher over an *sns.Client.
type SNSBus struct {
	client *sns.Client
}

// NewSNSBus wraps client.
func NewSNSBus(client *sns.Client) *SNSBus {
	return &SNSBus{client: client}
}

// Publish sends body to topicARN with attrs set as String message
// attributes, matching spec §6: "Attributes: type, id as string values
// (required for topic filtering)".
func (b *SNSBus) Publish(ctx context.Context, topicARN string, body []byte, attrs map[string]string) error {
	messageAttributes := make(map[string]types.MessageAttributeValue, len(attrs))
	for k, v := range attrs {
		messageAttributes[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	_, err := b.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(topicARN),
		Message:           aws.String(string(body)),
		MessageAttributes: messageAttributes,
	})
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeSink, "publish to %s", topicARN)
	}
	return nil
}

var _ Publisher = (*SNSBus)(nil)

package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/rail-service/wallet_ledger/internal/domain/services/movement"
	"github.com/rail-service/wallet_ledger/pkg/security"
)

// SNSNotifierConfig holds AWS SNS configuration
type SNSNotifierConfig struct {
	Region   string
	TopicARN string
}

// snsPublisher is the part of the SNS client the notifier uses
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	GetTopicAttributes(ctx context.Context, params *sns.GetTopicAttributesInput, optFns ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error)
}

// SNSNotifier publishes every movement event to an SNS topic so downstream
// consumers (wallet apps, accounting) can subscribe with attribute filters.
type SNSNotifier struct {
	client   snsPublisher
	topicARN string
	fifo     bool
	logger   *zap.Logger
}

var _ movement.Notifier = (*SNSNotifier)(nil)

// NewSNSNotifier loads the default AWS credential chain for the configured region
func NewSNSNotifier(ctx context.Context, cfg SNSNotifierConfig, logger *zap.Logger) (*SNSNotifier, error) {
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("sns topic arn is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newSNSNotifier(sns.NewFromConfig(awsCfg), cfg.TopicARN, logger), nil
}

func newSNSNotifier(client snsPublisher, topicARN string, logger *zap.Logger) *SNSNotifier {
	return &SNSNotifier{
		client:   client,
		topicARN: topicARN,
		fifo:     strings.HasSuffix(topicARN, ".fifo"),
		logger:   logger,
	}
}

// movementMessage is the published JSON body
type movementMessage struct {
	RequestID      string                 `json:"request_id"`
	Kind           string                 `json:"kind"`
	UserID         string                 `json:"user_id"`
	Status         string                 `json:"status"`
	PreviousStatus string                 `json:"previous_status,omitempty"`
	Token          string                 `json:"token"`
	Amount         string                 `json:"amount"`
	Fee            string                 `json:"fee,omitempty"`
	Commission     string                 `json:"commission,omitempty"`
	DueDeducted    string                 `json:"due_deducted,omitempty"`
	Network        string                 `json:"network,omitempty"`
	Address        string                 `json:"address,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

func newMovementMessage(event movement.Event) movementMessage {
	r := event.Record
	msg := movementMessage{
		RequestID:      r.RequestID,
		Kind:           r.Kind.String(),
		UserID:         r.UserID.String(),
		Status:         string(r.Status),
		PreviousStatus: string(event.Previous),
		Token:          r.Token,
		Amount:         r.Amount.String(),
		Network:        r.Network,
		Address:        security.MaskAddress(r.Address),
		UpdatedAt:      r.UpdatedAt,
	}
	if !r.Fee.IsZero() {
		msg.Fee = r.Fee.String()
	}
	if !r.Commission.IsZero() {
		msg.Commission = r.Commission.String()
	}
	if r.IsDueDeducted {
		msg.DueDeducted = r.DueDeductedAmount.String()
	}
	if len(r.Metadata) > 0 {
		msg.Metadata = security.MaskMap(r.Metadata)
	}
	return msg
}

// MovementUpdated publishes the event with kind and status attributes
func (n *SNSNotifier) MovementUpdated(ctx context.Context, event movement.Event) error {
	body, err := json.Marshal(newMovementMessage(event))
	if err != nil {
		return fmt.Errorf("failed to marshal movement event: %w", err)
	}

	r := event.Record
	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"kind":   {DataType: aws.String("String"), StringValue: aws.String(r.Kind.String())},
			"status": {DataType: aws.String("String"), StringValue: aws.String(string(r.Status))},
			"token":  {DataType: aws.String("String"), StringValue: aws.String(r.Token)},
		},
	}
	if n.fifo {
		// One group per request keeps a movement's transitions in order.
		input.MessageGroupId = aws.String(r.RequestID)
		input.MessageDeduplicationId = aws.String(r.RequestID + ":" + string(r.Status))
	}

	out, err := n.client.Publish(ctx, input)
	if err != nil {
		n.logger.Error("Failed to publish movement event", zap.Error(err), zap.String("request_id", r.RequestID))
		return fmt.Errorf("SNS publish failed: %w", err)
	}

	n.logger.Debug("Movement event published",
		zap.String("request_id", r.RequestID),
		zap.String("status", string(r.Status)),
		zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}

// HealthCheck verifies the topic is reachable
func (n *SNSNotifier) HealthCheck(ctx context.Context) error {
	_, err := n.client.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{TopicArn: aws.String(n.topicARN)})
	return err
}

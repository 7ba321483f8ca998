package store

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-faster/errors"

	"github.com/example/ec-orders/internal/domain/order"
)

// DynamoPutter is the subset of *dynamodb.Client used by DynamoArchive.
type DynamoPutter interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoArchive keeps a durable copy of every order event in DynamoDB.
// Items are keyed by order_id and seq; event_id guards against duplicates.
type DynamoArchive struct {
	client    DynamoPutter
	tableName string
	now       func() time.Time
}

// archivedEvent represents the DynamoDB item structure
type archivedEvent struct {
	OrderID    string `dynamodbav:"order_id"`
	Seq        int64  `dynamodbav:"seq"`
	EventID    string `dynamodbav:"event_id"`
	EventType  string `dynamodbav:"event_type"`
	Data       string `dynamodbav:"data"`
	CreatedAt  string `dynamodbav:"created_at"`
	ArchivedAt string `dynamodbav:"archived_at"`
}

// NewDynamoClient builds a DynamoDB client from the default AWS credential
// chain. A non-empty endpoint points it at DynamoDB Local or another
// compatible server.
func NewDynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func NewDynamoArchive(client DynamoPutter, tableName string) *DynamoArchive {
	return &DynamoArchive{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

// Put archives e. It reports false without error if e was archived before,
// which makes redelivered events harmless.
func (a *DynamoArchive) Put(ctx context.Context, e order.Event) (bool, error) {
	item := archivedEvent{
		OrderID:    e.OrderID,
		Seq:        e.Seq,
		EventID:    e.ID,
		EventType:  e.Type,
		Data:       string(e.Data),
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339Nano),
		ArchivedAt: a.now().UTC().Format(time.RFC3339Nano),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return false, errors.Wrap(err, "marshal event")
	}

	_, err = a.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(a.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(event_id)"),
	})
	var conflict *types.ConditionalCheckFailedException
	if errors.As(err, &conflict) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "put event %s", e.ID)
	}
	return true, nil
}

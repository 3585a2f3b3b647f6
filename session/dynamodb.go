package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoRegistry.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoRegistry implements Registry on a table whose partition key is
// connectionId. When ttl is set the table's TTL attribute must be "ttl".
type DynamoRegistry struct {
	api   DynamoAPI
	table string
	ttl   time.Duration
}

func NewDynamoRegistry(api DynamoAPI, table string, ttl time.Duration) *DynamoRegistry {
	return &DynamoRegistry{api: api, table: table, ttl: ttl}
}

func (r *DynamoRegistry) Register(ctx context.Context, rec *Record) error {
	rec.ExpiresAt = expiry(time.Now(), r.ttl)
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal connection record: %w", err)
	}
	_, err = r.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamodb register %s: %w", rec.ConnectionID, err)
	}
	return nil
}

// Deregister deletes by key; DynamoDB treats a missing item as success.
func (r *DynamoRegistry) Deregister(ctx context.Context, connectionID string) error {
	_, err := r.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"connectionId": &types.AttributeValueMemberS{Value: connectionID},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb deregister %s: %w", connectionID, err)
	}
	return nil
}

// Refresh pushes the ttl attribute forward. The condition keeps it from
// resurrecting a record that was already deregistered.
func (r *DynamoRegistry) Refresh(ctx context.Context, connectionID string) error {
	if r.ttl <= 0 {
		return nil
	}
	_, err := r.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"connectionId": &types.AttributeValueMemberS{Value: connectionID},
		},
		UpdateExpression:    aws.String("SET #ttl = :ttl"),
		ConditionExpression: aws.String("attribute_exists(connectionId)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiry(time.Now(), r.ttl), 10)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil
		}
		return fmt.Errorf("dynamodb refresh %s: %w", connectionID, err)
	}
	return nil
}

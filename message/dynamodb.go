package message

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore writes messages to a table with partition key conversationId
// and sort key timestamp.
type DynamoStore struct {
	api   DynamoAPI
	table string
}

func NewDynamoStore(api DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{api: api, table: table}
}

func (s *DynamoStore) Append(ctx context.Context, m *Message) error {
	item, err := attributevalue.MarshalMap(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(conversationId) AND attribute_not_exists(#ts)"),
		ExpressionAttributeNames: map[string]string{
			"#ts": "timestamp",
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConflict
		}
		return fmt.Errorf("dynamodb append %s: %w", m.ConversationID, err)
	}
	return nil
}

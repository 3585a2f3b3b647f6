package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisRegistry(t *testing.T, ttl time.Duration) (*RedisRegistry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRegistry(client, "connection", ttl), mr
}

func TestMemoryRegistry_RoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	require.NoError(t, reg.Register(ctx, &Record{ConnectionID: "c1", UserID: "u1"}))
	rec, ok := reg.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "u1", rec.UserID)

	require.NoError(t, reg.Deregister(ctx, "c1"))
	_, ok = reg.Get("c1")
	assert.False(t, ok)

	// Second deregister is a no-op.
	assert.NoError(t, reg.Deregister(ctx, "c1"))
	assert.Equal(t, 0, reg.Len())
}

func TestRedisRegistry_RoundTrip(t *testing.T) {
	ctx := context.Background()
	reg, mr := newRedisRegistry(t, 90*time.Second)

	require.NoError(t, reg.Register(ctx, &Record{ConnectionID: "c1", UserID: "u1", ServerID: "s1", ConnectedAt: time.Now()}))
	assert.True(t, mr.Exists("connection:c1"))
	assert.Equal(t, 90*time.Second, mr.TTL("connection:c1"))

	rec, err := reg.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "u1", rec.UserID)
	assert.NotZero(t, rec.ExpiresAt)

	// Register is an upsert.
	require.NoError(t, reg.Register(ctx, &Record{ConnectionID: "c1", UserID: "u1"}))

	require.NoError(t, reg.Deregister(ctx, "c1"))
	assert.False(t, mr.Exists("connection:c1"))
	assert.NoError(t, reg.Deregister(ctx, "c1"))

	rec, err = reg.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRedisRegistry_Refresh(t *testing.T) {
	ctx := context.Background()
	reg, mr := newRedisRegistry(t, 90*time.Second)

	require.NoError(t, reg.Register(ctx, &Record{ConnectionID: "c1", UserID: "u1"}))
	mr.FastForward(60 * time.Second)
	require.NoError(t, reg.Refresh(ctx, "c1"))
	assert.Equal(t, 90*time.Second, mr.TTL("connection:c1"))

	// Refreshing a missing key does not create it.
	require.NoError(t, reg.Refresh(ctx, "missing"))
	assert.False(t, mr.Exists("connection:missing"))
}

func TestRedisRegistry_NoTTL(t *testing.T) {
	ctx := context.Background()
	reg, mr := newRedisRegistry(t, 0)

	require.NoError(t, reg.Register(ctx, &Record{ConnectionID: "c1", UserID: "u1"}))
	assert.Equal(t, time.Duration(0), mr.TTL("connection:c1"))
	assert.NoError(t, reg.Refresh(ctx, "c1"))
}

func TestRedisRegistry_StorageError(t *testing.T) {
	reg, mr := newRedisRegistry(t, 0)
	mr.Close()

	err := reg.Register(context.Background(), &Record{ConnectionID: "c1", UserID: "u1"})
	assert.Error(t, err)
}

// fakeDynamo keeps items keyed by connectionId.
type fakeDynamo struct {
	items     map[string]map[string]types.AttributeValue
	putErr    error
	lastTable string
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(m map[string]types.AttributeValue) string {
	if s, ok := m["connectionId"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.lastTable = aws.ToString(in.TableName)
	f.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	item, ok := f.items[keyOf(in.Key)]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	item["ttl"] = in.ExpressionAttributeValues[":ttl"]
	return &dynamodb.UpdateItemOutput{}, nil
}

func TestDynamoRegistry_RoundTrip(t *testing.T) {
	ctx := context.Background()
	api := newFakeDynamo()
	reg := NewDynamoRegistry(api, "MoveMatchConnections", 0)

	require.NoError(t, reg.Register(ctx, &Record{ConnectionID: "c1", UserID: "u1"}))
	assert.Equal(t, "MoveMatchConnections", api.lastTable)

	var rec Record
	require.NoError(t, attributevalue.UnmarshalMap(api.items["c1"], &rec))
	assert.Equal(t, "c1", rec.ConnectionID)
	assert.Equal(t, "u1", rec.UserID)
	_, hasTTL := api.items["c1"]["ttl"]
	assert.False(t, hasTTL)

	require.NoError(t, reg.Deregister(ctx, "c1"))
	assert.Empty(t, api.items)
	assert.NoError(t, reg.Deregister(ctx, "c1"))
}

func TestDynamoRegistry_TTL(t *testing.T) {
	ctx := context.Background()
	api := newFakeDynamo()
	reg := NewDynamoRegistry(api, "Connections", time.Hour)

	require.NoError(t, reg.Register(ctx, &Record{ConnectionID: "c1", UserID: "u1"}))
	ttl, ok := api.items["c1"]["ttl"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.NotEmpty(t, ttl.Value)

	require.NoError(t, reg.Refresh(ctx, "c1"))
	// A deregistered record is not resurrected by a late refresh.
	require.NoError(t, reg.Deregister(ctx, "c1"))
	require.NoError(t, reg.Refresh(ctx, "c1"))
	assert.Empty(t, api.items)
}

func TestDynamoRegistry_PutError(t *testing.T) {
	api := newFakeDynamo()
	api.putErr = errors.New("throttled")
	reg := NewDynamoRegistry(api, "Connections", 0)

	err := reg.Register(context.Background(), &Record{ConnectionID: "c1", UserID: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

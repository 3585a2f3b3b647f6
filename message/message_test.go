package message

import (
	"context"
	"encoding/json"
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

func TestConversationID_OrderIndependent(t *testing.T) {
	pairs := [][2]string{
		{"u1", "u2"},
		{"alice", "bob"},
		{"b", "a"},
		{"same", "same"},
		{"", "x"},
		{"0b6f-uuid", "0a6f-uuid"},
	}
	for _, p := range pairs {
		assert.Equal(t, ConversationID(p[0], p[1]), ConversationID(p[1], p[0]), "pair %v", p)
	}
	assert.Equal(t, "u1_u2", ConversationID("u2", "u1"))
	assert.Equal(t, "alice_bob", ConversationID("alice", "bob"))
}

func TestNew(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 891_000_000, time.FixedZone("CET", 3600))
	m := New("u2", "u1", "hi", now)

	assert.Equal(t, "u1_u2", m.ConversationID)
	assert.Equal(t, "2025-03-04T04:06:07.891Z", m.Timestamp)
	assert.Equal(t, "u2", m.SenderID)
	assert.Equal(t, "u1", m.RecipientID)
	assert.Equal(t, "hi", m.Message)
	assert.False(t, m.Read)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"conversationId": "u1_u2",
		"timestamp": "2025-03-04T04:06:07.891Z",
		"senderId": "u2",
		"recipientId": "u1",
		"message": "hi",
		"read": false
	}`, string(data))
}

func TestPersist_BumpsOnConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	first := New("u1", "u2", "one", now)
	second := New("u2", "u1", "two", now)
	require.NoError(t, Persist(ctx, store, first))
	require.NoError(t, Persist(ctx, store, second))

	assert.Equal(t, "2025-01-01T00:00:00.000Z", first.Timestamp)
	assert.Equal(t, "2025-01-01T00:00:00.001Z", second.Timestamp)
	assert.Len(t, store.Messages(), 2)
}

func TestPersist_PropagatesStoreError(t *testing.T) {
	store := NewMemoryStore()
	store.SetErr(errors.New("unavailable"))

	err := Persist(context.Background(), store, New("u1", "u2", "hi", time.Now()))
	require.Error(t, err)
	assert.Empty(t, store.Messages())
}

func TestPersist_GivesUp(t *testing.T) {
	store := conflictStore{}
	err := Persist(context.Background(), store, New("u1", "u2", "hi", time.Now()))
	assert.ErrorIs(t, err, ErrConflict)
}

type conflictStore struct{}

func (conflictStore) Append(context.Context, *Message) error { return ErrConflict }

func TestRedisStore_Append(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisStore(client, "messages")

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m := New("u1", "u2", "hi", now)
	require.NoError(t, store.Append(ctx, m))

	members, err := client.ZRange(ctx, "messages:u1_u2", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)
	var got Message
	require.NoError(t, json.Unmarshal([]byte(members[0]), &got))
	assert.Equal(t, *m, got)

	// Same millisecond in the same conversation conflicts, even with a different body.
	dup := New("u2", "u1", "other", now)
	assert.ErrorIs(t, store.Append(ctx, dup), ErrConflict)

	require.NoError(t, Persist(ctx, store, dup))
	assert.Equal(t, "2025-01-01T12:00:00.001Z", dup.Timestamp)
	n, err := client.ZCard(ctx, "messages:u1_u2").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

type fakeDynamo struct {
	items  map[string]map[string]types.AttributeValue
	err    error
	tables []string
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tables = append(f.tables, aws.ToString(in.TableName))
	conv := in.Item["conversationId"].(*types.AttributeValueMemberS).Value
	ts := in.Item["timestamp"].(*types.AttributeValueMemberS).Value
	k := conv + "|" + ts
	if _, ok := f.items[k]; ok && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func TestDynamoStore_Append(t *testing.T) {
	ctx := context.Background()
	api := &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
	store := NewDynamoStore(api, "Messages")

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m := New("u1", "u2", "hi", now)
	require.NoError(t, store.Append(ctx, m))
	assert.Equal(t, []string{"Messages"}, api.tables)

	var got Message
	require.NoError(t, attributevalue.UnmarshalMap(api.items["u1_u2|2025-01-01T12:00:00.000Z"], &got))
	assert.Equal(t, *m, got)
	_, hasRead := api.items["u1_u2|2025-01-01T12:00:00.000Z"]["read"].(*types.AttributeValueMemberBOOL)
	assert.True(t, hasRead)

	assert.ErrorIs(t, store.Append(ctx, New("u2", "u1", "again", now)), ErrConflict)
}

func TestDynamoStore_Error(t *testing.T) {
	api := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}, err: errors.New("throttled")}
	err := NewDynamoStore(api, "Messages").Append(context.Background(), New("u1", "u2", "hi", time.Now()))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
}

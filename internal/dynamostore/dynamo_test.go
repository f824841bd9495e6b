package dynamostore

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkeller/secondbrain/internal/entity"
	"github.com/jkeller/secondbrain/internal/store"
)

// fakeDynamo keeps items keyed by pk/sk and evaluates the status
// condition the way the real service does.
type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(it map[string]types.AttributeValue) string {
	pk := it["pk"].(*types.AttributeValueMemberS).Value
	sk := it["sk"].(*types.AttributeValueMemberS).Value
	return pk + "\x00" + sk
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	key := itemKey(in.Item)
	if in.ConditionExpression != nil {
		existing, ok := f.items[key]
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
		}
		expected := in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberS).Value
		status := existing["status"].(*types.AttributeValueMemberS).Value
		if status != expected {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("status mismatch")}
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	it, ok := f.items[itemKey(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: it}, nil
}

func (f *fakeDynamo) Query(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return &dynamodb.QueryOutput{}, nil
}

func testRecord(t *testing.T, status entity.MessageStatus) entity.Record {
	t.Helper()
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec, err := entity.Message{
		Namespace: "user-1",
		ID:        "msg-1",
		Timestamp: ts,
		RawText:   "hello",
		Status:    status,
		LogRef:    "log/msg-1",
		CreatedAt: ts,
	}.Record()
	require.NoError(t, err)
	return rec
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New(newFakeDynamo(), "brain-entities")
	ctx := context.Background()

	rec := testRecord(t, entity.MessageReceived)
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, rec.PK, rec.SK)
	require.NoError(t, err)
	assert.Equal(t, rec.Status, got.Status)
	assert.Equal(t, rec.Type, got.Type)
	assert.JSONEq(t, string(rec.Body), string(got.Body))
	assert.True(t, got.Created.Equal(rec.Created))
}

func TestGetMissing(t *testing.T) {
	s := New(newFakeDynamo(), "brain-entities")

	_, err := s.Get(context.Background(), "user-1", entity.TaskSortKey("nope"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPutConditionalTranslatesConditionFailures(t *testing.T) {
	s := New(newFakeDynamo(), "brain-entities")
	ctx := context.Background()

	// Missing record: NotFound, not Conflict.
	claimed := testRecord(t, entity.MessageProcessing)
	err := s.PutConditional(ctx, claimed, "received")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Put(ctx, testRecord(t, entity.MessageReceived)))

	// Matching status wins.
	require.NoError(t, s.PutConditional(ctx, claimed, "received"))

	// Stale expectation loses.
	err = s.PutConditional(ctx, claimed, "received")
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestCursorRoundTrip(t *testing.T) {
	key := map[string]types.AttributeValue{
		"pk":      &types.AttributeValueMemberS{Value: "user-1"},
		"sk":      &types.AttributeValueMemberS{Value: entity.TaskSortKey("task-1")},
		"gsi1_pk": &types.AttributeValueMemberS{Value: entity.CategoryIndexKey("work")},
	}

	cursor, err := encodeCursor(key)
	require.NoError(t, err)
	require.NotEmpty(t, cursor)

	got, err := decodeCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	// Exhausted iteration encodes as the empty cursor.
	empty, err := encodeCursor(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

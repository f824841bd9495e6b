// Package dynamostore implements the entity store on DynamoDB.
//
// The table mirrors the SQLite layout: partition key pk, sort key sk,
// and a global secondary index "gsi1" on (gsi1_pk, gsi1_sk). The status
// compare-and-swap uses a condition expression, so coordination
// semantics are identical across backends.
package dynamostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jkeller/secondbrain/internal/entity"
	"github.com/jkeller/secondbrain/internal/store"
)

// IndexName is the global secondary index serving QueryIndex.
const IndexName = "gsi1"

// DynamoAPI is the slice of the DynamoDB client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store implements store.Store on a DynamoDB table.
type Store struct {
	client DynamoAPI
	table  string
}

var _ store.Store = (*Store)(nil)

// New builds a DynamoDB-backed entity store.
func New(client DynamoAPI, table string) *Store {
	return &Store{client: client, table: table}
}

// item is the attributevalue mapping of an entity record.
type item struct {
	PK        string `dynamodbav:"pk"`
	SK        string `dynamodbav:"sk"`
	Type      string `dynamodbav:"type"`
	Status    string `dynamodbav:"status"`
	GSI1PK    string `dynamodbav:"gsi1_pk,omitempty"`
	GSI1SK    string `dynamodbav:"gsi1_sk,omitempty"`
	Body      string `dynamodbav:"body"`
	CreatedAt string `dynamodbav:"created_at"`
}

func toItem(rec entity.Record) item {
	return item{
		PK:        rec.PK,
		SK:        rec.SK,
		Type:      string(rec.Type),
		Status:    rec.Status,
		GSI1PK:    rec.GSI1PK,
		GSI1SK:    rec.GSI1SK,
		Body:      string(rec.Body),
		CreatedAt: entity.KeyTimestamp(rec.Created),
	}
}

func toRecord(it item) (entity.Record, error) {
	created, err := entity.ParseKeyTimestamp(it.CreatedAt)
	if err != nil {
		return entity.Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	return entity.Record{
		PK:      it.PK,
		SK:      it.SK,
		Type:    entity.ItemType(it.Type),
		Status:  it.Status,
		GSI1PK:  it.GSI1PK,
		GSI1SK:  it.GSI1SK,
		Body:    json.RawMessage(it.Body),
		Created: created,
	}, nil
}

// Put writes a record unconditionally.
func (s *Store) Put(ctx context.Context, rec entity.Record) error {
	av, err := attributevalue.MarshalMap(toItem(rec))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", rec.PK, rec.SK, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", rec.PK, rec.SK, err)
	}
	return nil
}

// PutConditional replaces a record only when the stored status equals
// expectedStatus. ConditionalCheckFailedException maps to ErrConflict
// or ErrNotFound depending on whether the record exists at all.
func (s *Store) PutConditional(ctx context.Context, rec entity.Record, expectedStatus string) error {
	av, err := attributevalue.MarshalMap(toItem(rec))
	if err != nil {
		return fmt.Errorf("conditional put %s/%s: %w", rec.PK, rec.SK, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_exists(pk) AND #st = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
		},
	})
	if err == nil {
		return nil
	}

	var cfe *types.ConditionalCheckFailedException
	if !errors.As(err, &cfe) {
		return fmt.Errorf("conditional put %s/%s: %w", rec.PK, rec.SK, err)
	}

	// The check failed: a missing record and a lost race look the
	// same to the condition, so read back to tell them apart.
	if _, err := s.Get(ctx, rec.PK, rec.SK); errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("conditional put %s/%s: %w", rec.PK, rec.SK, store.ErrNotFound)
	}
	return fmt.Errorf("conditional put %s/%s (expected status %q): %w",
		rec.PK, rec.SK, expectedStatus, store.ErrConflict)
}

// Get reads one record by key.
func (s *Store) Get(ctx context.Context, ns, sk string) (entity.Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: ns},
			"sk": &types.AttributeValueMemberS{Value: sk},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return entity.Record{}, fmt.Errorf("get %s/%s: %w", ns, sk, err)
	}
	if out.Item == nil {
		return entity.Record{}, fmt.Errorf("get %s/%s: %w", ns, sk, store.ErrNotFound)
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return entity.Record{}, fmt.Errorf("get %s/%s: %w", ns, sk, err)
	}
	rec, err := toRecord(it)
	if err != nil {
		return entity.Record{}, fmt.Errorf("get %s/%s: %w", ns, sk, err)
	}
	return rec, nil
}

// Query pages through records in ns whose sort key starts with prefix.
func (s *Store) Query(ctx context.Context, ns, prefix, after string, limit int) ([]entity.Record, string, error) {
	if limit <= 0 {
		limit = store.DefaultPageSize
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: ns},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
		Limit: aws.Int32(int32(limit)),
	}
	if after != "" {
		start, err := decodeCursor(after)
		if err != nil {
			return nil, "", fmt.Errorf("query %s %s: %w", ns, prefix, err)
		}
		in.ExclusiveStartKey = start
	}

	out, err := s.client.Query(ctx, in)
	if err != nil {
		return nil, "", fmt.Errorf("query %s %s: %w", ns, prefix, err)
	}
	recs, err := unmarshalRecords(out.Items)
	if err != nil {
		return nil, "", fmt.Errorf("query %s %s: %w", ns, prefix, err)
	}
	cursor, err := encodeCursor(out.LastEvaluatedKey)
	if err != nil {
		return nil, "", fmt.Errorf("query %s %s: %w", ns, prefix, err)
	}
	return recs, cursor, nil
}

// QueryIndex pages through the gsi1 index partition.
func (s *Store) QueryIndex(ctx context.Context, indexKey, after string, limit int) ([]entity.Record, string, error) {
	if limit <= 0 {
		limit = store.DefaultPageSize
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(IndexName),
		KeyConditionExpression: aws.String("gsi1_pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: indexKey},
		},
		Limit: aws.Int32(int32(limit)),
	}
	if after != "" {
		start, err := decodeCursor(after)
		if err != nil {
			return nil, "", fmt.Errorf("query index %s: %w", indexKey, err)
		}
		in.ExclusiveStartKey = start
	}

	out, err := s.client.Query(ctx, in)
	if err != nil {
		return nil, "", fmt.Errorf("query index %s: %w", indexKey, err)
	}
	recs, err := unmarshalRecords(out.Items)
	if err != nil {
		return nil, "", fmt.Errorf("query index %s: %w", indexKey, err)
	}
	cursor, err := encodeCursor(out.LastEvaluatedKey)
	if err != nil {
		return nil, "", fmt.Errorf("query index %s: %w", indexKey, err)
	}
	return recs, cursor, nil
}

// Close is a no-op; the DynamoDB client carries no store-owned
// resources.
func (s *Store) Close() error {
	return nil
}

func unmarshalRecords(items []map[string]types.AttributeValue) ([]entity.Record, error) {
	var recs []entity.Record
	for _, raw := range items {
		var it item
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return nil, err
		}
		rec, err := toRecord(it)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Cursors are the JSON of LastEvaluatedKey; every key attribute in
// this table is a string.
func encodeCursor(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", nil
	}
	flat := make(map[string]string, len(key))
	for name, av := range key {
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("unexpected key attribute type for %q", name)
		}
		flat[name] = s.Value
	}
	out, err := json.Marshal(flat)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	var flat map[string]string
	if err := json.Unmarshal([]byte(cursor), &flat); err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	key := make(map[string]types.AttributeValue, len(flat))
	for name, val := range flat {
		key[name] = &types.AttributeValueMemberS{Value: val}
	}
	return key, nil
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"expense-agent/internal/domain"
)

const (
	skContext = "CONTEXT#"
	skBatch   = "META#"

	DefaultContextTTL = 24 * time.Hour
	DefaultBatchTTL   = 30 * time.Minute
)

// dynamodbAPI is the minimal DynamoDB interface required by StateClient.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// StateClient keeps conversation context and pending receipt batches in a
// DynamoDB table keyed by PK/SK, with a TTL attribute for expiry. Items past
// their TTL that the table has not swept yet are treated as absent.
type StateClient struct {
	api        dynamodbAPI
	tableName  string
	contextTTL time.Duration
	batchTTL   time.Duration
	now        func() time.Time
}

// NewStateClient creates a StateClient. Zero TTLs select the defaults.
func NewStateClient(api dynamodbAPI, tableName string, contextTTL, batchTTL time.Duration) (*StateClient, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if contextTTL <= 0 {
		contextTTL = DefaultContextTTL
	}
	if batchTTL <= 0 {
		batchTTL = DefaultBatchTTL
	}
	return &StateClient{
		api:        api,
		tableName:  tableName,
		contextTTL: contextTTL,
		batchTTL:   batchTTL,
		now:        time.Now,
	}, nil
}

// convPK returns the partition key for a conversation.
func convPK(conversationKey string) string {
	return "CONV#" + conversationKey
}

func batchPK(id string) string {
	return "BATCH#" + id
}

func (c *StateClient) key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// PutContext replaces the stored context for a conversation.
func (c *StateClient) PutContext(ctx context.Context, conversationKey string, ec domain.ExpenseContext) error {
	payload, err := json.Marshal(ec)
	if err != nil {
		return fmt.Errorf("repository: PutContext encode: %w", err)
	}
	now := c.now().UTC()
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      c.item(convPK(conversationKey), skContext, conversationKey, payload, now, now.Add(c.contextTTL)),
	})
	if err != nil {
		return fmt.Errorf("repository: PutContext: %w", err)
	}
	return nil
}

// GetContext returns nil when no live context is stored.
func (c *StateClient) GetContext(ctx context.Context, conversationKey string) (*domain.ExpenseContext, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(convPK(conversationKey), skContext),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetContext get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 || c.expired(out.Item) {
		return nil, nil
	}

	var ec domain.ExpenseContext
	if err := decodePayload(out.Item, &ec); err != nil {
		return nil, fmt.Errorf("repository: GetContext decode: %w", err)
	}
	return &ec, nil
}

// PutBatch stores a pending receipt batch.
func (c *StateClient) PutBatch(ctx context.Context, b domain.PendingReceiptBatch) error {
	if strings.TrimSpace(b.ID) == "" {
		return errors.New("repository: PutBatch: batch id is required")
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("repository: PutBatch encode: %w", err)
	}
	now := c.now().UTC()
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      c.item(batchPK(b.ID), skBatch, b.ConversationKey, payload, now, now.Add(c.batchTTL)),
	})
	if err != nil {
		return fmt.Errorf("repository: PutBatch: %w", err)
	}
	return nil
}

// TakeBatch deletes and returns a live batch owned by conversationKey. The
// conditional delete makes concurrent takes return the batch at most once.
func (c *StateClient) TakeBatch(ctx context.Context, id, conversationKey string) (*domain.PendingReceiptBatch, error) {
	item, err := c.deleteBatch(ctx, id, conversationKey)
	if err != nil || item == nil {
		return nil, err
	}
	var b domain.PendingReceiptBatch
	if err := decodePayload(item, &b); err != nil {
		return nil, fmt.Errorf("repository: TakeBatch decode: %w", err)
	}
	return &b, nil
}

// DeleteBatch reports whether a live batch was removed.
func (c *StateClient) DeleteBatch(ctx context.Context, id, conversationKey string) (bool, error) {
	item, err := c.deleteBatch(ctx, id, conversationKey)
	if err != nil {
		return false, err
	}
	return item != nil, nil
}

func (c *StateClient) deleteBatch(ctx context.Context, id, conversationKey string) (map[string]types.AttributeValue, error) {
	out, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 c.key(batchPK(id), skBatch),
		ConditionExpression: aws.String("conversationKey = :k AND #ttl > :now"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k":   &types.AttributeValueMemberS{Value: conversationKey},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(c.now().Unix(), 10)},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: delete batch %s: %w", id, err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return nil, nil
	}
	return out.Attributes, nil
}

func (c *StateClient) item(pk, sk, conversationKey string, payload []byte, now, expires time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: pk},
		"SK":              &types.AttributeValueMemberS{Value: sk},
		"conversationKey": &types.AttributeValueMemberS{Value: conversationKey},
		"payload":         &types.AttributeValueMemberS{Value: string(payload)},
		"updatedAt":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		"ttl":             &types.AttributeValueMemberN{Value: strconv.FormatInt(expires.Unix(), 10)},
	}
}

func (c *StateClient) expired(item map[string]types.AttributeValue) bool {
	ttl, err := int64Attr(item, "ttl")
	if err != nil {
		return false
	}
	return ttl <= c.now().Unix()
}

func decodePayload(item map[string]types.AttributeValue, v any) error {
	payload, err := strAttr(item, "payload")
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(payload), v)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

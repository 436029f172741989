package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"chat-bridge/internal/domain"
)

const (
	skStream    = "STREAM#"
	ttlDuration = 7 * 24 * time.Hour // 7-day TTL
	maxErrorLen = 512
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client wraps a DynamoDB table holding one summary item per bridged stream.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
	newID     func() string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now, newID: uuid.NewString}, nil
}

// reqPK returns the DynamoDB partition key for a request.
func reqPK(requestID string) string {
	return "REQ#" + requestID
}

// streamSK orders a request's streams by start time. The stream id keeps
// records apart when callers reuse a correlation id.
func streamSK(startedAt time.Time, streamID string) string {
	return skStream + startedAt.UTC().Format(time.RFC3339Nano) + "#" + streamID
}

// RecordStream writes the summary of a finished stream under a fresh stream
// id, so every stream gets its own item even when correlation ids repeat.
func (c *Client) RecordStream(ctx context.Context, rec domain.StreamRecord) error {
	if strings.TrimSpace(rec.RequestID) == "" {
		return errors.New("repository: RecordStream: request id is required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                c.streamItem(rec, c.newID()),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: RecordStream: %w", err)
	}
	return nil
}

func (c *Client) streamItem(rec domain.StreamRecord, streamID string) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: reqPK(rec.RequestID)},
		"SK":         &types.AttributeValueMemberS{Value: streamSK(rec.StartedAt, streamID)},
		"streamId":   &types.AttributeValueMemberS{Value: streamID},
		"requestId":  &types.AttributeValueMemberS{Value: rec.RequestID},
		"model":      &types.AttributeValueMemberS{Value: rec.Model},
		"variant":    &types.AttributeValueMemberS{Value: rec.Variant},
		"outcome":    &types.AttributeValueMemberS{Value: rec.Outcome},
		"chunks":     &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Chunks)},
		"bytes":      &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Bytes, 10)},
		"startedAt":  &types.AttributeValueMemberS{Value: rec.StartedAt.UTC().Format(time.RFC3339Nano)},
		"durationMs": &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Duration.Milliseconds(), 10)},
		"ttl":        &types.AttributeValueMemberN{Value: strconv.FormatInt(c.now().Add(ttlDuration).Unix(), 10)},
	}
	if rec.Error != "" {
		item["error"] = &types.AttributeValueMemberS{Value: truncateUTF8(rec.Error, maxErrorLen)}
	}
	return item
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Package store provides storage backends for tripmatch.
//
// This file implements a DynamoDB-backed history store using a single-table
// layout: PK=CHAT#<chat id>, SK=MSG#<rfc3339nano>#<message id>.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/swellmates/tripmatch/internal/models"
)

const skPrefixMsg = "MSG#"

// dynamoAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore is a HistoryStore backed by a DynamoDB table.
type DynamoStore struct {
	api       dynamoAPI
	tableName string
}

// NewDynamoStore creates a DynamoDB-backed history store using the default
// AWS configuration chain.
func NewDynamoStore(ctx context.Context, tableName string) (*DynamoStore, error) {
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("store: dynamo table name must not be empty")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("DynamoStore.NewDynamoStore: failed to load AWS config", "error", err)
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	slog.Debug("DynamoStore.NewDynamoStore: store created", "table", tableName)
	return &DynamoStore{api: dynamodb.NewFromConfig(cfg), tableName: tableName}, nil
}

// NewDynamoStoreWithAPI creates a DynamoStore over an existing client.
func NewDynamoStoreWithAPI(api dynamoAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("store: dynamo api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("store: dynamo table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

// chatPK returns the DynamoDB partition key for a chat.
func chatPK(chatID string) string {
	return "CHAT#" + chatID
}

// msgSK returns the sort key for a message. The timestamp prefix keeps the
// log in append order; the id suffix disambiguates same-instant writes.
func msgSK(ts time.Time, id string) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano) + "#" + id
}

// AppendMessage persists a message item.
func (s *DynamoStore) AppendMessage(ctx context.Context, chatID string, msg models.ConversationMessage) error {
	if chatID == "" {
		return models.ErrEmptyChatID
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	item, err := messageItem(chatID, msg)
	if err != nil {
		return err
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		slog.Error("DynamoStore.AppendMessage failed", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to put message for chat %s: %w", chatID, err)
	}
	slog.Debug("DynamoStore.AppendMessage succeeded", "chatID", chatID, "role", msg.Role)
	return nil
}

// GetMessages queries all MSG# items for a chat in chronological order.
func (s *DynamoStore) GetMessages(ctx context.Context, chatID string) ([]models.ConversationMessage, error) {
	if chatID == "" {
		return nil, models.ErrEmptyChatID
	}
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: chatPK(chatID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
	})
	if err != nil {
		slog.Error("DynamoStore.GetMessages query failed", "error", err, "chatID", chatID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	messages := make([]models.ConversationMessage, 0, len(out.Items))
	for _, item := range out.Items {
		m, err := itemToMessage(item)
		if err != nil {
			slog.Error("DynamoStore.GetMessages unmarshal failed", "error", err, "chatID", chatID)
			return nil, err
		}
		messages = append(messages, m)
	}
	slog.Debug("DynamoStore.GetMessages succeeded", "chatID", chatID, "count", len(messages))
	return messages, nil
}

// AttachMatchPayload finds the latest assistant message and updates its
// matchPayload attribute in place.
func (s *DynamoStore) AttachMatchPayload(ctx context.Context, chatID string, payload models.MatchPayload) error {
	if chatID == "" {
		return models.ErrEmptyChatID
	}
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: chatPK(chatID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so the first assistant hit is the latest one.
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		slog.Error("DynamoStore.AttachMatchPayload query failed", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to query messages: %w", err)
	}

	var targetSK string
	for _, item := range out.Items {
		role, _ := strAttr(item, "role")
		if models.MessageRole(role) == models.RoleAssistant {
			targetSK, _ = strAttr(item, "SK")
			break
		}
	}
	if targetSK == "" {
		slog.Warn("DynamoStore.AttachMatchPayload found no assistant message", "chatID", chatID)
		return models.ErrNoAssistantMessage
	}

	serialized, err := json.Marshal(&payload)
	if err != nil {
		return fmt.Errorf("failed to marshal match payload: %w", err)
	}
	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: chatPK(chatID)},
			"SK": &types.AttributeValueMemberS{Value: targetSK},
		},
		UpdateExpression: aws.String("SET matchPayload = :payload"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":payload": &types.AttributeValueMemberS{Value: string(serialized)},
		},
	})
	if err != nil {
		slog.Error("DynamoStore.AttachMatchPayload update failed", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to attach match payload for chat %s: %w", chatID, err)
	}
	slog.Debug("DynamoStore.AttachMatchPayload succeeded", "chatID", chatID, "matchedUsers", len(payload.MatchedUsers))
	return nil
}

// Close implements HistoryStore; the DynamoDB client holds no local resources.
func (s *DynamoStore) Close() error {
	return nil
}

// messageItem converts a ConversationMessage to a DynamoDB attribute map.
func messageItem(chatID string, msg models.ConversationMessage) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: chatPK(chatID)},
		"SK":        &types.AttributeValueMemberS{Value: msgSK(msg.Timestamp, msg.ID)},
		"id":        &types.AttributeValueMemberS{Value: msg.ID},
		"role":      &types.AttributeValueMemberS{Value: string(msg.Role)},
		"text":      &types.AttributeValueMemberS{Value: msg.Text},
		"timestamp": &types.AttributeValueMemberS{Value: msg.Timestamp.UTC().Format(time.RFC3339Nano)},
	}
	if !msg.MatchPayload.IsEmpty() {
		serialized, err := json.Marshal(msg.MatchPayload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal match payload: %w", err)
		}
		item["matchPayload"] = &types.AttributeValueMemberS{Value: string(serialized)}
	}
	return item, nil
}

// itemToMessage converts a DynamoDB attribute map to a ConversationMessage.
func itemToMessage(item map[string]types.AttributeValue) (models.ConversationMessage, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return models.ConversationMessage{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return models.ConversationMessage{}, err
	}
	text, _ := strAttr(item, "text") // allow empty
	tsRaw, err := strAttr(item, "timestamp")
	if err != nil {
		return models.ConversationMessage{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return models.ConversationMessage{}, fmt.Errorf("store: parse timestamp: %w", err)
	}

	m := models.ConversationMessage{
		ID:        id,
		Role:      models.MessageRole(role),
		Text:      text,
		Timestamp: ts,
	}
	if raw, attrErr := strAttr(item, "matchPayload"); attrErr == nil && raw != "" {
		var p models.MatchPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return models.ConversationMessage{}, fmt.Errorf("store: unmarshal match payload: %w", err)
		}
		m.MatchPayload = &p
	}
	return m, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("store: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("store: attribute %q is not a string", key)
	}
	return s.Value, nil
}

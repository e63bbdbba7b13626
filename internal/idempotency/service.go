package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
)

const recordTTL = 24 * time.Hour

var (
	ErrInProgress = errors.New("request is already being processed")
	ErrConflict   = errors.New("idempotency key conflict: same key used for different request")
	ErrKeyExists  = errors.New("idempotency key already exists")
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// dynamoAPI is the subset of *dynamodb.Client used here.
type dynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type IdempotencyService struct {
	client    dynamoAPI
	tableName string
	log       logrus.FieldLogger
	now       func() time.Time
}

type IdempotencyRecord struct {
	Key         string    `dynamodbav:"key"`
	UserID      string    `dynamodbav:"user_id"`
	RequestHash string    `dynamodbav:"request_hash"`
	Response    string    `dynamodbav:"response"`
	Status      string    `dynamodbav:"status"`
	CreatedAt   time.Time `dynamodbav:"created_at"`
	ExpiresAt   time.Time `dynamodbav:"expires_at"`
	TTL         int64     `dynamodbav:"ttl"`
}

func NewIdempotencyService(cfg aws.Config, tableName string, log logrus.FieldLogger) *IdempotencyService {
	return newService(dynamodb.NewFromConfig(cfg), tableName, log)
}

func newService(client dynamoAPI, tableName string, log logrus.FieldLogger) *IdempotencyService {
	if tableName == "" {
		tableName = "psi-idempotency"
	}
	return &IdempotencyService{
		client:    client,
		tableName: tableName,
		log:       log.WithField("component", "idempotency"),
		now:       time.Now,
	}
}

// GenerateIdempotencyKey creates a unique key for the request
func (s *IdempotencyService) GenerateIdempotencyKey(userID, endpoint, scope string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", userID, endpoint, scope)))
	return hex.EncodeToString(hash[:])
}

// GenerateRequestHash creates a hash of the request for comparison
func (s *IdempotencyService) GenerateRequestHash(requestBody string) string {
	hash := sha256.Sum256([]byte(requestBody))
	return hex.EncodeToString(hash[:])
}

// CheckIdempotency returns the live record for key, or nil.
func (s *IdempotencyService) CheckIdempotency(ctx context.Context, key string) (*IdempotencyRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var record IdempotencyRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
	}

	// DynamoDB TTL deletion is lazy, so expired records can still be read.
	if s.now().After(record.ExpiresAt) {
		if err := s.DeleteIdempotencyRecord(ctx, key); err != nil {
			s.log.WithError(err).Warn("failed to delete expired idempotency record")
		}
		return nil, nil
	}

	return &record, nil
}

// StoreIdempotencyRecord stores a new record; it fails with ErrKeyExists when
// another request already claimed the key.
func (s *IdempotencyService) StoreIdempotencyRecord(ctx context.Context, record *IdempotencyRecord) error {
	record.TTL = s.now().Add(recordTTL).Unix()

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#key)"),
		ExpressionAttributeNames: map[string]string{
			"#key": "key",
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrKeyExists
		}
		return fmt.Errorf("failed to store idempotency record: %w", err)
	}

	return nil
}

// UpdateIdempotencyRecord updates an existing idempotency record with response
func (s *IdempotencyService) UpdateIdempotencyRecord(ctx context.Context, key, response, status string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression: aws.String("SET #response = :response, #status = :status, #updated_at = :updated_at"),
		ExpressionAttributeNames: map[string]string{
			"#response":   "response",
			"#status":     "status",
			"#updated_at": "updated_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":response":   &types.AttributeValueMemberS{Value: response},
			":status":     &types.AttributeValueMemberS{Value: status},
			":updated_at": &types.AttributeValueMemberS{Value: s.now().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update idempotency record: %w", err)
	}
	return nil
}

func (s *IdempotencyService) DeleteIdempotencyRecord(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete idempotency record: %w", err)
	}
	return nil
}

// Process runs handler at most once per (userID, endpoint, scope). A repeat
// with the same body replays the stored JSON into out. A repeat with a
// different body fails with ErrConflict.
func (s *IdempotencyService) Process(
	ctx context.Context,
	userID, endpoint, scope, requestBody string,
	out interface{},
	handler func() (interface{}, error),
) error {
	key := s.GenerateIdempotencyKey(userID, endpoint, scope)
	requestHash := s.GenerateRequestHash(requestBody)

	existing, err := s.CheckIdempotency(ctx, key)
	if err != nil {
		return err
	}

	if existing != nil {
		if existing.RequestHash != requestHash {
			return ErrConflict
		}
		switch existing.Status {
		case StatusCompleted:
			if err := json.Unmarshal([]byte(existing.Response), out); err != nil {
				return fmt.Errorf("failed to unmarshal cached response: %w", err)
			}
			return nil
		case StatusPending:
			return ErrInProgress
		}
		// A failed attempt may be retried.
		if err := s.DeleteIdempotencyRecord(ctx, key); err != nil {
			return err
		}
	}

	now := s.now()
	record := &IdempotencyRecord{
		Key:         key,
		UserID:      userID,
		RequestHash: requestHash,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(recordTTL),
	}
	if err := s.StoreIdempotencyRecord(ctx, record); err != nil {
		if errors.Is(err, ErrKeyExists) {
			return ErrInProgress
		}
		return err
	}

	response, err := handler()
	if err != nil {
		if uerr := s.UpdateIdempotencyRecord(ctx, key, fmt.Sprintf("error: %v", err), StatusFailed); uerr != nil {
			s.log.WithError(uerr).Warn("failed to mark idempotency record failed")
		}
		return err
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		_ = s.UpdateIdempotencyRecord(ctx, key, "error: failed to marshal response", StatusFailed)
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if err := s.UpdateIdempotencyRecord(ctx, key, string(responseJSON), StatusCompleted); err != nil {
		// Log error but don't fail the request
		s.log.WithError(err).Warn("failed to update idempotency record")
	}

	if err := json.Unmarshal(responseJSON, out); err != nil {
		return fmt.Errorf("failed to copy response: %w", err)
	}
	return nil
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/startdusk/filebox/internal/tracing"
)

// DynamoDBAPI is the subset of *dynamodb.Client used by DynamoDBStore.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// maxIncrementAttempts bounds the update/reset race loop in Increment.
const maxIncrementAttempts = 3

// dynamoDBItem is one client's counters. The table's partition key is "key";
// expires_at doubles as the table TTL attribute.
type dynamoDBItem struct {
	Key             string `dynamodbav:"key"`
	VisitErrorCount int64  `dynamodbav:"visit_error_count"`
	UploadCount     int64  `dynamodbav:"upload_count"`
	ExpiresAt       int64  `dynamodbav:"expires_at"`
}

func (it dynamoDBItem) record() Record {
	return Record{
		VisitErrorCount: it.VisitErrorCount,
		UploadCount:     it.UploadCount,
		ExpiresAt:       time.Unix(it.ExpiresAt, 0),
	}
}

// DynamoDBStore keeps counters in a DynamoDB table. Increments are
// conditional updates, so no increment is lost under concurrent traffic.
// DynamoDB's TTL sweeper removes stale items eventually; Get checks
// expires_at itself because that sweep can lag by hours.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
	opts      storeOptions
}

// NewDynamoDBStore loads the default AWS configuration for region and
// returns a store backed by tableName.
func NewDynamoDBStore(ctx context.Context, tableName, region string, opts ...Option) (*DynamoDBStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewDynamoDBStoreWithClient(dynamodb.NewFromConfig(cfg), tableName, opts...), nil
}

// NewDynamoDBStoreWithClient wraps an existing client.
func NewDynamoDBStoreWithClient(client DynamoDBAPI, tableName string, opts ...Option) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		opts:      applyOptions(opts),
	}
}

// Get retrieves the live record for key.
func (d *DynamoDBStore) Get(ctx context.Context, key string) (rec Record, ok bool, err error) {
	ctx, span := tracing.StartClientSpan(ctx, semconv.DBSystemDynamoDB, "GetItem",
		semconv.AWSDynamoDBTableNames(d.tableName), attribute.String("filebox.key", key))
	defer func() { tracing.EndSpan(span, err) }()

	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: dynamodb get item: %w", ErrStoreUnavailable, err)
	}
	if out.Item == nil {
		return Record{}, false, nil
	}

	var item dynamoDBItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	rec = item.record()
	if rec.Expired(d.opts.now()) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Increment adds one to field. A live item is bumped in place; a missing or
// expired one is reset with field set to one. Each branch is conditional on
// the state it assumes, and the loop retries when another writer changed
// that state first.
func (d *DynamoDBStore) Increment(ctx context.Context, key string, field Field) (rec Record, err error) {
	ctx, span := tracing.StartClientSpan(ctx, semconv.DBSystemDynamoDB, "UpdateItem",
		semconv.AWSDynamoDBTableNames(d.tableName), attribute.String("filebox.key", key))
	defer func() { tracing.EndSpan(span, err) }()

	now := d.opts.now()
	expiresAt := d.opts.nextReset(now).Unix()

	for attempt := 0; attempt < maxIncrementAttempts; attempt++ {
		rec, err = d.update(ctx, d.bumpInput(key, field, now, expiresAt))
		if !isConditionalCheckFailed(err) {
			return rec, err
		}

		rec, err = d.update(ctx, d.resetInput(key, field, now, expiresAt))
		if !isConditionalCheckFailed(err) {
			return rec, err
		}
	}

	return Record{}, fmt.Errorf("%w: dynamodb increment of %q kept conflicting", ErrStoreUnavailable, key)
}

func (d *DynamoDBStore) bumpInput(key string, field Field, now time.Time, expiresAt int64) *dynamodb.UpdateItemInput {
	return &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    aws.String("ADD #f :one SET #exp = :exp"),
		ConditionExpression: aws.String("attribute_exists(#k) AND #exp > :now"),
		ExpressionAttributeNames: map[string]string{
			"#k":   "key",
			"#f":   field.String(),
			"#exp": "expires_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": numberValue(1),
			":exp": numberValue(expiresAt),
			":now": numberValue(now.Unix()),
		},
		ReturnValues: types.ReturnValueAllNew,
	}
}

func (d *DynamoDBStore) resetInput(key string, field Field, now time.Time, expiresAt int64) *dynamodb.UpdateItemInput {
	return &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    aws.String("SET #f = :one, #o = :zero, #exp = :exp"),
		ConditionExpression: aws.String("attribute_not_exists(#k) OR #exp <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#k":   "key",
			"#f":   field.String(),
			"#o":   otherField(field).String(),
			"#exp": "expires_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":  numberValue(1),
			":zero": numberValue(0),
			":exp":  numberValue(expiresAt),
			":now":  numberValue(now.Unix()),
		},
		ReturnValues: types.ReturnValueAllNew,
	}
}

func (d *DynamoDBStore) update(ctx context.Context, in *dynamodb.UpdateItemInput) (Record, error) {
	out, err := d.client.UpdateItem(ctx, in)
	if err != nil {
		if isConditionalCheckFailed(err) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("%w: dynamodb update item: %w", ErrStoreUnavailable, err)
	}

	var item dynamoDBItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return item.record(), nil
}

// Ping checks that the table is reachable.
func (d *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err != nil {
		return fmt.Errorf("%w: dynamodb describe table: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no connections that need closing.
func (d *DynamoDBStore) Close() error {
	return nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func numberValue(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func otherField(f Field) Field {
	if f == FieldUpload {
		return FieldVisitError
	}
	return FieldUpload
}

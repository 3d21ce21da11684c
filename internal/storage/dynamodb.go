package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

	"github.com/busdash/bus-dashboard-service/internal/config"
	"github.com/busdash/bus-dashboard-service/internal/models"
)

// DynamoDBStorage implements Storage using AWS DynamoDB. The client is held
// behind the SDK interface so tests can substitute a fake.
type DynamoDBStorage struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

type dynamoRecord struct {
	ID string `json:"id"`
	models.BusRecord
}

// NewDynamoDBStorage creates a new DynamoDB storage instance.
func NewDynamoDBStorage(cfg config.StorageConfig) (*DynamoDBStorage, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	client := dynamodb.New(sess)
	storage := &DynamoDBStorage{
		client:    client,
		tableName: cfg.TableName,
	}

	// Create tables if they don't exist (for local testing)
	if err := storage.ensureTable(storage.tableName); err != nil {
		return nil, fmt.Errorf("failed to ensure table exists: %w", err)
	}
	if err := storage.ensureTable(storage.tableName + "_status"); err != nil {
		return nil, fmt.Errorf("failed to ensure status table exists: %w", err)
	}

	return storage, nil
}

// ensureTable creates a DynamoDB table if it doesn't exist
func (d *DynamoDBStorage) ensureTable(name string) error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})

	if err == nil {
		return nil // Table already exists
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("id"),
				KeyType:       aws.String("HASH"),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("id"),
				AttributeType: aws.String("S"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}

	_, err = d.client.CreateTable(input)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
}

// DeactivateAll scans for active records and clears their active flag.
func (d *DynamoDBStorage) DeactivateAll(ctx context.Context) error {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(d.tableName),
		FilterExpression: aws.String("is_active = :true"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":true": {BOOL: aws.Bool(true)},
		},
		ProjectionExpression: aws.String("id"),
	}

	var keys []map[string]*dynamodb.AttributeValue
	err := d.client.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, last bool) bool {
		for _, item := range page.Items {
			keys = append(keys, map[string]*dynamodb.AttributeValue{"id": item["id"]})
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to scan active records: %w", err)
	}

	for _, key := range keys {
		_, err := d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
			TableName:        aws.String(d.tableName),
			Key:              key,
			UpdateExpression: aws.String("SET is_active = :false"),
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":false": {BOOL: aws.Bool(false)},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to deactivate record: %w", err)
		}
	}

	return nil
}

// InsertBatch writes all records in one TransactWriteItems call, so the
// batch appears atomically to readers. A batch holds at most three records,
// well under the transaction item limit.
func (d *DynamoDBStorage) InsertBatch(ctx context.Context, records []models.BusRecord) error {
	if len(records) == 0 {
		return nil
	}

	items := make([]*dynamodb.TransactWriteItem, 0, len(records))
	for i, r := range records {
		item, err := dynamodbattribute.MarshalMap(dynamoRecord{
			ID:        fmt.Sprintf("%s#%d#%d", r.Destination, r.CreatedAt.UnixNano(), i),
			BusRecord: r,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal record for %s: %w", r.Destination, err)
		}
		items = append(items, &dynamodb.TransactWriteItem{
			Put: &dynamodb.Put{
				TableName: aws.String(d.tableName),
				Item:      item,
			},
		})
	}

	_, err := d.client.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}
	return nil
}

// LatestActivePerDestination scans active records and keeps the most
// recently created one per destination.
func (d *DynamoDBStorage) LatestActivePerDestination(ctx context.Context, destinations []string) ([]models.BusRecord, error) {
	records, err := d.scanRecords(ctx, aws.String("is_active = :true"), map[string]*dynamodb.AttributeValue{
		":true": {BOOL: aws.Bool(true)},
	})
	if err != nil {
		return nil, err
	}

	latest := make(map[string]models.BusRecord)
	for _, r := range records {
		if current, ok := latest[r.Destination]; !ok || r.CreatedAt.After(current.CreatedAt) {
			latest[r.Destination] = r
		}
	}

	var result []models.BusRecord
	for _, destination := range destinations {
		if r, ok := latest[destination]; ok {
			result = append(result, r)
		}
	}
	return result, nil
}

// History returns records created at or after since, newest first.
func (d *DynamoDBStorage) History(ctx context.Context, since time.Time) ([]models.BusRecord, error) {
	records, err := d.scanRecords(ctx, aws.String("created_at >= :since"), map[string]*dynamodb.AttributeValue{
		":since": {S: aws.String(since.Format(time.RFC3339Nano))},
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (d *DynamoDBStorage) scanRecords(ctx context.Context, filter *string, values map[string]*dynamodb.AttributeValue) ([]models.BusRecord, error) {
	input := &dynamodb.ScanInput{
		TableName:                 aws.String(d.tableName),
		FilterExpression:          filter,
		ExpressionAttributeValues: values,
	}

	var records []models.BusRecord
	var unmarshalErr error
	err := d.client.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, last bool) bool {
		var pageRecords []dynamoRecord
		if unmarshalErr = dynamodbattribute.UnmarshalListOfMaps(page.Items, &pageRecords); unmarshalErr != nil {
			return false
		}
		for _, r := range pageRecords {
			records = append(records, r.BusRecord)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal scanned records: %w", unmarshalErr)
	}
	return records, nil
}

// UpdateFetchStatus updates the fetch status record.
func (d *DynamoDBStorage) UpdateFetchStatus(ctx context.Context, status models.FetchStatus) error {
	item, err := dynamodbattribute.MarshalMap(status)
	if err != nil {
		return fmt.Errorf("failed to marshal fetch status: %w", err)
	}

	// Fixed key for the single status record
	item["id"] = &dynamodb.AttributeValue{S: aws.String("fetch_status")}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName + "_status"),
		Item:      item,
	})

	return err
}

// GetFetchStatus retrieves the current fetch status.
func (d *DynamoDBStorage) GetFetchStatus(ctx context.Context) (*models.FetchStatus, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName + "_status"),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {
				S: aws.String("fetch_status"),
			},
		},
	}

	result, err := d.client.GetItemWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get fetch status: %w", err)
	}

	if result.Item == nil {
		// Return default status if not found
		return &models.FetchStatus{
			Status: "never_run",
		}, nil
	}

	var status models.FetchStatus
	err = dynamodbattribute.UnmarshalMap(result.Item, &status)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal fetch status: %w", err)
	}

	return &status, nil
}

// Close closes the DynamoDB connection
func (d *DynamoDBStorage) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}

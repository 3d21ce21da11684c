package storage

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDynamoClient struct {
	dynamodbiface.DynamoDBAPI
	pages   []*dynamodb.ScanOutput
	scanErr error
}

func (f *fakeDynamoClient) ScanPagesWithContext(ctx aws.Context, input *dynamodb.ScanInput, fn func(*dynamodb.ScanOutput, bool) bool, opts ...request.Option) error {
	if f.scanErr != nil {
		return f.scanErr
	}
	for i, page := range f.pages {
		if !fn(page, i == len(f.pages)-1) {
			break
		}
	}
	return nil
}

func marshaledRecord(t *testing.T, destination string, createdAt time.Time) map[string]*dynamodb.AttributeValue {
	t.Helper()
	item, err := dynamodbattribute.MarshalMap(dynamoRecord{
		ID:        destination + "#0#0",
		BusRecord: record(destination, createdAt, true),
	})
	require.NoError(t, err)
	return item
}

func TestDynamoDBStorage_ScanRecords(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	store := &DynamoDBStorage{
		tableName: "bus_records",
		client: &fakeDynamoClient{pages: []*dynamodb.ScanOutput{
			{Items: []map[string]*dynamodb.AttributeValue{marshaledRecord(t, "三鷹駅", now)}},
			{Items: []map[string]*dynamodb.AttributeValue{marshaledRecord(t, "吉祥寺駅", now)}},
		}},
	}

	records, err := store.LatestActivePerDestination(context.Background(), []string{"三鷹駅", "吉祥寺駅"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "三鷹駅", records[0].Destination)
	assert.Equal(t, "吉祥寺駅", records[1].Destination)
}

func TestDynamoDBStorage_ScanRecordsUnmarshalErrorPropagates(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	malformed := map[string]*dynamodb.AttributeValue{
		"id":         {S: aws.String("三鷹駅#0#0")},
		"created_at": {S: aws.String("not-a-timestamp")},
	}
	store := &DynamoDBStorage{
		tableName: "bus_records",
		client: &fakeDynamoClient{pages: []*dynamodb.ScanOutput{
			{Items: []map[string]*dynamodb.AttributeValue{marshaledRecord(t, "三鷹駅", now)}},
			{Items: []map[string]*dynamodb.AttributeValue{malformed}},
		}},
	}

	// A malformed item must surface as an error, not as a truncated result.
	_, err := store.LatestActivePerDestination(context.Background(), []string{"三鷹駅"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")

	_, err = store.History(context.Background(), now.Add(-time.Hour))
	require.Error(t, err)
}

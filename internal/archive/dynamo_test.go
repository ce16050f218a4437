package archive

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/amrwatch/internal/analysis"
	"github.com/rewired-gh/amrwatch/internal/models"
)

type mockDynamo struct {
	dynamodbiface.DynamoDBAPI
	mock.Mock
}

func (m *mockDynamo) PutItemWithContext(ctx aws.Context, in *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*dynamodb.PutItemOutput), args.Error(1)
}

var archivedAt = time.Date(2024, 4, 2, 6, 0, 0, 0, time.UTC)

func testMeta() analysis.RunMeta {
	return analysis.RunMeta{RunID: "run-7", Params: analysis.DefaultParams()}
}

func alert(org string) models.ScoredRow {
	day := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	return models.ScoredRow{
		Location:       "Respiratory",
		Organism:       org,
		Timestamp:      day.Add(10 * time.Hour),
		Day:            day,
		Rate:           75,
		PredictedRate:  10,
		RateStd:        5,
		ZRate:          13,
		IsAlertRate:    true,
		HasCount:       true,
		DailyCount:     1,
		PredictedCount: 1,
		CountStd:       math.NaN(),
		ZCount:         math.NaN(),
	}
}

func TestNewItem(t *testing.T) {
	item := NewItem(testMeta(), alert("E. coli"), archivedAt)

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "run-7", item.RunID)
	assert.Equal(t, "Respiratory|E. coli", item.Group)
	assert.Equal(t, "2024-04-01", item.Day)
	assert.Equal(t, "2024-04-01T10:00:00Z", item.Timestamp)
	assert.Equal(t, "2024-04-02T06:00:00Z", item.ArchivedAt)
	assert.True(t, item.IsAlertRate)
	assert.False(t, item.IsAlertCount)
	require.NotNil(t, item.ZRate)
	assert.Equal(t, 13.0, *item.ZRate)
	assert.Nil(t, item.ZCount)
	assert.Equal(t, 7, item.WindowDays)
	assert.Equal(t, 2.5, item.ZThreshold)

	other := NewItem(testMeta(), alert("E. coli"), archivedAt)
	assert.NotEqual(t, item.ID, other.ID)
}

func TestPut(t *testing.T) {
	client := &mockDynamo{}
	client.On("PutItemWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		if aws.StringValue(in.TableName) != "AmrAlerts" {
			return false
		}
		if _, ok := in.Item["z_count"]; ok {
			return false
		}
		return aws.StringValue(in.Item["run_id"].S) == "run-7" &&
			aws.StringValue(in.Item["z_rate"].N) == "13" &&
			aws.BoolValue(in.Item["is_alert_rate"].BOOL)
	})).Return(&dynamodb.PutItemOutput{}, nil)

	d := New(client, "AmrAlerts")
	d.now = func() time.Time { return archivedAt }

	n, err := d.Put(context.Background(), testMeta(), []models.ScoredRow{alert("E. coli"), alert("K. pneumoniae")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	client.AssertNumberOfCalls(t, "PutItemWithContext", 2)
}

func TestPut_StopsOnError(t *testing.T) {
	client := &mockDynamo{}
	client.On("PutItemWithContext", mock.Anything, mock.Anything).Return(&dynamodb.PutItemOutput{}, nil).Once()
	client.On("PutItemWithContext", mock.Anything, mock.Anything).Return((*dynamodb.PutItemOutput)(nil), errors.New("throttled")).Once()

	d := New(client, "AmrAlerts")
	n, err := d.Put(context.Background(), testMeta(), []models.ScoredRow{alert("A"), alert("B"), alert("C")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Respiratory - B")
	assert.Equal(t, 1, n)
	client.AssertNumberOfCalls(t, "PutItemWithContext", 2)
}

func TestPut_Empty(t *testing.T) {
	client := &mockDynamo{}
	n, err := New(client, "AmrAlerts").Put(context.Background(), testMeta(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	client.AssertNotCalled(t, "PutItemWithContext", mock.Anything, mock.Anything)
}

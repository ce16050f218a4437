// Package archive keeps a durable record of fired alerts in DynamoDB.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/google/uuid"

	"github.com/rewired-gh/amrwatch/internal/analysis"
	"github.com/rewired-gh/amrwatch/internal/logger"
	"github.com/rewired-gh/amrwatch/internal/models"
)

// Item is one archived alert.
type Item struct {
	ID         string `dynamodbav:"id"`
	RunID      string `dynamodbav:"run_id"`
	Group      string `dynamodbav:"group"`
	Location   string `dynamodbav:"location"`
	Organism   string `dynamodbav:"organism"`
	Day        string `dynamodbav:"day"`
	Timestamp  string `dynamodbav:"timestamp"`
	ArchivedAt string `dynamodbav:"archived_at"`

	IsAlertRate  bool `dynamodbav:"is_alert_rate"`
	IsAlertCount bool `dynamodbav:"is_alert_count"`

	// Undefined statistics are omitted from the item.
	Rate           *float64 `dynamodbav:"rate,omitempty"`
	PredictedRate  *float64 `dynamodbav:"predicted_rate,omitempty"`
	ZRate          *float64 `dynamodbav:"z_rate,omitempty"`
	DailyCount     *float64 `dynamodbav:"daily_count,omitempty"`
	PredictedCount *float64 `dynamodbav:"predicted_count,omitempty"`
	ZCount         *float64 `dynamodbav:"z_count,omitempty"`

	WindowDays int     `dynamodbav:"window_days"`
	ZThreshold float64 `dynamodbav:"z_threshold"`
}

// Dynamo writes alerts to one DynamoDB table.
type Dynamo struct {
	client dynamodbiface.DynamoDBAPI
	table  string
	now    func() time.Time
}

// Open creates a Dynamo archive using the default AWS credential chain.
func Open(region, table string) (*Dynamo, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return New(dynamodb.New(sess), table), nil
}

// New wraps an existing DynamoDB client.
func New(client dynamodbiface.DynamoDBAPI, table string) *Dynamo {
	return &Dynamo{client: client, table: table, now: time.Now}
}

// NewItem builds the archive record of one alert row.
func NewItem(meta analysis.RunMeta, r models.ScoredRow, archivedAt time.Time) Item {
	return Item{
		ID:             uuid.NewString(),
		RunID:          meta.RunID,
		Group:          r.Location + "|" + r.Organism,
		Location:       r.Location,
		Organism:       r.Organism,
		Day:            r.Day.Format(time.DateOnly),
		Timestamp:      r.Timestamp.UTC().Format(time.RFC3339),
		ArchivedAt:     archivedAt.UTC().Format(time.RFC3339),
		IsAlertRate:    r.IsAlertRate,
		IsAlertCount:   r.IsAlertCount,
		Rate:           models.Finite(r.Rate),
		PredictedRate:  models.Finite(r.PredictedRate),
		ZRate:          models.Finite(r.ZRate),
		DailyCount:     models.Finite(r.DailyCount),
		PredictedCount: models.Finite(r.PredictedCount),
		ZCount:         models.Finite(r.ZCount),
		WindowDays:     meta.WindowDays,
		ZThreshold:     meta.ZThreshold,
	}
}

// Put stores one item per alert and returns the number written. It stops at
// the first failed write.
func (d *Dynamo) Put(ctx context.Context, meta analysis.RunMeta, alerts []models.ScoredRow) (int, error) {
	archivedAt := d.now()
	for i, r := range alerts {
		item, err := dynamodbattribute.MarshalMap(NewItem(meta, r, archivedAt))
		if err != nil {
			return i, fmt.Errorf("failed to marshal alert %s: %w", r.Group().Label(), err)
		}

		_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(d.table),
			Item:      item,
		})
		if err != nil {
			return i, fmt.Errorf("failed to put alert %s: %w", r.Group().Label(), err)
		}
	}

	logger.Info("Archived %d alerts of run %s to %s", len(alerts), meta.RunID, d.table)
	return len(alerts), nil
}

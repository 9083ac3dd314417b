// Package events announces stored try-on results on an EventBridge bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/model"
)

// Source is the EventBridge source of every announcement.
const Source = "tryon-pipeline"

// PutEventsAPI is the subset of the EventBridge client used here.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// ResultEvent is the event detail. It carries references, never pixels.
type ResultEvent struct {
	ResultID         string    `json:"resultId"`
	UserID           string    `json:"userId"`
	Category         string    `json:"category"`
	ProcessingMethod string    `json:"processingMethod"`
	SafetyTag        string    `json:"safetyTag"`
	QualityScore     float64   `json:"qualityScore"`
	ImageKey         string    `json:"imageKey,omitempty"`
	Refinements      int       `json:"refinements"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewResultEvent summarises result.
func NewResultEvent(result *model.TryOnResult) ResultEvent {
	return ResultEvent{
		ResultID:         result.ID,
		UserID:           result.UserID,
		Category:         result.Garment.Category,
		ProcessingMethod: result.ProcessingMethod,
		SafetyTag:        result.SafetyTag,
		QualityScore:     result.QualityScore,
		ImageKey:         result.ImageKey,
		Refinements:      len(result.RefinementHistory),
		Timestamp:        result.Timestamp,
	}
}

// Publisher puts result events on one bus.
type Publisher struct {
	api PutEventsAPI
	bus string
}

// NewPublisher creates a Publisher for bus. An empty bus selects the
// account's default bus.
func NewPublisher(api PutEventsAPI, bus string) *Publisher {
	return &Publisher{api: api, bus: bus}
}

// Announce publishes result under detailType.
func (p *Publisher) Announce(ctx context.Context, detailType string, result *model.TryOnResult) error {
	detail, err := json.Marshal(NewResultEvent(result))
	if err != nil {
		return fmt.Errorf("marshal %s: %w", detailType, err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(detailType),
		Detail:     aws.String(string(detail)),
	}
	if p.bus != "" {
		entry.EventBusName = aws.String(p.bus)
	}

	out, err := p.api.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("result_id", result.ID).Str("detail_type", detailType).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if out.FailedEntryCount > 0 {
		for i, e := range out.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
	}

	log.Debug().Str("result_id", result.ID).Str("detail_type", detailType).Msg("Result announced")
	return nil
}

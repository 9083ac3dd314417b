package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/fpang/tryon-pipeline/internal/model"
)

type fakeBus struct {
	input *eventbridge.PutEventsInput
	out   *eventbridge.PutEventsOutput
	err   error
}

func (f *fakeBus) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func testResult() *model.TryOnResult {
	return &model.TryOnResult{
		ID:               "r-1",
		UserID:           "u-1",
		Garment:          model.GarmentItem{Category: model.CategoryTops},
		GeneratedImage:   []byte("pixels"),
		ProcessingMethod: "external-ai",
		SafetyTag:        "approved",
		QualityScore:     0.8,
		Timestamp:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAnnounce(t *testing.T) {
	bus := &fakeBus{}
	p := NewPublisher(bus, "tryon-bus")
	if err := p.Announce(context.Background(), "TryOnResultCreated", testResult()); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	if len(bus.input.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(bus.input.Entries))
	}
	e := bus.input.Entries[0]
	if aws.ToString(e.Source) != Source || aws.ToString(e.DetailType) != "TryOnResultCreated" || aws.ToString(e.EventBusName) != "tryon-bus" {
		t.Errorf("unexpected entry %+v", e)
	}

	var detail ResultEvent
	if err := json.Unmarshal([]byte(aws.ToString(e.Detail)), &detail); err != nil {
		t.Fatalf("detail is not JSON: %v", err)
	}
	if detail.ResultID != "r-1" || detail.Category != model.CategoryTops || detail.QualityScore != 0.8 {
		t.Errorf("unexpected detail %+v", detail)
	}
}

func TestAnnounceFailures(t *testing.T) {
	tests := []struct {
		name string
		bus  *fakeBus
	}{
		{"call error", &fakeBus{err: errors.New("throttled")}},
		{"failed entry", &fakeBus{out: &eventbridge.PutEventsOutput{
			FailedEntryCount: 1,
			Entries:          []eventbridgetypes.PutEventsResultEntry{{ErrorCode: aws.String("InternalFailure")}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewPublisher(tt.bus, "").Announce(context.Background(), "x", testResult()); err == nil {
				t.Error("expected an error")
			}
			if tt.bus.input.Entries[0].EventBusName != nil {
				t.Error("empty bus name should not be sent")
			}
		})
	}
}

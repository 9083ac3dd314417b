package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fpang/tryon-pipeline/internal/model"
)

// fakeDynamo is an in-memory stand-in for the DynamoDB operations used by
// DynamoStore. It understands only the key condition DynamoStore issues.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func attrS(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func itemKey(item map[string]types.AttributeValue) string {
	return attrS(item, "PK") + "|" + attrS(item, "SK")
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := attrS(in.ExpressionAttributeValues, ":pk")
	prefix := attrS(in.ExpressionAttributeValues, ":skPrefix")

	var keys []string
	for k, item := range f.items {
		if attrS(item, "PK") == pk && strings.HasPrefix(attrS(item, "SK"), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &dynamodb.QueryOutput{}
	for _, k := range keys {
		out.Items = append(out.Items, f.items[k])
	}
	return out, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, reqs := range in.RequestItems {
		if len(reqs) > maxBatchWrite {
			return nil, fmt.Errorf("batch of %d exceeds limit", len(reqs))
		}
		for _, r := range reqs {
			if r.DeleteRequest != nil {
				delete(f.items, itemKey(r.DeleteRequest.Key))
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (f *fakeDynamo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

var base = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

func sampleResult(id string, at time.Time) *model.TryOnResult {
	return &model.TryOnResult{
		ID:                id,
		UserID:            "user-1",
		SubjectPhotoID:    "photo-1",
		Garment:           model.GarmentItem{Category: model.CategoryTops, Origin: model.OriginURL, SourceURL: "https://shop.example/item"},
		GeneratedImage:    []byte("pixels-" + id),
		GeneratedMIMEType: "image/png",
		ImageURL:          "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("pixels-"+id)),
		Description:       "A look",
		Recommendations:   []string{"Roll the sleeves"},
		Confidence:        0.9,
		QualityScore:      0.97,
		Fit:               model.FitAssessment{SizeCompat: "good"},
		SafetyTag:         model.SafetyAppropriate,
		Watermark:         &model.Watermark{Model: "m", GeneratedAt: at, DisclaimerText: "AI", SyntheticID: "syn-" + id},
		ProcessingMethod:  model.MethodExternalAI,
		Version:           "v1",
		Timestamp:         at,
		RefinementHistory: []model.RefinementEntry{},
	}
}

// storeSuite runs the same behavioural checks against every implementation.
func storeSuite(t *testing.T, newStore func(limit int) Store) {
	ctx := context.Background()

	t.Run("missing records", func(t *testing.T) {
		s := newStore(5)
		if p, err := s.LatestSubjectPhoto(ctx, "nobody"); p != nil || err != nil {
			t.Errorf("LatestSubjectPhoto = %v, %v", p, err)
		}
		if r, err := s.GetResult(ctx, "nobody", "x"); r != nil || err != nil {
			t.Errorf("GetResult = %v, %v", r, err)
		}
		if p, err := s.GetSubjectPhoto(ctx, "nobody", "x"); p != nil || err != nil {
			t.Errorf("GetSubjectPhoto = %v, %v", p, err)
		}
	})

	t.Run("latest subject photo", func(t *testing.T) {
		s := newStore(5)
		for i, id := range []string{"p1", "p3", "p2"} {
			reg := base.Add(time.Duration([]int{1, 3, 2}[i]) * time.Minute)
			err := s.PutSubjectPhoto(ctx, &model.SubjectPhoto{ID: id, UserID: "user-1", Data: []byte("data-" + id), MIMEType: "image/jpeg", CapturedAt: base, RegisteredAt: reg})
			if err != nil {
				t.Fatalf("PutSubjectPhoto: %v", err)
			}
		}
		latest, err := s.LatestSubjectPhoto(ctx, "user-1")
		if err != nil || latest == nil {
			t.Fatalf("LatestSubjectPhoto = %v, %v", latest, err)
		}
		if latest.ID != "p3" || string(latest.Data) != "data-p3" || latest.UserID != "user-1" {
			t.Errorf("unexpected latest photo: %+v", latest)
		}
		got, _ := s.GetSubjectPhoto(ctx, "user-1", "p1")
		if got == nil || string(got.Data) != "data-p1" || !got.CapturedAt.Equal(base) {
			t.Errorf("GetSubjectPhoto = %+v", got)
		}
	})

	t.Run("result round trip", func(t *testing.T) {
		s := newStore(5)
		in := sampleResult("r1", base)
		if err := s.PutResult(ctx, in); err != nil {
			t.Fatalf("PutResult: %v", err)
		}
		in.Description = "mutated after put"

		out, err := s.GetResult(ctx, "user-1", "r1")
		if err != nil || out == nil {
			t.Fatalf("GetResult = %v, %v", out, err)
		}
		if out.Description != "A look" {
			t.Error("store shares state with caller")
		}
		if string(out.GeneratedImage) != "pixels-r1" || out.Watermark == nil || out.Watermark.SyntheticID != "syn-r1" {
			t.Errorf("unexpected round trip: %+v", out)
		}
		if out.Garment.SourceURL != "https://shop.example/item" || out.Fit.SizeCompat != "good" || out.QualityScore != 0.97 {
			t.Errorf("fields lost in round trip: %+v", out)
		}
	})

	t.Run("history cap evicts oldest", func(t *testing.T) {
		s := newStore(3)
		for i := 0; i < 5; i++ {
			if err := s.PutResult(ctx, sampleResult(fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Hour))); err != nil {
				t.Fatalf("PutResult: %v", err)
			}
		}
		list, err := s.ListResults(ctx, "user-1", 0)
		if err != nil {
			t.Fatalf("ListResults: %v", err)
		}
		var ids []string
		for _, r := range list {
			ids = append(ids, r.ID)
		}
		if strings.Join(ids, ",") != "r4,r3,r2" {
			t.Errorf("history = %v, want r4,r3,r2", ids)
		}
		if r, _ := s.GetResult(ctx, "user-1", "r0"); r != nil {
			t.Error("oldest result should be evicted")
		}

		two, _ := s.ListResults(ctx, "user-1", 2)
		if len(two) != 2 || two[0].ID != "r4" {
			t.Errorf("limited list = %v", two)
		}
	})

	t.Run("upsert replaces", func(t *testing.T) {
		s := newStore(3)
		r := sampleResult("r1", base)
		s.PutResult(ctx, r)
		r.RefinementHistory = append(r.RefinementHistory, model.RefinementEntry{Prompt: "brighter", Timestamp: base})
		s.PutResult(ctx, r)

		list, _ := s.ListResults(ctx, "user-1", 0)
		if len(list) != 1 || len(list[0].RefinementHistory) != 1 {
			t.Errorf("expected one updated record, got %+v", list)
		}
	})

	t.Run("object storage keys drop inline pixels", func(t *testing.T) {
		s := newStore(3)
		r := sampleResult("r1", base)
		r.ImageKey = "tryon/user-1/r1/generated.png"
		s.PutResult(ctx, r)
		out, _ := s.GetResult(ctx, "user-1", "r1")
		if len(out.GeneratedImage) != 0 || out.ImageKey != r.ImageKey {
			t.Errorf("expected key only, got %d bytes and key %q", len(out.GeneratedImage), out.ImageKey)
		}
	})

	t.Run("rejects records without ids", func(t *testing.T) {
		s := newStore(3)
		if err := s.PutResult(ctx, &model.TryOnResult{UserID: "u"}); err == nil {
			t.Error("expected error for result without id")
		}
		if err := s.PutSubjectPhoto(ctx, &model.SubjectPhoto{ID: "p"}); err == nil {
			t.Error("expected error for photo without user")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	storeSuite(t, func(limit int) Store { return NewMemoryStore(limit) })
}

func TestDynamoStore(t *testing.T) {
	storeSuite(t, func(limit int) Store { return NewDynamoStore(newFakeDynamo(), "tryon", limit) })
}

func TestDynamoStoreBatchesEvictions(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	s := NewDynamoStore(fake, "tryon", 40)
	for i := 0; i < 40; i++ {
		s.PutResult(ctx, sampleResult(fmt.Sprintf("r%02d", i), base.Add(time.Duration(i)*time.Minute)))
	}

	s.historyLimit = 5
	if err := s.PutResult(ctx, sampleResult("r99", base.Add(time.Hour))); err != nil {
		t.Fatalf("PutResult: %v", err)
	}
	if fake.count() != 5 {
		t.Errorf("expected 5 items after eviction, got %d", fake.count())
	}
}

func TestDynamoStoreCompressesPayload(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	s := NewDynamoStore(fake, "tryon", 5)

	r := sampleResult("big", base)
	r.GeneratedImage = []byte(strings.Repeat("A", 1<<20))
	if err := s.PutResult(ctx, r); err != nil {
		t.Fatalf("compressible payload should fit: %v", err)
	}
	item := fake.items[userPK("user-1")+"|"+skResult+"big"]
	payload := item["payload"].(*types.AttributeValueMemberB).Value
	if len(payload) >= 1<<20 {
		t.Errorf("payload not compressed: %d bytes", len(payload))
	}
}

func TestResultRecordInlinesImageOnce(t *testing.T) {
	r := sampleResult("inline", base)
	r.GeneratedImage = bytes.Repeat([]byte{0x89, 0x50, 0x4e, 0x47}, 4096)
	r.ImageURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(r.GeneratedImage)

	rec := NewResultRecord(r)
	if rec.GeneratedImage != "" {
		t.Error("data URI stored next to the raw pixels")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if limit := len(r.ImageURL) + 2048; len(raw) > limit {
		t.Errorf("record is %d bytes, want at most %d", len(raw), limit)
	}

	back := rec.Result()
	if back.ImageURL != r.ImageURL {
		t.Errorf("ImageURL not rebuilt: %.40q", back.ImageURL)
	}
	if !bytes.Equal(back.GeneratedImage, r.GeneratedImage) {
		t.Error("generated pixels lost")
	}
}

func TestResultRecordKeepsObjectURL(t *testing.T) {
	r := sampleResult("stored", base)
	r.ImageKey = "tryon/user-1/stored/generated.png"
	r.ImageURL = "https://images.example/generated.png?signed"

	rec := NewResultRecord(r)
	if len(rec.GeneratedData) != 0 || rec.GeneratedImage != r.ImageURL {
		t.Errorf("unexpected record image fields: %d bytes, %q", len(rec.GeneratedData), rec.GeneratedImage)
	}
	if back := rec.Result(); back.ImageURL != r.ImageURL || back.ImageKey != r.ImageKey {
		t.Errorf("round trip = %q %q", back.ImageURL, back.ImageKey)
	}
}

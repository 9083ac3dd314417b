package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/model"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "USER#"
	skPhoto  = "PHOTO#"
	skResult = "RESULT#"

	// maxBatchWrite is the DynamoDB BatchWriteItem limit per call.
	maxBatchWrite = 25

	// maxPayloadBytes keeps compressed payloads under the 400KB item limit
	// with room for the indexed attributes.
	maxPayloadBytes = 380 * 1024
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore implements Store using AWS DynamoDB. Pixel data and result
// records are stored as zstd-compressed binary attributes next to a few
// plain attributes used for ordering.
type DynamoStore struct {
	client       DynamoAPI
	tableName    string
	historyLimit int
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client DynamoAPI, tableName string, historyLimit int) *DynamoStore {
	return &DynamoStore{
		client:       client,
		tableName:    tableName,
		historyLimit: historyLimit,
	}
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

func decompress(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// photoItem is the DynamoDB layout of a subject photo.
type photoItem struct {
	model.SubjectPhoto
	RegisteredAtMs int64  `dynamodbav:"registeredAtMs"`
	Payload        []byte `dynamodbav:"payload"`
}

// resultItem is the DynamoDB layout of a try-on result.
type resultItem struct {
	ID               string  `dynamodbav:"id"`
	CreatedAtMs      int64   `dynamodbav:"createdAtMs"`
	Category         string  `dynamodbav:"category"`
	ProcessingMethod string  `dynamodbav:"processingMethod"`
	QualityScore     float64 `dynamodbav:"qualityScore"`
	Payload          []byte  `dynamodbav:"payload"`
}

// --- Internal helpers ---

func userPK(userID string) string {
	return pkPrefix + userID
}

// putItem marshals a domain object and writes it to DynamoDB with PK and SK.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data any) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item from DynamoDB and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out any) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// queryBySKPrefix queries all items of a user whose SK begins with skPrefix.
func (s *DynamoStore) queryBySKPrefix(ctx context.Context, userID, skPrefix string) ([]map[string]types.AttributeValue, error) {
	pk := userPK(userID)

	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skPrefix},
		},
	}

	var allItems []map[string]types.AttributeValue

	// DynamoDB returns up to 1MB per Query call.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, skPrefix, err)
		}
		allItems = append(allItems, result.Items...)

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return allItems, nil
}

// batchDeleteKeys deletes multiple items by their PK/SK keys in chunks of
// maxBatchWrite.
func (s *DynamoStore) batchDeleteKeys(ctx context.Context, keys []map[string]types.AttributeValue) error {
	for i := 0; i < len(keys); i += maxBatchWrite {
		end := min(i+maxBatchWrite, len(keys))

		requests := make([]types.WriteRequest, 0, end-i)
		for _, key := range keys[i:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
		}

		_, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				s.tableName: requests,
			},
		})
		if err != nil {
			return fmt.Errorf("BatchWriteItem delete (%d items): %w", len(requests), err)
		}
	}
	return nil
}

// --- Subject photos ---

func (s *DynamoStore) PutSubjectPhoto(ctx context.Context, photo *model.SubjectPhoto) error {
	if photo.ID == "" || photo.UserID == "" {
		return fmt.Errorf("subject photo requires id and user id")
	}
	payload := compress(photo.Data)
	if len(payload) > maxPayloadBytes {
		return model.Errorf(model.KindValidation, "store subject photo", "compressed photo is %d bytes, limit is %d", len(payload), maxPayloadBytes)
	}

	item := photoItem{
		SubjectPhoto:   *photo,
		RegisteredAtMs: photo.RegisteredAt.UnixMilli(),
		Payload:        payload,
	}
	if err := s.putItem(ctx, userPK(photo.UserID), skPhoto+photo.ID, item); err != nil {
		return fmt.Errorf("put subject photo: %w", err)
	}
	log.Debug().Str("user_id", photo.UserID).Str("photo_id", photo.ID).Int("payload_bytes", len(payload)).Msg("Subject photo stored")
	return nil
}

func (s *DynamoStore) GetSubjectPhoto(ctx context.Context, userID, photoID string) (*model.SubjectPhoto, error) {
	var item photoItem
	found, err := s.getItem(ctx, userPK(userID), skPhoto+photoID, &item)
	if err != nil {
		return nil, fmt.Errorf("get subject photo: %w", err)
	}
	if !found {
		return nil, nil
	}
	return photoFromItem(userID, &item)
}

func (s *DynamoStore) LatestSubjectPhoto(ctx context.Context, userID string) (*model.SubjectPhoto, error) {
	items, err := s.queryBySKPrefix(ctx, userID, skPhoto)
	if err != nil {
		return nil, fmt.Errorf("latest subject photo: %w", err)
	}

	var latest *photoItem
	for _, raw := range items {
		var item photoItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshal subject photo: %w", err)
		}
		if latest == nil || item.RegisteredAtMs >= latest.RegisteredAtMs {
			latest = &item
		}
	}
	if latest == nil {
		return nil, nil
	}
	return photoFromItem(userID, latest)
}

func photoFromItem(userID string, item *photoItem) (*model.SubjectPhoto, error) {
	data, err := decompress(item.Payload)
	if err != nil {
		return nil, fmt.Errorf("subject photo %s: %w", item.ID, err)
	}
	photo := item.SubjectPhoto
	photo.UserID = userID
	photo.Data = data
	photo.RegisteredAt = time.UnixMilli(item.RegisteredAtMs).UTC()
	return &photo, nil
}

// --- Results ---

func (s *DynamoStore) PutResult(ctx context.Context, result *model.TryOnResult) error {
	if result.ID == "" || result.UserID == "" {
		return fmt.Errorf("result requires id and user id")
	}

	raw, err := json.Marshal(NewResultRecord(result))
	if err != nil {
		return fmt.Errorf("marshal result record: %w", err)
	}
	payload := compress(raw)
	if len(payload) > maxPayloadBytes {
		return model.Errorf(model.KindValidation, "store result", "compressed record is %d bytes, limit is %d; configure an image bucket", len(payload), maxPayloadBytes)
	}

	item := resultItem{
		ID:               result.ID,
		CreatedAtMs:      result.Timestamp.UnixMilli(),
		Category:         result.Garment.Category,
		ProcessingMethod: result.ProcessingMethod,
		QualityScore:     result.QualityScore,
		Payload:          payload,
	}
	if err := s.putItem(ctx, userPK(result.UserID), skResult+result.ID, item); err != nil {
		return fmt.Errorf("put result: %w", err)
	}

	log.Debug().
		Str("user_id", result.UserID).
		Str("result_id", result.ID).
		Int("raw_bytes", len(raw)).
		Int("payload_bytes", len(payload)).
		Msg("Result stored")

	return s.evictHistory(ctx, result.UserID)
}

// evictHistory deletes the user's oldest results beyond the history limit.
func (s *DynamoStore) evictHistory(ctx context.Context, userID string) error {
	items, err := s.queryBySKPrefix(ctx, userID, skResult)
	if err != nil {
		return fmt.Errorf("evict history: %w", err)
	}
	limit := historyLimit(s.historyLimit)
	if len(items) <= limit {
		return nil
	}

	sortItemsNewestFirst(items)

	keys := make([]map[string]types.AttributeValue, 0, len(items)-limit)
	for _, it := range items[limit:] {
		keys = append(keys, map[string]types.AttributeValue{"PK": it["PK"], "SK": it["SK"]})
	}
	log.Info().Str("user_id", userID).Int("evicted", len(keys)).Msg("Evicting oldest results beyond history limit")
	return s.batchDeleteKeys(ctx, keys)
}

func (s *DynamoStore) GetResult(ctx context.Context, userID, resultID string) (*model.TryOnResult, error) {
	var item resultItem
	found, err := s.getItem(ctx, userPK(userID), skResult+resultID, &item)
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	if !found {
		return nil, nil
	}
	return resultFromItem(&item)
}

func (s *DynamoStore) ListResults(ctx context.Context, userID string, limit int) ([]*model.TryOnResult, error) {
	items, err := s.queryBySKPrefix(ctx, userID, skResult)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	sortItemsNewestFirst(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	out := make([]*model.TryOnResult, 0, len(items))
	for _, raw := range items {
		var item resultItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		r, err := resultFromItem(&item)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func resultFromItem(item *resultItem) (*model.TryOnResult, error) {
	raw, err := decompress(item.Payload)
	if err != nil {
		return nil, fmt.Errorf("result %s: %w", item.ID, err)
	}
	var rec ResultRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("result %s: invalid record: %w", item.ID, err)
	}
	return rec.Result(), nil
}

// sortItemsNewestFirst orders raw result items by createdAtMs descending,
// then SK ascending.
func sortItemsNewestFirst(items []map[string]types.AttributeValue) {
	created := func(it map[string]types.AttributeValue) int64 {
		if n, ok := it["createdAtMs"].(*types.AttributeValueMemberN); ok {
			v, _ := strconv.ParseInt(n.Value, 10, 64)
			return v
		}
		return 0
	}
	sk := func(it map[string]types.AttributeValue) string {
		if s, ok := it["SK"].(*types.AttributeValueMemberS); ok {
			return s.Value
		}
		return ""
	}
	sort.SliceStable(items, func(i, j int) bool {
		ci, cj := created(items[i]), created(items[j])
		if ci != cj {
			return ci > cj
		}
		return sk(items[i]) < sk(items[j])
	})
}

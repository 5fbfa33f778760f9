/**
 * Qdrant Vector Database Client for the ReportScan Worker
 *
 * Indexes the 13-feature classifier vectors of accepted reports so similar
 * patients can be looked up. Uses Qdrant's native gRPC API.
 */

package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// FeatureVectorSize is the length of a classifier feature vector.
const FeatureVectorSize = 13

// QdrantClient handles vector database operations
type QdrantClient struct {
	client           qdrant.PointsClient
	collectionClient qdrant.CollectionsClient
	conn             *grpc.ClientConn
	collectionName   string
	vectorSize       int
}

// VectorPoint represents a vector with metadata
type VectorPoint struct {
	ID        string
	Vector    []float32
	Metadata  map[string]interface{}
	Score     float32
	Timestamp int64
}

// NewQdrantClient connects to address (host:port or an http(s) URL) and
// makes sure the collection exists.
func NewQdrantClient(address string, collectionName string) (*QdrantClient, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}

	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	conn, err := grpc.Dial(grpcTarget(address), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	qc := &QdrantClient{
		client:           qdrant.NewPointsClient(conn),
		collectionClient: qdrant.NewCollectionsClient(conn),
		conn:             conn,
		collectionName:   collectionName,
		vectorSize:       FeatureVectorSize,
	}

	if err := qc.ensureCollection(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return qc, nil
}

// grpcTarget strips an http scheme and path so REST-style URLs can be used.
func grpcTarget(address string) string {
	target := strings.TrimPrefix(strings.TrimPrefix(address, "http://"), "https://")
	if i := strings.Index(target, "/"); i >= 0 {
		target = target[:i]
	}
	return target
}

// ensureCollection creates the collection if it doesn't exist
func (q *QdrantClient) ensureCollection(ctx context.Context) error {
	listResp, err := q.collectionClient.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == q.collectionName {
			return nil
		}
	}

	// Features are raw clinical values, so distance rather than angle
	// separates patients.
	_, err = q.collectionClient.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(q.vectorSize),
					Distance: qdrant.Distance_Euclid,
				},
			},
		},
	})

	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

func (q *QdrantClient) checkDimensions(vector []float32) error {
	if len(vector) != q.vectorSize {
		return fmt.Errorf("invalid vector dimensions: expected %d, got %d", q.vectorSize, len(vector))
	}
	return nil
}

// UpsertVector stores or updates a vector point in Qdrant
func (q *QdrantClient) UpsertVector(ctx context.Context, point *VectorPoint) error {
	if point == nil {
		return fmt.Errorf("point is required")
	}

	if err := q.checkDimensions(point.Vector); err != nil {
		return err
	}

	if point.ID == "" {
		point.ID = uuid.New().String()
	}

	payload := toPayload(point.Metadata)
	if point.Timestamp > 0 {
		payload["timestamp"] = &qdrant.Value{
			Kind: &qdrant.Value_IntegerValue{IntegerValue: point.Timestamp},
		}
	}

	pointStruct := &qdrant.PointStruct{
		Id: uuidPointID(point.ID),
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vector{
				Vector: &qdrant.Vector{
					Data: point.Vector,
				},
			},
		},
		Payload: payload,
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Points:         []*qdrant.PointStruct{pointStruct},
	})

	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}

	return nil
}

// SearchVectors returns the nearest points, closest first.
func (q *QdrantClient) SearchVectors(ctx context.Context, queryVector []float32, limit int) ([]*VectorPoint, error) {
	if err := q.checkDimensions(queryVector); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 10
	}

	searchReq := &qdrant.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         queryVector,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{
				Enable: true,
			},
		},
	}

	results, err := q.client.Search(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	points := make([]*VectorPoint, 0, len(results.Result))
	for _, result := range results.Result {
		point := &VectorPoint{
			Metadata: fromPayload(result.Payload),
			Score:    result.Score,
		}
		if result.Id != nil {
			point.ID = result.Id.GetUuid()
		}
		points = append(points, point)
	}

	return points, nil
}

// GetVector retrieves a vector by ID
func (q *QdrantClient) GetVector(ctx context.Context, pointID string) (*VectorPoint, error) {
	if pointID == "" {
		return nil, fmt.Errorf("point ID is required")
	}

	getReq := &qdrant.GetPoints{
		CollectionName: q.collectionName,
		Ids:            []*qdrant.PointId{uuidPointID(pointID)},
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{
				Enable: true,
			},
		},
		WithVectors: &qdrant.WithVectorsSelector{
			SelectorOptions: &qdrant.WithVectorsSelector_Enable{
				Enable: true,
			},
		},
	}

	results, err := q.client.Get(ctx, getReq)
	if err != nil {
		return nil, fmt.Errorf("failed to get vector: %w", err)
	}

	if len(results.Result) == 0 {
		return nil, fmt.Errorf("vector not found: %s", pointID)
	}

	result := results.Result[0]
	point := &VectorPoint{
		ID:       pointID,
		Metadata: fromPayload(result.Payload),
	}
	if result.Vectors != nil {
		if vec := result.Vectors.GetVector(); vec != nil {
			point.Vector = vec.Data
		}
	}

	return point, nil
}

// DeleteVector removes a vector by ID
func (q *QdrantClient) DeleteVector(ctx context.Context, pointID string) error {
	if pointID == "" {
		return fmt.Errorf("point ID is required")
	}

	deleteReq := &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{uuidPointID(pointID)},
				},
			},
		},
	}

	if _, err := q.client.Delete(ctx, deleteReq); err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}

	return nil
}

// GetCollectionInfo returns collection statistics
func (q *QdrantClient) GetCollectionInfo(ctx context.Context) (map[string]interface{}, error) {
	info, err := q.collectionClient.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.collectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	return map[string]interface{}{
		"collection_name": q.collectionName,
		"vector_size":     q.vectorSize,
		"vectors_count":   info.Result.GetVectorsCount(),
		"points_count":    info.Result.GetPointsCount(),
		"indexed_vectors": info.Result.GetIndexedVectorsCount(),
		"status":          info.Result.GetStatus().String(),
	}, nil
}

// Close closes the Qdrant client connection
func (q *QdrantClient) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func uuidPointID(id string) *qdrant.PointId {
	return &qdrant.PointId{
		PointIdOptions: &qdrant.PointId_Uuid{Uuid: id},
	}
}

// toPayload converts metadata to Qdrant values. Unknown types are stored
// as their string form.
func toPayload(metadata map[string]interface{}) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
		}
	}
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	metadata := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if v == nil {
			continue
		}
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			metadata[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			metadata[k] = val.BoolValue
		}
	}
	return metadata
}

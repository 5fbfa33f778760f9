package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	qdrant "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/reportscan-worker/internal/logging"
)

type fakeResultStore struct {
	insertErr error
	inserted  []*ResultRecord
	results   map[string]*ResultRecord
	jobs      map[string]map[string]interface{}
}

func (f *fakeResultStore) UpdateJobStatus(ctx context.Context, update *JobUpdate) error { return nil }

func (f *fakeResultStore) InsertResult(ctx context.Context, rec *ResultRecord) (time.Time, error) {
	if f.insertErr != nil {
		return time.Time{}, f.insertErr
	}
	f.inserted = append(f.inserted, rec)
	if f.results == nil {
		f.results = map[string]*ResultRecord{}
	}
	f.results[rec.ID] = rec
	return time.Unix(1700000000, 0), nil
}

func (f *fakeResultStore) GetResult(ctx context.Context, resultID string) (*ResultRecord, error) {
	rec, ok := f.results[resultID]
	if !ok {
		return nil, fmt.Errorf("%w: extraction result %s", ErrNotFound, resultID)
	}
	return rec, nil
}

func (f *fakeResultStore) GetLatestResultForJob(ctx context.Context, jobID string) (*ResultRecord, error) {
	var latest *ResultRecord
	for _, rec := range f.inserted {
		if rec.JobID == jobID {
			latest = rec
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no extraction result for job %s", ErrNotFound, jobID)
	}
	return latest, nil
}

func (f *fakeResultStore) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	return job, nil
}

func (f *fakeResultStore) GetStats() sql.DBStats { return sql.DBStats{OpenConnections: 2, InUse: 1} }

func (f *fakeResultStore) Ping(ctx context.Context) error { return nil }

func (f *fakeResultStore) Close() error { return nil }

type fakeVectorIndex struct {
	points  map[string]*VectorPoint
	deleted []string
	hits    []*VectorPoint
}

func (f *fakeVectorIndex) UpsertVector(ctx context.Context, point *VectorPoint) error {
	if f.points == nil {
		f.points = map[string]*VectorPoint{}
	}
	f.points[point.ID] = point
	return nil
}

func (f *fakeVectorIndex) SearchVectors(ctx context.Context, queryVector []float32, limit int) ([]*VectorPoint, error) {
	return f.hits, nil
}

func (f *fakeVectorIndex) DeleteVector(ctx context.Context, pointID string) error {
	f.deleted = append(f.deleted, pointID)
	delete(f.points, pointID)
	return nil
}

func (f *fakeVectorIndex) Close() error { return nil }

func newTestManager(pg *fakeResultStore, vi *fakeVectorIndex) *StorageManager {
	sm := &StorageManager{postgres: pg, logger: logging.NewLogger("StorageManagerTest")}
	if vi != nil {
		sm.qdrant = vi
	}
	return sm
}

func features() []float32 {
	return []float32{54, 1, 2, 130, 246, 0, 1, 150, 0, 1.5, 2, 1, 3}
}

func TestStoreOutcomeIndexesAcceptedReports(t *testing.T) {
	pg := &fakeResultStore{}
	vi := &fakeVectorIndex{}
	sm := newTestManager(pg, vi)

	out, err := sm.StoreOutcome(context.Background(), &OutcomeInput{
		JobID:      "6f1c7c7e-4a9e-4d59-9d0a-3b0f1f3f6b11",
		Success:    true,
		Parameters: map[string]float64{"age": 54},
		Features:   features(),
	})
	require.NoError(t, err)

	require.Len(t, pg.inserted, 1)
	assert.Equal(t, out.ResultID, pg.inserted[0].ID)
	assert.Equal(t, out.QdrantPointID, pg.inserted[0].QdrantPointID)

	point, ok := vi.points[out.QdrantPointID]
	require.True(t, ok)
	assert.Equal(t, out.ResultID, point.Metadata["result_id"])
}

func TestStoreOutcomeRemovesVectorWhenInsertFails(t *testing.T) {
	pg := &fakeResultStore{insertErr: fmt.Errorf("connection reset")}
	vi := &fakeVectorIndex{}
	sm := newTestManager(pg, vi)

	_, err := sm.StoreOutcome(context.Background(), &OutcomeInput{JobID: "job", Features: features()})
	require.Error(t, err)

	assert.Len(t, vi.deleted, 1)
	assert.Empty(t, vi.points)
}

func TestStoreOutcomeWithoutFeaturesSkipsIndex(t *testing.T) {
	pg := &fakeResultStore{}
	vi := &fakeVectorIndex{}
	sm := newTestManager(pg, vi)

	out, err := sm.StoreOutcome(context.Background(), &OutcomeInput{JobID: "job", Code: "NO_TEXT_EXTRACTED"})
	require.NoError(t, err)

	assert.Empty(t, out.QdrantPointID)
	assert.Empty(t, vi.points)
}

func TestStoreOutcomeRejectsWrongDimensions(t *testing.T) {
	sm := newTestManager(&fakeResultStore{}, nil)

	_, err := sm.StoreOutcome(context.Background(), &OutcomeInput{JobID: "job", Features: []float32{1, 2}})
	assert.Error(t, err)

	_, err = sm.StoreOutcome(context.Background(), &OutcomeInput{})
	assert.Error(t, err)
}

func TestFindSimilarJoinsOutcomes(t *testing.T) {
	pg := &fakeResultStore{results: map[string]*ResultRecord{
		"r1": {ID: "r1", JobID: "j1", Parameters: map[string]float64{"age": 60}},
	}}
	vi := &fakeVectorIndex{hits: []*VectorPoint{
		{ID: "p1", Score: 1.5, Metadata: map[string]interface{}{"result_id": "r1"}},
		{ID: "p2", Score: 2.5, Metadata: map[string]interface{}{"result_id": "gone"}},
		{ID: "p3", Score: 3.5, Metadata: map[string]interface{}{}},
	}}
	sm := newTestManager(pg, vi)

	got, err := sm.FindSimilar(context.Background(), features(), 5)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "j1", got[0].JobID)
	assert.Equal(t, float32(1.5), got[0].Distance)
}

func TestLatestResultForJob(t *testing.T) {
	const jobID = "6f1c7c7e-4a9e-4d59-9d0a-3b0f1f3f6b11"
	pg := &fakeResultStore{jobs: map[string]map[string]interface{}{jobID: {"id": jobID, "status": "completed"}}}
	sm := newTestManager(pg, nil)
	ctx := context.Background()

	_, err := sm.StoreOutcome(ctx, &OutcomeInput{JobID: jobID, Code: "NO_TEXT_EXTRACTED"})
	require.NoError(t, err)
	second, err := sm.StoreOutcome(ctx, &OutcomeInput{JobID: jobID, Success: true, Parameters: map[string]float64{"age": 54}})
	require.NoError(t, err)

	latest, err := sm.GetLatestResultForJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, second.ResultID, latest.ID)

	job, err := sm.GetJobByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "completed", job["status"])

	_, err = sm.GetLatestResultForJob(ctx, "7a2d9f0e-1111-4c2b-8d3e-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = sm.GetJobByID(ctx, "7a2d9f0e-1111-4c2b-8d3e-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 2, sm.DBStats().OpenConnections)
}

func TestFindSimilarWithoutIndex(t *testing.T) {
	_, err := newTestManager(&fakeResultStore{}, nil).FindSimilar(context.Background(), features(), 5)
	assert.Error(t, err)
}

func TestPayloadConversion(t *testing.T) {
	payload := toPayload(map[string]interface{}{
		"job_id": "j1",
		"count":  3,
		"score":  0.5,
		"ok":     true,
		"other":  []int{1},
	})

	assert.Equal(t, "j1", payload["job_id"].GetStringValue())
	assert.Equal(t, int64(3), payload["count"].GetIntegerValue())
	assert.Equal(t, "[1]", payload["other"].GetStringValue())

	back := fromPayload(payload)
	assert.Equal(t, "j1", back["job_id"])
	assert.Equal(t, int64(3), back["count"])
	assert.Equal(t, 0.5, back["score"])
	assert.Equal(t, true, back["ok"])

	assert.Empty(t, fromPayload(map[string]*qdrant.Value{"nil": nil}))
}

func TestGRPCTarget(t *testing.T) {
	assert.Equal(t, "qdrant:6334", grpcTarget("qdrant:6334"))
	assert.Equal(t, "qdrant:6334", grpcTarget("http://qdrant:6334"))
	assert.Equal(t, "localhost:6334", grpcTarget("https://localhost:6334/collections"))
}

func TestJobMetadataColumns(t *testing.T) {
	filename, mimeType, userID, size := jobMetadataColumns(map[string]interface{}{
		"filename": "ecg.png",
		"mimeType": "image/png",
		"userId":   "u-7",
		"fileSize": float64(2048),
	})

	assert.Equal(t, "ecg.png", filename)
	assert.Equal(t, "image/png", mimeType)
	assert.Equal(t, "u-7", userID)
	assert.Equal(t, int64(2048), size)

	filename, _, _, size = jobMetadataColumns(nil)
	assert.Empty(t, filename)
	assert.Zero(t, size)
}

func TestSanitizeTextForPostgres(t *testing.T) {
	assert.Equal(t, "ab", sanitizeTextForPostgres("a\x00b"))
	assert.Equal(t, "a b", sanitizeTextForPostgres("a\x07b"))
	assert.Equal(t, "line1\nline2\tx\r", sanitizeTextForPostgres("line1\nline2\tx\r"))
	assert.Equal(t, `C:\u0001 report`, sanitizeTextForPostgres(`C:\u0001 report`))
}

func TestSanitizeValueForPostgres(t *testing.T) {
	metadata := map[string]interface{}{
		"filename": `scans\u0001.png`,
		"note":     "bad\x00\x01byte",
		"pages":    []interface{}{"p\x02", 2},
		"nested":   map[string]interface{}{"ocr": "x\x1fy"},
		"size":     int64(10),
	}

	data, err := json.Marshal(sanitizeValueForPostgres(metadata))
	require.NoError(t, err)
	require.True(t, json.Valid(data))
	assert.NotContains(t, string(data), `\u0000`)

	var back map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, `scans\u0001.png`, back["filename"])
	assert.Equal(t, "bad byte", back["note"])
	assert.Equal(t, []interface{}{"p ", float64(2)}, back["pages"])
	assert.Equal(t, map[string]interface{}{"ocr": "x y"}, back["nested"])
	assert.Equal(t, float64(10), back["size"])

	assert.Nil(t, sanitizeValueForPostgres(nil))
	assert.Equal(t, []string{"a b"}, sanitizeValueForPostgres([]string{"a\x03b"}))
}

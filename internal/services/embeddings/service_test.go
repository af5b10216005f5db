package embeddings

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	badgerstore "github.com/ternarybob/specto/internal/storage/badger"
)

// fakeBatchProvider returns fixed-size vectors and records every call.
type fakeBatchProvider struct {
	dimension int
	err       error
	calls     [][]string
}

func (f *fakeBatchProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, append([]string(nil), texts...))
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = make([]float32, f.dimension)
	}
	return vectors, nil
}

func (f *fakeBatchProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeBatchProvider) SupportsBatch() bool { return true }
func (f *fakeBatchProvider) isProvider()         {}

// fakeItemProvider embeds one text per call with an optional per-call hook.
type fakeItemProvider struct {
	dimension int
	calls     []string
	onCall    func(callCount int)
}

func (f *fakeItemProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	f.calls = append(f.calls, text)
	if f.onCall != nil {
		f.onCall(len(f.calls))
	}
	return make([]float32, f.dimension), nil
}

func (f *fakeItemProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vector, err := f.EmbedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}

func (f *fakeItemProvider) SupportsBatch() bool { return false }
func (f *fakeItemProvider) isProvider()         {}

type recordingBroadcaster struct {
	events []*models.JobEvent
}

func (r *recordingBroadcaster) BroadcastJobEvent(event *models.JobEvent) {
	r.events = append(r.events, event)
}

type serviceFixture struct {
	svc     *Service
	storage interfaces.StorageManager
	server  *models.MediaServer
}

func setupServiceTest(t *testing.T, provider Provider, mutate func(*models.MediaServer)) *serviceFixture {
	t.Helper()
	logger := arbor.NewLogger()
	storage, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	server := models.NewMediaServer("test-server", "http://media.local", "media-key")
	server.EmbeddingProvider = models.EmbeddingProviderOpenAICompatible
	server.EmbeddingBaseURL = "https://api.example.com/v1"
	server.EmbeddingAPIKey = "test-key"
	server.EmbeddingModel = "text-embedding-3-small"
	server.EmbeddingDimensions = 8
	server.AutoGenerateEmbeddings = true
	if mutate != nil {
		mutate(server)
	}
	require.NoError(t, storage.ServerStorage().StoreServer(context.Background(), server))

	cfg := &common.EmbeddingConfig{
		BatchSize:         100,
		SubBatchSize:      20,
		BatchDelayMs:      1,
		ItemDelayMs:       1,
		HeartbeatSeconds:  30,
		StopCheckItems:    10,
		MaxIndexDimension: 2000,
	}
	provisioner := NewIndexProvisioner(storage.VectorIndexStorage(), cfg.MaxIndexDimension, logger)
	svc := NewService(storage, provisioner, nil, cfg, logger)
	svc.newProvider = func(ProviderConfig) (Provider, error) { return provider, nil }

	return &serviceFixture{svc: svc, storage: storage, server: server}
}

// seedItems stores eligible items for the fixture server. The trailing
// emptyText items carry no metadata beyond their type, so they sort last
// and yield empty embedding text.
func seedItems(t *testing.T, f *serviceFixture, total, emptyText int) {
	t.Helper()
	items := make([]*models.MediaItem, 0, total)
	for i := 0; i < total; i++ {
		item := &models.MediaItem{
			Key:      models.MediaKey(f.server.ID, fmt.Sprintf("item-%03d", i)),
			ID:       fmt.Sprintf("item-%03d", i),
			ServerID: f.server.ID,
			Type:     models.ItemTypeMovie,
		}
		if i < total-emptyText {
			item.Name = fmt.Sprintf("Feature %03d", i)
			item.Overview = "A film about things happening."
		}
		items = append(items, item)
	}
	require.NoError(t, f.storage.MediaStorage().StoreItems(context.Background(), items))
}

func TestGenerateSplitsSubBatches(t *testing.T) {
	provider := &fakeBatchProvider{dimension: 8}
	f := setupServiceTest(t, provider, nil)
	seedItems(t, f, 100, 5)
	ctx := context.Background()

	require.NoError(t, f.storage.JobResultStorage().StoreResult(ctx, models.NewJobResult("job-emb-1", models.JobNameEmbeddingSync)))

	summary, err := f.svc.Generate(ctx, "job-emb-1", f.server.ID, false)
	require.NoError(t, err)

	// 95 texts reach the provider across 5 sub-batches; the 5 items with
	// no metadata are skipped without a provider call.
	sizes := make([]int, 0, len(provider.calls))
	for _, call := range provider.calls {
		sizes = append(sizes, len(call))
	}
	assert.Equal(t, []int{20, 20, 20, 20, 15}, sizes)

	assert.Equal(t, 95, summary.Processed)
	assert.Equal(t, 5, summary.Skipped)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, 0, summary.Remaining)
	assert.False(t, summary.Stopped)

	embedded, err := f.storage.MediaStorage().GetItem(ctx, models.MediaKey(f.server.ID, "item-000"))
	require.NoError(t, err)
	assert.True(t, embedded.Processed)
	assert.Len(t, embedded.Embedding, 8)

	skipped, err := f.storage.MediaStorage().GetItem(ctx, models.MediaKey(f.server.ID, "item-099"))
	require.NoError(t, err)
	assert.True(t, skipped.Processed, "skipped items are not refetched")
	assert.Empty(t, skipped.Embedding)

	index, err := f.storage.VectorIndexStorage().GetIndexByDimension(ctx, 8)
	require.NoError(t, err)
	require.NotNil(t, index, "a run that wrote vectors provisions its dimension")

	stored, err := f.storage.JobResultStorage().GetResult(ctx, "job-emb-1")
	require.NoError(t, err)
	require.NotNil(t, stored.LastHeartbeatTime(), "the run heartbeats into its result row")
	assert.EqualValues(t, 20, stored.Payload["processed"], "the first heartbeat carries progress counters")
}

func TestGenerateDimensionMismatchRaisedOnce(t *testing.T) {
	// The server expects 8-dimension vectors; the provider returns 16.
	provider := &fakeBatchProvider{dimension: 16}
	f := setupServiceTest(t, provider, nil)
	seedItems(t, f, 50, 0)
	ctx := context.Background()

	summary, err := f.svc.Generate(ctx, "job-emb-2", f.server.ID, false)
	require.Error(t, err)

	var mismatch *DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 16, mismatch.Actual)
	assert.Contains(t, err.Error(), "update dimension setting to 16")

	assert.Len(t, provider.calls, 1, "the run aborts at the first sub-batch boundary")
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 50, summary.Remaining, "mismatched items stay unprocessed for the run after the fix")

	server, err := f.storage.ServerStorage().GetServer(ctx, f.server.ID)
	require.NoError(t, err)
	assert.False(t, server.EmbeddingStopRequested)
}

func TestGenerateStopFlagHonoredAndCleared(t *testing.T) {
	provider := &fakeBatchProvider{dimension: 8}
	f := setupServiceTest(t, provider, nil)
	seedItems(t, f, 10, 0)
	ctx := context.Background()

	require.NoError(t, f.storage.ServerStorage().SetEmbeddingStopRequested(ctx, f.server.ID, true))

	summary, err := f.svc.Generate(ctx, "job-emb-3", f.server.ID, true)
	require.NoError(t, err)
	assert.True(t, summary.Stopped)
	assert.Empty(t, provider.calls)
	assert.Equal(t, 10, summary.Remaining)

	server, err := f.storage.ServerStorage().GetServer(ctx, f.server.ID)
	require.NoError(t, err)
	assert.False(t, server.EmbeddingStopRequested, "the stop flag never leaks into the next run")
}

func TestGeneratePerItemStopCadence(t *testing.T) {
	provider := &fakeItemProvider{dimension: 8}
	f := setupServiceTest(t, provider, func(s *models.MediaServer) {
		s.EmbeddingProvider = models.EmbeddingProviderOllama
		s.EmbeddingBaseURL = "http://localhost:11434"
		s.EmbeddingAPIKey = ""
		s.EmbeddingModel = "nomic-embed-text"
	})
	seedItems(t, f, 30, 0)
	ctx := context.Background()

	// The stop request lands mid-run; the per-item loop only polls the
	// flag every 10 items.
	provider.onCall = func(callCount int) {
		if callCount == 3 {
			require.NoError(t, f.storage.ServerStorage().SetEmbeddingStopRequested(ctx, f.server.ID, true))
		}
	}

	summary, err := f.svc.Generate(ctx, "job-emb-4", f.server.ID, false)
	require.NoError(t, err)
	assert.True(t, summary.Stopped)
	assert.Equal(t, 10, summary.Processed, "the run finishes the current poll window before stopping")
	assert.Equal(t, 20, summary.Remaining)

	server, err := f.storage.ServerStorage().GetServer(ctx, f.server.ID)
	require.NoError(t, err)
	assert.False(t, server.EmbeddingStopRequested)
}

func TestGenerateScheduledRunRespectsAutoFlag(t *testing.T) {
	provider := &fakeBatchProvider{dimension: 8}
	f := setupServiceTest(t, provider, func(s *models.MediaServer) {
		s.AutoGenerateEmbeddings = false
	})
	seedItems(t, f, 5, 0)
	ctx := context.Background()

	summary, err := f.svc.Generate(ctx, "job-emb-5", f.server.ID, false)
	require.NoError(t, err)
	assert.True(t, summary.Stopped)
	assert.Empty(t, provider.calls, "a scheduled run does nothing while automatic generation is off")

	summary, err = f.svc.Generate(ctx, "job-emb-6", f.server.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Processed, "a manual start ignores the automatic flag")
}

func TestGenerateIncompleteConfigFailsFast(t *testing.T) {
	provider := &fakeBatchProvider{dimension: 8}
	f := setupServiceTest(t, provider, func(s *models.MediaServer) {
		s.EmbeddingModel = ""
	})
	seedItems(t, f, 5, 0)

	_, err := f.svc.Generate(context.Background(), "job-emb-7", f.server.ID, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding configuration incomplete")
	assert.Empty(t, provider.calls)
}

func TestGenerateFatalProviderErrorAborts(t *testing.T) {
	provider := &fakeBatchProvider{dimension: 8, err: ErrRateLimited}
	f := setupServiceTest(t, provider, nil)
	seedItems(t, f, 30, 0)

	summary, err := f.svc.Generate(context.Background(), "job-emb-8", f.server.ID, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Len(t, provider.calls, 1, "a rate limit is not retried within the run")
	assert.Equal(t, 0, summary.Processed)
}

func TestGenerateUnrecognizedErrorsDoNotSpin(t *testing.T) {
	provider := &fakeBatchProvider{dimension: 8, err: errors.New("connection reset by peer")}
	f := setupServiceTest(t, provider, nil)
	seedItems(t, f, 25, 0)

	summary, err := f.svc.Generate(context.Background(), "job-emb-9", f.server.ID, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no progress")
	assert.Len(t, provider.calls, 2, "every sub-batch is attempted before the batch is abandoned")
	assert.Equal(t, 25, summary.Errors)
}

func TestGenerateMissingServer(t *testing.T) {
	provider := &fakeBatchProvider{dimension: 8}
	f := setupServiceTest(t, provider, nil)

	_, err := f.svc.Generate(context.Background(), "job-emb-10", "no-such-server", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrServerNotFound))
}

func TestGenerateBroadcastsCacheInvalidation(t *testing.T) {
	provider := &fakeBatchProvider{dimension: 8}
	f := setupServiceTest(t, provider, nil)
	rec := &recordingBroadcaster{}
	f.svc.broadcaster = rec
	seedItems(t, f, 3, 0)

	_, err := f.svc.Generate(context.Background(), "job-emb-11", f.server.ID, true)
	require.NoError(t, err)

	require.Len(t, rec.events, 1)
	assert.Equal(t, models.JobEventEmbeddingsUpdated, rec.events[0].Type)
	assert.Equal(t, f.server.ID, rec.events[0].ServerID)
	assert.Equal(t, 3, rec.events[0].Data["processed"])
}

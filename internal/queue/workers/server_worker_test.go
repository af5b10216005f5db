package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/mediaserver"
	"github.com/ternarybob/specto/internal/models"
	badgerstore "github.com/ternarybob/specto/internal/storage/badger"
)

// fakeMediaClient answers GetSystemInfo from canned data; the sync-oriented
// calls are never reached by the add-server path.
type fakeMediaClient struct {
	info *mediaserver.SystemInfo
	err  error
}

func (f *fakeMediaClient) GetSystemInfo(ctx context.Context) (*mediaserver.SystemInfo, error) {
	return f.info, f.err
}

func (f *fakeMediaClient) GetUsers(ctx context.Context) ([]mediaserver.User, error) {
	return nil, nil
}

func (f *fakeMediaClient) GetLibraries(ctx context.Context) ([]mediaserver.Library, error) {
	return nil, nil
}

func (f *fakeMediaClient) GetLibraryItems(ctx context.Context, libraryID string) ([]mediaserver.Item, error) {
	return nil, nil
}

func (f *fakeMediaClient) GetActivityLog(ctx context.Context) ([]mediaserver.Activity, error) {
	return nil, nil
}

func (f *fakeMediaClient) GetPlayedItems(ctx context.Context, userID string) ([]mediaserver.Item, error) {
	return nil, nil
}

type serverWorkerFixture struct {
	worker  *ServerWorker
	servers interfaces.ServerStorage
	client  *fakeMediaClient

	// connection settings the factory was handed
	dialedURL string
	dialedKey string
}

func setupServerWorkerTest(t *testing.T, client *fakeMediaClient) *serverWorkerFixture {
	t.Helper()
	logger := arbor.NewLogger()

	storage, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	f := &serverWorkerFixture{servers: storage.ServerStorage(), client: client}
	factory := func(baseURL, apiKey string) mediaserver.Client {
		f.dialedURL, f.dialedKey = baseURL, apiKey
		return client
	}
	f.worker = NewServerWorker(f.servers, factory, logger)
	return f
}

func addServerJob(payload map[string]interface{}) *models.Job {
	return models.NewJob(models.JobNameAddServer, payload, nil)
}

func TestServerWorker_Execute(t *testing.T) {
	f := setupServerWorkerTest(t, &fakeMediaClient{
		info: &mediaserver.SystemInfo{ServerName: "Living Room", Version: "10.9.2"},
	})
	ctx := context.Background()

	payload, err := f.worker.Execute(ctx, addServerJob(map[string]interface{}{
		models.PayloadServerName: "home",
		models.PayloadBaseURL:    "http://jellyfin.local:8096",
		models.PayloadAPIKey:     "key-123",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://jellyfin.local:8096", f.dialedURL)
	assert.Equal(t, "key-123", f.dialedKey)
	assert.Equal(t, "Living Room", payload["remote_name"])
	assert.Equal(t, "10.9.2", payload["remote_version"])

	serverID, ok := payload[models.PayloadServerID].(string)
	require.True(t, ok)
	server, err := f.servers.GetServer(ctx, serverID)
	require.NoError(t, err)
	assert.Equal(t, "home", server.Name)
	assert.Equal(t, "http://jellyfin.local:8096", server.BaseURL)
	assert.Equal(t, "key-123", server.APIKey)
	assert.False(t, server.AutoGenerateEmbeddings)
}

func TestServerWorker_ConnectionFailure(t *testing.T) {
	f := setupServerWorkerTest(t, &fakeMediaClient{err: errors.New("dial tcp: connection refused")})
	ctx := context.Background()

	_, err := f.worker.Execute(ctx, addServerJob(map[string]interface{}{
		models.PayloadServerName: "home",
		models.PayloadBaseURL:    "http://jellyfin.local:8096",
		models.PayloadAPIKey:     "key-123",
	}))
	assert.ErrorContains(t, err, "failed to connect to media server")

	servers, listErr := f.servers.GetAllServers(ctx)
	require.NoError(t, listErr)
	assert.Empty(t, servers, "an unreachable server is never persisted")
}

func TestServerWorker_EmbeddingConfig(t *testing.T) {
	f := setupServerWorkerTest(t, &fakeMediaClient{info: &mediaserver.SystemInfo{ServerName: "x"}})
	ctx := context.Background()

	payload, err := f.worker.Execute(ctx, addServerJob(map[string]interface{}{
		models.PayloadServerName:   "home",
		models.PayloadBaseURL:      "http://jellyfin.local:8096",
		models.PayloadAPIKey:       "key-123",
		"embedding_provider":       "openai",
		"embedding_base_url":       "http://ollama.local:11434",
		"embedding_api_key":        "embed-key",
		"embedding_model":          "nomic-embed-text",
		"embedding_dimensions":     768,
		"auto_generate_embeddings": true,
	}))
	require.NoError(t, err)

	server, err := f.servers.GetServer(ctx, payload[models.PayloadServerID].(string))
	require.NoError(t, err)
	assert.Equal(t, models.EmbeddingProviderOpenAICompatible, server.EmbeddingProvider, "legacy provider names are normalized")
	assert.Equal(t, "http://ollama.local:11434", server.EmbeddingBaseURL)
	assert.Equal(t, "nomic-embed-text", server.EmbeddingModel)
	assert.Equal(t, 768, server.EmbeddingDimensions)
	assert.True(t, server.AutoGenerateEmbeddings)
	assert.True(t, server.HasCompleteEmbeddingConfig())
}

func TestServerWorker_Validate(t *testing.T) {
	f := setupServerWorkerTest(t, &fakeMediaClient{})

	complete := map[string]interface{}{
		models.PayloadServerName: "home",
		models.PayloadBaseURL:    "http://jellyfin.local:8096",
		models.PayloadAPIKey:     "key-123",
	}
	assert.NoError(t, f.worker.Validate(addServerJob(complete)))

	for _, missing := range []string{models.PayloadServerName, models.PayloadBaseURL, models.PayloadAPIKey} {
		partial := map[string]interface{}{}
		for k, v := range complete {
			if k != missing {
				partial[k] = v
			}
		}
		assert.ErrorContains(t, f.worker.Validate(addServerJob(partial)), missing)
	}
}

package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/virsalabs/virsa-core/internal/config"
)

const assetsCacheKey = "model-assets"

// Metadata is the model metadata document published next to the topology.
type Metadata struct {
	ModelName string   `json:"modelName"`
	ImageSize int      `json:"imageSize"`
	Labels    []string `json:"labels"`
}

// Assets bundles the fetched model topology and its metadata.
type Assets struct {
	Topology []byte
	Metadata Metadata
}

// AssetFetcher downloads the model topology and metadata from the configured
// URLs. Results are held in a session-lifetime cache so the model is never
// re-fetched per frame; Flush drops the cache when the classifier closes.
type AssetFetcher struct {
	cfg     config.ClassifierConfig
	timeout time.Duration
	cache   *gocache.Cache
	log     *slog.Logger
}

func NewAssetFetcher(cfg config.ClassifierConfig, log *slog.Logger) *AssetFetcher {
	timeout := time.Duration(cfg.FetchTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &AssetFetcher{
		cfg:     cfg,
		timeout: timeout,
		cache:   gocache.New(gocache.NoExpiration, 0),
		log:     log.With(slog.String("component", "classifier-assets")),
	}
}

// Fetch returns the model assets, downloading them on first use.
func (f *AssetFetcher) Fetch(ctx context.Context) (Assets, error) {
	if cached, ok := f.cache.Get(assetsCacheKey); ok {
		return cached.(Assets), nil
	}

	topology, err := f.get(ctx, f.cfg.ModelURL)
	if err != nil {
		return Assets{}, &LoadError{URL: f.cfg.ModelURL, Err: err}
	}

	rawMeta, err := f.get(ctx, f.cfg.MetadataURL)
	if err != nil {
		return Assets{}, &LoadError{URL: f.cfg.MetadataURL, Err: err}
	}
	var meta Metadata
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return Assets{}, &LoadError{URL: f.cfg.MetadataURL, Err: fmt.Errorf("decode metadata: %w", err)}
	}
	if len(meta.Labels) == 0 {
		return Assets{}, &LoadError{URL: f.cfg.MetadataURL, Err: fmt.Errorf("metadata carries no labels")}
	}

	assets := Assets{Topology: topology, Metadata: meta}
	f.cache.Set(assetsCacheKey, assets, gocache.NoExpiration)
	f.log.Info("model assets fetched",
		slog.String("model", meta.ModelName),
		slog.Int("labels", len(meta.Labels)),
		slog.Int("topology_bytes", len(topology)))
	return assets, nil
}

// Flush drops the cached assets.
func (f *AssetFetcher) Flush() {
	f.cache.Flush()
}

func (f *AssetFetcher) get(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/virsalabs/virsa-core/internal/capture"
	"github.com/virsalabs/virsa-core/internal/config"
)

// remoteClassifier talks to an HTTP inference endpoint. Load points the
// endpoint at the configured model assets; Classify posts one frame per
// call and reads back the ranked predictions.
type remoteClassifier struct {
	cfg     config.ClassifierConfig
	log     *slog.Logger
	timeout time.Duration

	fetcher *AssetFetcher

	mu     sync.Mutex
	loaded bool
	labels []string
}

type remoteLoadRequest struct {
	ModelURL    string `json:"model_url"`
	MetadataURL string `json:"metadata_url"`
}

type remoteClassifyRequest struct {
	ImageBase64 string `json:"image_base64"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	TopK        int    `json:"top_k"`
}

type remoteClassifyResponse struct {
	Predictions []Prediction `json:"predictions"`
}

func newRemoteClassifier(cfg config.ClassifierConfig, log *slog.Logger) Classifier {
	timeout := time.Duration(cfg.FetchTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &remoteClassifier{
		cfg:     cfg,
		log:     log.With(slog.String("component", "classifier")),
		timeout: timeout,
		fetcher: NewAssetFetcher(cfg, log),
	}
}

func (c *remoteClassifier) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.loaded {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// metadata is fetched locally so the label set is known even when the
	// inference server stays a black box
	assets, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(remoteLoadRequest{
		ModelURL:    c.cfg.ModelURL,
		MetadataURL: c.cfg.MetadataURL,
	})
	if err != nil {
		return &LoadError{Err: err}
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.Endpoint+"/v1/load", bytes.NewReader(body))
	if err != nil {
		return &LoadError{URL: c.cfg.Endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &LoadError{URL: c.cfg.Endpoint, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &LoadError{URL: c.cfg.Endpoint, Err: fmt.Errorf("inference server returned %s", resp.Status)}
	}

	c.mu.Lock()
	c.loaded = true
	c.labels = assets.Metadata.Labels
	c.mu.Unlock()
	return nil
}

func (c *remoteClassifier) Classify(ctx context.Context, frame capture.Frame) ([]Prediction, error) {
	c.mu.Lock()
	loaded := c.loaded
	labels := c.labels
	c.mu.Unlock()
	if !loaded {
		return nil, &ClassifyError{Err: fmt.Errorf("model not loaded")}
	}

	body, err := json.Marshal(remoteClassifyRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(frame.Data),
		Width:       frame.Width,
		Height:      frame.Height,
		TopK:        c.cfg.TopK,
	})
	if err != nil {
		return nil, &ClassifyError{Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.Endpoint+"/v1/classify", bytes.NewReader(body))
	if err != nil {
		return nil, &ClassifyError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, &ClassifyError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &ClassifyError{Err: fmt.Errorf("inference server returned %s", resp.Status)}
	}

	var parsed remoteClassifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ClassifyError{Err: fmt.Errorf("decode predictions: %w", err)}
	}
	return filterPredictions(parsed.Predictions, labels), nil
}

func (c *remoteClassifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.labels = nil
	c.fetcher.Flush()
}

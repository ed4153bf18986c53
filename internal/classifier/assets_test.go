package classifier

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/virsalabs/virsa-core/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func assetConfig() config.ClassifierConfig {
	return config.ClassifierConfig{
		Mode:        "remote",
		ModelURL:    "http://models.test/heritage/model.json",
		MetadataURL: "http://models.test/heritage/metadata.json",
		TopK:        5,
	}
}

const metadataJSON = `{
	"modelName": "heritage-sites-v2",
	"imageSize": 224,
	"labels": ["Mohenjo-daro", "Taxila", "Badshahi Mosque", "Lahore Fort"]
}`

func TestFetchAssets(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "http://models.test/heritage/model.json",
		httpmock.NewStringResponder(200, `{"format":"layers-model"}`))
	httpmock.RegisterResponder("GET", "http://models.test/heritage/metadata.json",
		httpmock.NewStringResponder(200, metadataJSON))

	f := NewAssetFetcher(assetConfig(), discardLogger())
	assets, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if assets.Metadata.ModelName != "heritage-sites-v2" {
		t.Fatalf("unexpected model name %q", assets.Metadata.ModelName)
	}
	if len(assets.Metadata.Labels) != 4 {
		t.Fatalf("expected 4 labels, got %d", len(assets.Metadata.Labels))
	}
	if len(assets.Topology) == 0 {
		t.Fatal("expected topology bytes")
	}
}

func TestFetchAssetsCachedForSession(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "http://models.test/heritage/model.json",
		httpmock.NewStringResponder(200, `{}`))
	httpmock.RegisterResponder("GET", "http://models.test/heritage/metadata.json",
		httpmock.NewStringResponder(200, metadataJSON))

	f := NewAssetFetcher(assetConfig(), discardLogger())
	if _, err := f.Fetch(context.Background()); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := f.Fetch(context.Background()); err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	info := httpmock.GetCallCountInfo()
	if got := info["GET http://models.test/heritage/model.json"]; got != 1 {
		t.Fatalf("expected model fetched once per session, got %d", got)
	}
	if got := info["GET http://models.test/heritage/metadata.json"]; got != 1 {
		t.Fatalf("expected metadata fetched once per session, got %d", got)
	}
}

func TestFetchAssetsFailureIsLoadError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "http://models.test/heritage/model.json",
		httpmock.NewStringResponder(503, "unavailable"))

	f := NewAssetFetcher(assetConfig(), discardLogger())
	_, err := f.Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsLoadError(err) {
		t.Fatalf("expected LoadError, got %T: %v", err, err)
	}
}

func TestFetchAssetsRejectsEmptyLabels(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "http://models.test/heritage/model.json",
		httpmock.NewStringResponder(200, `{}`))
	httpmock.RegisterResponder("GET", "http://models.test/heritage/metadata.json",
		httpmock.NewStringResponder(200, `{"modelName":"x","labels":[]}`))

	f := NewAssetFetcher(assetConfig(), discardLogger())
	if _, err := f.Fetch(context.Background()); !IsLoadError(err) {
		t.Fatalf("expected LoadError for empty label set, got %v", err)
	}
}

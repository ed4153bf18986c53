package classifier

import (
	"context"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/virsalabs/virsa-core/internal/capture"
	"github.com/virsalabs/virsa-core/internal/config"
)

func TestTopPicksHighestProbability(t *testing.T) {
	preds := []Prediction{
		{Label: "Taxila", Probability: 0.2},
		{Label: "Lahore Fort", Probability: 0.75},
		{Label: "Badshahi Mosque", Probability: 0.05},
	}
	top, ok := Top(preds)
	if !ok {
		t.Fatal("expected a top prediction")
	}
	if top.Label != "Lahore Fort" {
		t.Fatalf("expected Lahore Fort, got %s", top.Label)
	}
}

func TestTopTieFirstEncounteredWins(t *testing.T) {
	preds := []Prediction{
		{Label: "Taxila", Probability: 0.5},
		{Label: "Lahore Fort", Probability: 0.5},
	}
	top, _ := Top(preds)
	if top.Label != "Taxila" {
		t.Fatalf("expected first-encountered tie winner Taxila, got %s", top.Label)
	}
}

func TestTopEmpty(t *testing.T) {
	if _, ok := Top(nil); ok {
		t.Fatal("expected no top prediction for empty input")
	}
}

func TestMockScriptPlayback(t *testing.T) {
	m := NewMock()
	m.Script = []ScriptedResult{
		{Predictions: []Prediction{{Label: "background", Probability: 0.4}}},
		{Predictions: []Prediction{{Label: "mohenjodaro", Probability: 0.92}}},
	}
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	first, err := m.Classify(context.Background(), capture.Frame{})
	if err != nil {
		t.Fatal(err)
	}
	if first[0].Probability != 0.4 {
		t.Fatalf("unexpected first result: %+v", first)
	}
	second, err := m.Classify(context.Background(), capture.Frame{})
	if err != nil {
		t.Fatal(err)
	}
	if second[0].Label != "mohenjodaro" {
		t.Fatalf("unexpected second result: %+v", second)
	}
	// script exhausted: last entry repeats
	third, err := m.Classify(context.Background(), capture.Frame{})
	if err != nil {
		t.Fatal(err)
	}
	if third[0].Label != "mohenjodaro" {
		t.Fatalf("unexpected third result: %+v", third)
	}
	if m.Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", m.Calls())
	}
}

func TestMockRequiresLoad(t *testing.T) {
	m := NewMock()
	if _, err := m.Classify(context.Background(), capture.Frame{}); err == nil {
		t.Fatal("expected classify error before load")
	}
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := m.Classify(context.Background(), capture.Frame{}); err != nil {
		t.Fatalf("classify after load: %v", err)
	}
	m.Close()
	if _, err := m.Classify(context.Background(), capture.Frame{}); err == nil {
		t.Fatal("expected classify error after close")
	}
}

func TestRemoteClassify(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	cfg := config.ClassifierConfig{
		Mode:        "remote",
		Endpoint:    "http://inference.test",
		ModelURL:    "http://models.test/heritage/model.json",
		MetadataURL: "http://models.test/heritage/metadata.json",
		TopK:        3,
	}

	httpmock.RegisterResponder("GET", "http://models.test/heritage/model.json",
		httpmock.NewStringResponder(200, `{}`))
	httpmock.RegisterResponder("GET", "http://models.test/heritage/metadata.json",
		httpmock.NewStringResponder(200, metadataJSON))
	httpmock.RegisterResponder("POST", "http://inference.test/v1/load",
		httpmock.NewStringResponder(200, `{}`))
	httpmock.RegisterResponder("POST", "http://inference.test/v1/classify",
		httpmock.NewStringResponder(200, `{"predictions":[{"label":"Taxila","probability":0.88}]}`))

	c := newRemoteClassifier(cfg, discardLogger())
	defer c.Close()

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	preds, err := c.Classify(context.Background(), capture.Frame{Width: 2, Height: 2, Data: []byte{0, 0, 0, 0}})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(preds) != 1 || preds[0].Label != "Taxila" {
		t.Fatalf("unexpected predictions: %+v", preds)
	}
}

func TestRemoteClassifyFiltersUnknownLabels(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	cfg := config.ClassifierConfig{
		Mode:        "remote",
		Endpoint:    "http://inference.test",
		ModelURL:    "http://models.test/heritage/model.json",
		MetadataURL: "http://models.test/heritage/metadata.json",
		TopK:        3,
	}

	httpmock.RegisterResponder("GET", "http://models.test/heritage/model.json",
		httpmock.NewStringResponder(200, `{}`))
	httpmock.RegisterResponder("GET", "http://models.test/heritage/metadata.json",
		httpmock.NewStringResponder(200, metadataJSON))
	httpmock.RegisterResponder("POST", "http://inference.test/v1/load",
		httpmock.NewStringResponder(200, `{}`))
	httpmock.RegisterResponder("POST", "http://inference.test/v1/classify",
		httpmock.NewStringResponder(200,
			`{"predictions":[{"label":"Eiffel Tower","probability":0.99},{"label":"Taxila","probability":0.61}]}`))

	c := newRemoteClassifier(cfg, discardLogger())
	defer c.Close()

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	preds, err := c.Classify(context.Background(), capture.Frame{})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	// the metadata label set does not carry Eiffel Tower, so only Taxila survives
	if len(preds) != 1 || preds[0].Label != "Taxila" {
		t.Fatalf("expected unknown label dropped, got %+v", preds)
	}
}

func TestRemoteClassifyErrorIsTransient(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	cfg := config.ClassifierConfig{
		Mode:        "remote",
		Endpoint:    "http://inference.test",
		ModelURL:    "http://models.test/heritage/model.json",
		MetadataURL: "http://models.test/heritage/metadata.json",
		TopK:        3,
	}

	httpmock.RegisterResponder("GET", "http://models.test/heritage/model.json",
		httpmock.NewStringResponder(200, `{}`))
	httpmock.RegisterResponder("GET", "http://models.test/heritage/metadata.json",
		httpmock.NewStringResponder(200, metadataJSON))
	httpmock.RegisterResponder("POST", "http://inference.test/v1/load",
		httpmock.NewStringResponder(200, `{}`))
	httpmock.RegisterResponder("POST", "http://inference.test/v1/classify",
		httpmock.NewStringResponder(500, "boom"))

	c := newRemoteClassifier(cfg, discardLogger())
	defer c.Close()

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err := c.Classify(context.Background(), capture.Frame{})
	if err == nil {
		t.Fatal("expected classify error")
	}
	if IsLoadError(err) {
		t.Fatalf("classify failure must not be a load error: %v", err)
	}
}

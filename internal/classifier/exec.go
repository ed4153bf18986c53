package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/virsalabs/virsa-core/internal/capture"
	"github.com/virsalabs/virsa-core/internal/config"
)

// execClassifier hands frames to an external inference command. The model
// topology is staged into a temp file during Load and passed to every
// invocation; the command answers with a JSON prediction list on stdout.
type execClassifier struct {
	cmd []string
	cfg config.ClassifierConfig
	log *slog.Logger

	fetcher *AssetFetcher

	mu        sync.Mutex
	modelPath string
	labels    []string
}

type execPredictions struct {
	Predictions []Prediction `json:"predictions"`
}

func newExecClassifier(cfg config.ClassifierConfig, log *slog.Logger) (Classifier, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse classifier command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("classifier command is empty")
	}
	return &execClassifier{
		cmd:     args,
		cfg:     cfg,
		log:     log.With(slog.String("component", "classifier")),
		fetcher: NewAssetFetcher(cfg, log),
	}, nil
}

func (c *execClassifier) Load(ctx context.Context) error {
	assets, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.modelPath != "" {
		return nil
	}

	file, err := os.CreateTemp("", "virsa_model_*.json")
	if err != nil {
		return &LoadError{Err: fmt.Errorf("stage model: %w", err)}
	}
	if _, err := file.Write(assets.Topology); err != nil {
		file.Close()
		os.Remove(file.Name())
		return &LoadError{Err: fmt.Errorf("stage model: %w", err)}
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return &LoadError{Err: fmt.Errorf("stage model: %w", err)}
	}

	c.modelPath = file.Name()
	c.labels = assets.Metadata.Labels
	return nil
}

func (c *execClassifier) Classify(ctx context.Context, frame capture.Frame) ([]Prediction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.modelPath == "" {
		return nil, &ClassifyError{Err: fmt.Errorf("model not loaded")}
	}

	file, err := os.CreateTemp("", "virsa_frame_*.png")
	if err != nil {
		return nil, &ClassifyError{Err: err}
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writeFrame(file, frame); err != nil {
		return nil, &ClassifyError{Err: err}
	}

	base := c.cmd[0]
	args := append([]string{}, c.cmd[1:]...)
	args = append(args,
		"--image", file.Name(),
		"--model", c.modelPath,
		"--top-k", fmt.Sprint(c.cfg.TopK),
	)

	command := exec.CommandContext(ctx, base, args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, &ClassifyError{Err: fmt.Errorf("classifier command failed: %w: %s", err, stderr.String())}
	}

	var resp execPredictions
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, &ClassifyError{Err: fmt.Errorf("decode classifier response: %w", err)}
	}
	return filterPredictions(resp.Predictions, c.labels), nil
}

func (c *execClassifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.modelPath != "" {
		os.Remove(c.modelPath)
		c.modelPath = ""
	}
	c.labels = nil
	c.fetcher.Flush()
}

// writeFrame stores the frame for the inference command. Raw RGB payloads
// are encoded as PNG; anything else is assumed to be pre-encoded by the
// grabber and written through untouched.
func writeFrame(file *os.File, frame capture.Frame) error {
	if len(frame.Data) != frame.Width*frame.Height*3 {
		_, err := file.Write(frame.Data)
		return err
	}

	img := image.NewNRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			i := (y*frame.Width + x) * 3
			img.SetNRGBA(x, y, color.NRGBA{
				R: frame.Data[i],
				G: frame.Data[i+1],
				B: frame.Data[i+2],
				A: 255,
			})
		}
	}
	return png.Encode(file, img)
}

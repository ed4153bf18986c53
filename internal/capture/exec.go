package capture

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-shellwords"
	"github.com/virsalabs/virsa-core/internal/config"
)

// execProvider shells out to an external frame grabber. The grabber writes
// one JSON object per line on stdout until its stdin closes or it is killed.
type execProvider struct {
	cmd    []string
	cfg    config.CaptureConfig
	log    *slog.Logger
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type execFrame struct {
	DataBase64 string `json:"data_base64"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

func NewExecProvider(cfg config.CaptureConfig, log *slog.Logger) (Provider, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &execProvider{cmd: args, cfg: cfg, log: log}, nil
}

func (e *execProvider) Start(ctx context.Context) (<-chan Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return nil, ErrBusy
	}

	runCtx, cancel := context.WithCancel(ctx)

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	args = append(args,
		"--width", strconv.Itoa(e.cfg.Width),
		"--height", strconv.Itoa(e.cfg.Height),
	)
	if e.cfg.FacingMode != "" {
		args = append(args, "--facing", e.cfg.FacingMode)
	}
	if e.cfg.TargetFPS > 0 {
		args = append(args, "--fps", strconv.FormatFloat(e.cfg.TargetFPS, 'f', -1, 64))
	}

	command := exec.CommandContext(runCtx, base, args...)
	stdout, err := command.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("capture stdout pipe: %w", err)
	}
	var stderr strings.Builder
	command.Stderr = &stderr

	if err := command.Start(); err != nil {
		cancel()
		return nil, classifyStartError(err)
	}

	e.cancel = cancel
	e.done = make(chan struct{})

	frames := make(chan Frame, 1)
	go func() {
		defer close(e.done)
		defer close(frames)

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		var seq uint64
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var raw execFrame
			if err := json.Unmarshal(line, &raw); err != nil {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(raw.DataBase64)
			if err != nil {
				continue
			}
			seq++
			frame := Frame{
				Seq:       seq,
				Timestamp: time.Now(),
				Width:     raw.Width,
				Height:    raw.Height,
				Data:      data,
				TraceID:   uuid.NewString(),
			}
			select {
			case frames <- frame:
			default:
			}
		}
		if err := command.Wait(); err != nil && runCtx.Err() == nil {
			e.log.Warn("frame grabber exited", slog.String("error", classifyRunError(err, stderr.String()).Error()))
		}
	}()
	return frames, nil
}

func (e *execProvider) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.done = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func classifyStartError(err error) error {
	if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
		return fmt.Errorf("%w: grabber binary not found: %v", ErrUnsupported, err)
	}
	return fmt.Errorf("%w: %v", ErrNotFound, err)
}

func classifyRunError(err error, stderr string) error {
	lowered := strings.ToLower(stderr)
	switch {
	case strings.Contains(lowered, "permission denied"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(lowered, "busy") || strings.Contains(lowered, "in use"):
		return fmt.Errorf("%w: %v", ErrBusy, err)
	case strings.Contains(lowered, "no such device") || strings.Contains(lowered, "not found"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return err
	}
}

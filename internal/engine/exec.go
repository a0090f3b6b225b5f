package engine

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/mattn/go-shellwords"
)

// execEngine drives a long lived worker process (for example a ChatTTS
// Python script) that exchanges one JSON object per line on stdin/stdout.
type execEngine struct {
	cmd        []string
	sampleRate int

	mu     sync.Mutex
	proc   *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	seq    int
	loaded atomic.Bool
}

type workerRequest struct {
	ID      int           `json:"id"`
	Action  string        `json:"action"`
	Text    string        `json:"text,omitempty"`
	Options *InferOptions `json:"options,omitempty"`
}

type workerResponse struct {
	ID          int    `json:"id"`
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	Encoding    string `json:"encoding,omitempty"` // f32le or s16le
	AudioBase64 string `json:"audio_base64,omitempty"`
}

func NewExec(command string, sampleRate int) (Engine, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("engine command empty")
	}
	return &execEngine{cmd: args, sampleRate: sampleRate}, nil
}

func (e *execEngine) Name() string { return "exec" }

func (e *execEngine) Loaded() bool { return e.loaded.Load() }

// Load starts the worker and waits for it to report the model ready. The
// process is not bound to ctx; only the wait is.
func (e *execEngine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded.Load() {
		return nil
	}

	cmd := exec.Command(e.cmd[0], e.cmd[1:]...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start engine worker: %w", err)
	}
	e.proc = cmd
	e.stdin = stdin
	e.stdout = bufio.NewReader(stdout)

	if _, err := e.roundTrip(ctx, workerRequest{Action: "load"}); err != nil {
		e.stopLocked()
		return fmt.Errorf("load model: %w", err)
	}
	e.loaded.Store(true)
	return nil
}

func (e *execEngine) Infer(ctx context.Context, text string, opts InferOptions) (Waveform, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded.Load() {
		return Waveform{}, errors.New("engine worker not running")
	}
	resp, err := e.roundTrip(ctx, workerRequest{Action: "infer", Text: text, Options: &opts})
	if err != nil {
		return Waveform{}, err
	}
	return decodeWaveform(resp.AudioBase64, resp.Encoding, resp.SampleRate, e.sampleRate)
}

// Close terminates the worker process.
func (e *execEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	return nil
}

func (e *execEngine) roundTrip(ctx context.Context, req workerRequest) (workerResponse, error) {
	e.seq++
	req.ID = e.seq
	data, err := json.Marshal(req)
	if err != nil {
		return workerResponse{}, err
	}
	data = append(data, '\n')

	type result struct {
		resp workerResponse
		err  error
	}
	stdin, stdout := e.stdin, e.stdout
	done := make(chan result, 1)
	go func() {
		if _, err := stdin.Write(data); err != nil {
			done <- result{err: fmt.Errorf("write to worker: %w", err)}
			return
		}
		line, err := stdout.ReadBytes('\n')
		if err != nil {
			done <- result{err: fmt.Errorf("read from worker: %w", err)}
			return
		}
		var resp workerResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			done <- result{err: fmt.Errorf("decode worker response: %w", err)}
			return
		}
		done <- result{resp: resp}
	}()

	select {
	case <-ctx.Done():
		// The worker is mid-request and its stream is no longer in sync.
		e.stopLocked()
		return workerResponse{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			e.stopLocked()
			return workerResponse{}, r.err
		}
		if r.resp.ID != req.ID {
			e.stopLocked()
			return workerResponse{}, fmt.Errorf("worker answered request %d, expected %d", r.resp.ID, req.ID)
		}
		if !r.resp.OK {
			if r.resp.Error == "" {
				r.resp.Error = "worker reported failure"
			}
			return workerResponse{}, errors.New(r.resp.Error)
		}
		return r.resp, nil
	}
}

func (e *execEngine) stopLocked() {
	e.loaded.Store(false)
	if e.stdin != nil {
		_ = e.stdin.Close()
		e.stdin = nil
	}
	if e.proc != nil && e.proc.Process != nil {
		_ = e.proc.Process.Kill()
		_ = e.proc.Wait()
	}
	e.proc = nil
}

func decodeWaveform(payload, encoding string, sampleRate, fallbackRate int) (Waveform, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Waveform{}, fmt.Errorf("decode audio payload: %w", err)
	}
	var samples []float32
	switch encoding {
	case "", "f32le":
		samples, err = audio.FromFloat32LE(raw)
	case "s16le":
		samples, err = audio.FromPCM16LE(raw)
	default:
		return Waveform{}, fmt.Errorf("unsupported audio encoding %q", encoding)
	}
	if err != nil {
		return Waveform{}, err
	}
	if sampleRate == 0 {
		sampleRate = fallbackRate
	}
	return Waveform{Samples: samples, SampleRate: sampleRate}, nil
}

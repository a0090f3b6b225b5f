package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/loqalabs/loqa-tts/internal/protocol"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'health', 'speakers', 'say' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "health":
		err = runGet(os.Args[2:], "health", "/health")
	case "speakers":
		err = runGet(os.Args[2:], "speakers", "/api/speakers")
	case "say":
		err = runSay(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func baseFlags(name string) (*flag.FlagSet, *string, *time.Duration) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	addr := fs.String("addr", envOr("LOQA_TTS_ADDR", "http://localhost:8080"), "Service base URL")
	timeout := fs.Duration("timeout", 60*time.Second, "Request timeout")
	return fs, addr, timeout
}

func runGet(args []string, name, path string) error {
	fs, addr, timeout := baseFlags(name)
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(*addr, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Indent(&out, body, "", "  "); err != nil {
		out.Write(body)
	}
	fmt.Println(out.String())
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", path, resp.Status)
	}
	return nil
}

type sayOptions struct {
	addr     string
	timeout  time.Duration
	out      string
	embedded bool
	payload  protocol.SynthesisRequest
}

// parseSay reads the say flags. Hints are only sent when given explicitly so
// the service applies its own defaults otherwise.
func parseSay(args []string) (sayOptions, error) {
	fs, addr, timeout := baseFlags("say")
	text := fs.String("text", "", "Text to synthesize")
	out := fs.String("out", "speech.wav", "Output wav file")
	speaker := fs.String("speaker", "", "Speaker id")
	speed := fs.Float64("speed", 1.0, "Speaking rate hint (0.5-2.0)")
	pitch := fs.Int("pitch", 0, "Pitch shift hint in semitones (-12..12)")
	volume := fs.Float64("volume", 1.0, "Volume hint (0.1-2.0)")
	embedded := fs.Bool("base64", false, "Use the base64 endpoint")
	if err := fs.Parse(args); err != nil {
		return sayOptions{}, err
	}

	if strings.TrimSpace(*text) == "" {
		return sayOptions{}, errors.New("-text is required")
	}

	opts := sayOptions{
		addr:     *addr,
		timeout:  *timeout,
		out:      *out,
		embedded: *embedded,
		payload:  protocol.SynthesisRequest{Text: text, Speaker: *speaker},
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "speed":
			opts.payload.Speed = speed
		case "pitch":
			opts.payload.Pitch = pitch
		case "volume":
			opts.payload.Volume = volume
		}
	})
	return opts, nil
}

func runSay(args []string) error {
	opts, err := parseSay(args)
	if err != nil {
		return err
	}
	body, err := json.Marshal(opts.payload)
	if err != nil {
		return err
	}

	path := "/api/tts"
	if opts.embedded {
		path = "/api/tts_base64"
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(opts.addr, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var env protocol.ErrorEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return fmt.Errorf("synthesis failed: %s", resp.Status)
		}
		if env.FallbackRecommended {
			return fmt.Errorf("synthesis unavailable (%s), fall back to local speech: %s %v", resp.Status, env.Error, env.Errors)
		}
		return fmt.Errorf("synthesis failed (%s): %s", resp.Status, env.Error)
	}

	var wav []byte
	if opts.embedded {
		var env protocol.AudioEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		wav, err = base64.StdEncoding.DecodeString(env.AudioBase64)
		if err != nil {
			return fmt.Errorf("decode audio: %w", err)
		}
	} else {
		wav, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
	}

	if err := os.WriteFile(opts.out, wav, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes, request %s)\n", opts.out, len(wav), resp.Header.Get("X-Request-Id"))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// main package for the sovits-client, a small CLI against the platform API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/voiceforge/sovits-service/internal/speakers"
)

// Flag descriptions.
const (
	flagBaseURLDesc  = "Base URL of the platform API"
	flagHealthDesc   = "Check platform health and exit"
	flagSpeakersDesc = "List known speakers and exit"
	flagTextDesc     = "Text to convert to speech"
	flagSpeakerDesc  = "Speaker voice to use"
	flagLangDesc     = "Language of the text (zh, en, ja, ko, yue)"
	flagOutputDesc   = "Output file path (.wav)"
)

const (
	defaultBaseURL    = "http://127.0.0.1:8000"
	defaultOutputFile = "output.wav"
	requestTimeout    = 120 * time.Second
)

var (
	errTextAndSpeakerNeeded = errors.New("both --text and --speaker must be provided")
	errUnexpectedStatus     = errors.New("unexpected response status")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	baseURL  string
	health   bool
	speakers bool
	text     string
	speaker  string
	language string
	output   string
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	client := &http.Client{Timeout: requestTimeout}

	switch {
	case flags.health:
		return checkHealth(ctx, client, flags.baseURL)
	case flags.speakers:
		return listSpeakers(ctx, client, flags.baseURL)
	default:
		return generate(ctx, client, flags)
	}
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.baseURL, "base-url", defaultBaseURL, flagBaseURLDesc)
	flag.BoolVar(&flags.health, "health", false, flagHealthDesc)
	flag.BoolVar(&flags.speakers, "speakers", false, flagSpeakersDesc)
	flag.StringVar(&flags.text, "text", "", flagTextDesc)
	flag.StringVar(&flags.speaker, "speaker", "", flagSpeakerDesc)
	flag.StringVar(&flags.language, "lang", "", flagLangDesc)
	flag.StringVar(&flags.output, "output", defaultOutputFile, flagOutputDesc)
	flag.Parse()

	return flags
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	body, err := getBody(ctx, client, baseURL+"/system_info")
	if err != nil {
		fmt.Printf("Platform is not healthy: %v\n", err)

		return err
	}

	var info struct {
		Service    string  `json:"service"`
		Engine     string  `json:"engine"`
		CPUPercent float64 `json:"cpu_percent"`
		MemPercent float64 `json:"memory_percent"`
	}

	err = json.Unmarshal(body, &info)
	if err != nil {
		return fmt.Errorf("failed to parse system info: %w", err)
	}

	fmt.Printf(
		"Platform is healthy: %s (%s), cpu %.1f%%, memory %.1f%%\n",
		info.Service, info.Engine, info.CPUPercent, info.MemPercent,
	)

	return nil
}

func listSpeakers(ctx context.Context, client *http.Client, baseURL string) error {
	body, err := getBody(ctx, client, baseURL+"/list_speakers")
	if err != nil {
		return err
	}

	var reply struct {
		Speakers []speakers.Summary `json:"speakers"`
	}

	err = json.Unmarshal(body, &reply)
	if err != nil {
		return fmt.Errorf("failed to parse speaker list: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Speaker", "Clips", "Trained", "Created")

	for _, speaker := range reply.Speakers {
		trained := "no"
		if speaker.Trained {
			trained = "yes"
		}

		table.Append([]string{
			speaker.Name,
			fmt.Sprintf("%d", speaker.AudioCount),
			trained,
			speaker.CreatedAt.Format(time.DateOnly),
		})
	}

	table.Render()

	return nil
}

func generate(ctx context.Context, client *http.Client, flags appFlags) error {
	if flags.text == "" || flags.speaker == "" {
		flag.Usage()

		return errTextAndSpeakerNeeded
	}

	payload, err := json.Marshal(map[string]string{
		"text":     flags.text,
		"speaker":  flags.speaker,
		"language": flags.language,
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, flags.baseURL+"/generate_audio", bytes.NewReader(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	body, err := doRequest(client, req)
	if err != nil {
		return err
	}

	var reply struct {
		Filename string `json:"filename"`
		AudioURL string `json:"audio_url"`
	}

	err = json.Unmarshal(body, &reply)
	if err != nil {
		return fmt.Errorf("failed to parse generation reply: %w", err)
	}

	return download(ctx, client, flags.baseURL+reply.AudioURL, flags.output)
}

func download(ctx context.Context, client *http.Client, url, outputPath string) error {
	data, err := getBody(ctx, client, url)
	if err != nil {
		return err
	}

	writeErr := os.WriteFile(outputPath, data, 0o600)
	if writeErr != nil {
		return fmt.Errorf("failed to write output file: %w", writeErr)
	}

	fmt.Printf("Generated: %s (%d bytes)\n", outputPath, len(data))

	return nil
}

func getBody(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return doRequest(client, req)
}

func doRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d - %s", errUnexpectedStatus, resp.StatusCode, string(body))
	}

	return body, nil
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"tracker"

	"github.com/spf13/cobra"
)

var logger *slog.Logger

// --- Data Generation Helpers ---

var eventTypes = []string{"page", "page", "page", "event", "social"}
var paths = []string{"/", "/about", "/contact", "/products/1", "/products/2", "/blog/post-1"}
var eventActions = map[string][]string{
	"video":  {"play", "pause", "complete"},
	"button": {"click"},
	"form":   {"submit", "abandon"},
}
var networks = []string{"facebook", "twitter", "linkedin"}
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 13; SM-G991U) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0",
}
var referrers = []string{
	"https://www.google.com/",
	"https://www.bing.com/",
	"https://t.co/",
	"", // Direct visit
	"",
	"https://news.ycombinator.com/item",
}
var resolutions = []string{"1920x1080", "1440x900", "390x844", "412x915"}

func randomElement(slice []string) string {
	if len(slice) == 0 {
		return ""
	}
	return slice[rand.IntN(len(slice))]
}

func generatePayload() tracker.Tracking {
	data := tracker.TrackingData{
		Type:             randomElement(eventTypes),
		Path:             randomElement(paths),
		Referrer:         randomElement(referrers),
		ScreenResolution: randomElement(resolutions),
		ScreenColorDepth: 24,
	}
	data.Title = "Page " + data.Path

	switch data.Type {
	case "event":
		categories := make([]string, 0, len(eventActions))
		for c := range eventActions {
			categories = append(categories, c)
		}
		data.Category = randomElement(categories)
		data.Action = randomElement(eventActions[data.Category])
		data.Label = data.Path
		if rand.IntN(2) == 0 {
			v := rand.IntN(100)
			data.Value = &v
		}
	case "social":
		data.Network = randomElement(networks)
		data.Action = "share"
	default:
		data.LoadTime = 200 + rand.IntN(3000)
	}
	return tracker.Tracking{Action: data}
}

// visitor is a simulated browser: its own cookie jar and user agent.
type visitor struct {
	client *http.Client
	ua     string
}

func newVisitor(timeout time.Duration) (*visitor, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &visitor{
		client: &http.Client{Timeout: timeout, Jar: jar},
		ua:     randomElement(userAgents),
	}, nil
}

func main() {
	// --- Logger Setup ---
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	rootCmd := &cobra.Command{
		Use:   "data-generator",
		Short: "Send random tracking payloads to the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			trackerURL, _ := cmd.Flags().GetString("url")
			numEvents, _ := cmd.Flags().GetInt("n")
			numVisitors, _ := cmd.Flags().GetInt("visitors")
			delayMs, _ := cmd.Flags().GetInt("delay")
			return generate(trackerURL, numEvents, numVisitors, time.Duration(delayMs)*time.Millisecond)
		},
	}
	rootCmd.Flags().String("url", "http://localhost:9876/track", "Tracker /track endpoint URL")
	rootCmd.Flags().Int("n", 100, "Number of payloads to send")
	rootCmd.Flags().Int("visitors", 10, "Number of simulated visitors")
	rootCmd.Flags().Int("delay", 100, "Delay between requests in milliseconds")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func generate(trackerURL string, numEvents, numVisitors int, delay time.Duration) error {
	if numVisitors < 1 {
		return fmt.Errorf("need at least one visitor, got %d", numVisitors)
	}

	logger.Info("Starting data generator",
		slog.String("targetUrl", trackerURL),
		slog.Int("count", numEvents),
		slog.Int("visitors", numVisitors),
		slog.Duration("delay", delay))

	visitors := make([]*visitor, numVisitors)
	for i := range visitors {
		v, err := newVisitor(5 * time.Second)
		if err != nil {
			return err
		}
		visitors[i] = v
	}

	successCount := 0
	errorCount := 0

	for i := 0; i < numEvents; i++ {
		v := visitors[rand.IntN(len(visitors))]
		payload := generatePayload()

		jsonData, err := json.Marshal(payload)
		if err != nil {
			logger.Error("Failed to marshal payload to JSON", slog.Any("error", err), slog.Int("eventIndex", i))
			errorCount++
			continue
		}

		req, err := http.NewRequest(http.MethodPost, trackerURL, bytes.NewReader(jsonData))
		if err != nil {
			return fmt.Errorf("invalid tracker URL %s: %w", trackerURL, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", v.ua)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := v.client.Do(req)
		if err != nil {
			logger.Error("Failed to send request to tracker", slog.Any("error", err), slog.Int("eventIndex", i))
			errorCount++
		} else {
			if resp.StatusCode == http.StatusOK {
				logger.Debug("Payload sent successfully", slog.Int("eventIndex", i), slog.String("type", payload.Action.Type))
				successCount++
			} else {
				logger.Warn("Tracker responded with non-OK status", slog.Int("statusCode", resp.StatusCode), slog.Int("eventIndex", i))
				errorCount++
			}
			resp.Body.Close()
		}

		if i < numEvents-1 {
			time.Sleep(delay)
		}
	}

	logger.Info("Data generation complete",
		slog.Int("successCount", successCount),
		slog.Int("errorCount", errorCount))
	return nil
}

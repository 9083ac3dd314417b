package logging

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"":      zerolog.InfoLevel,
		"loud":  zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestStartupLoggerJSON(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	defer func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	}()

	var buf bytes.Buffer
	InitWith("info", "json", &buf)

	NewStartupLogger("tryon-lambda").
		S3Bucket("images", "tryon-images").
		DynamoTable("results", "tryon-results").
		Redis("usage", "cache:6379").
		EventBus("results", "tryon").
		CommitHash("abc1234").
		Feature("imageStore", true).
		Config("imageModel", "gemini-2.5-flash-image").
		InitDuration(150 * time.Millisecond).
		Log()

	var evt map[string]any
	if err := json.Unmarshal(buf.Bytes(), &evt); err != nil {
		t.Fatalf("startup event is not JSON: %v\n%s", err, buf.String())
	}
	if evt["message"] != "Startup complete" {
		t.Errorf("message = %v", evt["message"])
	}
	resources, ok := evt["resources"].(map[string]any)
	if !ok {
		t.Fatalf("resources missing: %v", evt)
	}
	for _, key := range []string{"s3Buckets", "dynamoTables", "redis", "eventBuses"} {
		if _, ok := resources[key]; !ok {
			t.Errorf("resources.%s missing", key)
		}
	}
	if _, ok := resources["ssmParams"]; ok {
		t.Error("empty ssmParams should be omitted")
	}
	process, ok := evt["process"].(map[string]any)
	if !ok {
		t.Fatalf("process missing: %v", evt)
	}
	if process["name"] != "tryon-lambda" || process["commitHash"] != "abc1234" {
		t.Errorf("process = %v", process)
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("TRYON_TEST_PARAM", "")
	if got := EnvOrDefault("TRYON_TEST_PARAM", "/default"); got != "/default" {
		t.Errorf("got %q", got)
	}
	t.Setenv("TRYON_TEST_PARAM", "/override")
	if got := EnvOrDefault("TRYON_TEST_PARAM", "/default"); got != "/override" {
		t.Errorf("got %q", got)
	}
}

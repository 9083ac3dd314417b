package lambdaboot

import (
	"context"
	"testing"
	"time"

	"github.com/fpang/tryon-pipeline/internal/config"
	"github.com/fpang/tryon-pipeline/internal/model"
	"github.com/fpang/tryon-pipeline/internal/store"
)

func baseConfig() *config.Config {
	return &config.Config{
		APIKey:       "test-key",
		ImageModel:   "image-model",
		TextModel:    "text-model",
		HistoryLimit: 5,
		LogLevel:     "info",
	}
}

func TestNeedsAWS(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
		want   bool
	}{
		{"local only", func(*config.Config) {}, false},
		{"table", func(c *config.Config) { c.TableName = "results" }, true},
		{"bucket", func(c *config.Config) { c.BucketName = "images" }, true},
		{"event bus", func(c *config.Config) { c.EventBus = "tryon" }, true},
		{"ssm without key", func(c *config.Config) { c.APIKey = ""; c.SSMAPIKeyParam = "/p" }, true},
		{"ssm with key", func(c *config.Config) { c.SSMAPIKeyParam = "/p" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.modify(cfg)
			if got := NeedsAWS(cfg); got != tt.want {
				t.Errorf("NeedsAWS = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLocalFallbacks(t *testing.T) {
	cfg := baseConfig()
	cfg.TableName = "results"
	cfg.BucketName = "images"
	cfg.EventBus = "tryon"

	if _, ok := InitStore(nil, cfg).(*store.MemoryStore); !ok {
		t.Error("InitStore without AWS clients should fall back to memory")
	}
	if InitImageStore(nil, cfg) != nil {
		t.Error("InitImageStore without AWS clients should return nil")
	}
	if InitEvents(nil, cfg) != nil {
		t.Error("InitEvents without AWS clients should return nil")
	}

	tracker := InitUsage(context.Background(), cfg)
	tracker.Record(context.Background(), "generate", nil)
	stats, err := tracker.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.RequestsToday != 1 {
		t.Errorf("RequestsToday = %d, want 1", stats.RequestsToday)
	}
}

func TestLoadAPIKeyMissing(t *testing.T) {
	cfg := baseConfig()
	cfg.APIKey = ""
	if err := LoadAPIKey(context.Background(), nil, cfg); !model.IsKind(err, model.KindConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestAssembleLocal(t *testing.T) {
	app, err := Assemble(context.Background(), baseConfig(), nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if app.Coordinator == nil || app.Dispatcher == nil || app.Usage == nil {
		t.Fatalf("incomplete app %+v", app)
	}
	if app.Images != nil {
		t.Error("no bucket configured, Images should be nil")
	}
	if !app.Client.Configured() {
		t.Error("client should carry the API key")
	}

	sl := StartupLog("test", time.Now(), baseConfig(), app)
	if sl == nil {
		t.Fatal("StartupLog returned nil")
	}
}

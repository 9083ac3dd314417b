package logging

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Resource kinds reported under "resources".
const (
	resourceTables     = "dynamoTables"
	resourceBuckets    = "s3Buckets"
	resourceParams     = "ssmParams"
	resourceRedis      = "redis"
	resourceEventBuses = "eventBuses"
)

// StartupLogger collects what a process was wired with and emits it as one
// structured event once initialisation finishes.
type StartupLogger struct {
	name         string
	commitHash   string
	buildTime    string
	initDuration time.Duration

	resources map[string]map[string]string
	features  map[string]bool
	config    map[string]string
}

// NewStartupLogger creates a StartupLogger for the named binary.
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:      name,
		resources: make(map[string]map[string]string),
		features:  make(map[string]bool),
		config:    make(map[string]string),
	}
}

// CommitHash sets the commit the binary was built from.
func (s *StartupLogger) CommitHash(hash string) *StartupLogger {
	s.commitHash = hash
	return s
}

// BuildTime sets the UTC build timestamp.
func (s *StartupLogger) BuildTime(t string) *StartupLogger {
	s.buildTime = t
	return s
}

// DynamoTable registers the table results and subject photos are kept in.
func (s *StartupLogger) DynamoTable(label, name string) *StartupLogger {
	return s.resource(resourceTables, label, name)
}

// S3Bucket registers the bucket generated images are uploaded to.
func (s *StartupLogger) S3Bucket(label, name string) *StartupLogger {
	return s.resource(resourceBuckets, label, name)
}

// SSMParam registers a parameter path. Only the path is logged.
func (s *StartupLogger) SSMParam(label, path string) *StartupLogger {
	return s.resource(resourceParams, label, path)
}

// Redis registers the endpoint shared usage counters live on.
func (s *StartupLogger) Redis(label, addr string) *StartupLogger {
	return s.resource(resourceRedis, label, addr)
}

// EventBus registers the bus result announcements are sent to.
func (s *StartupLogger) EventBus(label, name string) *StartupLogger {
	return s.resource(resourceEventBuses, label, name)
}

func (s *StartupLogger) resource(kind, label, value string) *StartupLogger {
	if s.resources[kind] == nil {
		s.resources[kind] = make(map[string]string)
	}
	s.resources[kind][label] = value
	return s
}

// Feature records whether an optional component is wired.
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config records a non-sensitive configuration value.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long initialisation took.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// EnvOrDefault returns the value of the named environment variable, or
// defaultVal if the variable is empty or unset.
func EnvOrDefault(envVar, defaultVal string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultVal
}

// Log emits the collected information as a single INFO event.
func (s *StartupLogger) Log() {
	process := zerolog.Dict().
		Str("name", s.name).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH)
	if fn := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); fn != "" {
		process = process.
			Str("functionName", fn).
			Str("version", os.Getenv("AWS_LAMBDA_FUNCTION_VERSION")).
			Str("region", os.Getenv("AWS_REGION"))
	}
	if s.commitHash != "" {
		process = process.Str("commitHash", s.commitHash)
	}
	if s.buildTime != "" {
		process = process.Str("buildTime", s.buildTime)
	}

	evt := log.Info().Dict("process", process)

	if len(s.resources) > 0 {
		resources := zerolog.Dict()
		for kind, entries := range s.resources {
			resources = resources.Dict(kind, dictFromMap(entries))
		}
		evt = evt.Dict("resources", resources)
	}
	if len(s.features) > 0 {
		features := zerolog.Dict()
		for k, v := range s.features {
			features = features.Bool(k, v)
		}
		evt = evt.Dict("features", features)
	}
	if len(s.config) > 0 {
		evt = evt.Dict("config", dictFromMap(s.config))
	}
	if s.initDuration > 0 {
		evt = evt.Dur("initDuration", s.initDuration)
	}

	evt.Msg("Startup complete")
}

func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}

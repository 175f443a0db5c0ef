package env

import (
	"time"

	"github.com/fedspend/broker/pkg/log"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

var variables = new(Environment)

// Process the environment variables set for the broker.
func Process() error {
	if err := envconfig.Process("broker", variables); err != nil {
		return errors.Wrap(err, "failed to process environment variables")
	}

	// set the log level
	if err := log.SetLevel(variables.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}

	return nil
}

// Variables returns the processed environment variables.
func Variables() Environment {
	return *variables
}

// Environment defines the environment variables used
// by the broker.
type Environment struct {
	LogLevel              string        `split_words:"true" default:"info"`
	Port                  int           `default:"8080"`
	NodeID                string        `split_words:"true" default:""` // hostname
	DatabaseType          string        `split_words:"true" default:"postgres"`
	DatabaseDSN           string        `split_words:"true" default:"host=postgres user=postgres password=postgres dbname=broker port=5432 sslmode=disable"`
	DatabaseSlowThreshold time.Duration `split_words:"true" default:"2s"`
	WorkerConcurrency     int           `split_words:"true" default:"4"`
	WorkerPollInterval    time.Duration `split_words:"true" default:"2s"`
	WorkerLeaseTTL        time.Duration `split_words:"true" default:"30m"`
	JobMaxAttempts        int           `split_words:"true" default:"3"`
	ValidationChunkSize   int           `split_words:"true" default:"10000"`
	ValidationParallelism int           `split_words:"true" default:"1"`
	RulePaths             GlobList      `split_words:"true" default:""`
	StorageType           string        `split_words:"true" default:"local"`
	StorageRoot           string        `split_words:"true" default:"/var/lib/broker"`
	MinioEndpoint         string        `split_words:"true" default:""`
	MinioAccessKey        string        `split_words:"true" default:""`
	MinioSecretKey        string        `split_words:"true" default:""`
	MinioBucket           string        `split_words:"true" default:"broker"`
	MinioUseSSL           bool          `split_words:"true" default:"true"`
	PurgeSchedule         string        `split_words:"true" default:"0 3 * * *"`
	PurgeAfter            time.Duration `split_words:"true" default:"4380h"`
	ReapSchedule          string        `split_words:"true" default:"*/5 * * * *"`
	JanitorTimezone       string        `split_words:"true" default:"UTC"`
	WorkerFileTypes       string        `split_words:"true" default:""`
}

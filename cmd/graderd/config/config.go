package config

import (
	"os"
	"runtime"
	"time"

	"github.com/koding/multiconfig"
)

// Config defines grading daemon configuration
type Config struct {
	// exercises
	ExerciseDir string `flagUsage:"directory holding exercise definition yaml files" default:"exercises"`

	// scheduler
	Parallelism  int `flagUsage:"number of concurrent grading slots (default equal to number of cpu)"`
	QueueDepth   int `flagUsage:"max queued grading requests before rejection" default:"64"`
	PerCallerCap int `flagUsage:"max queued or running requests per caller" default:"1"`

	// sandbox
	ScratchRoot string        `flagUsage:"directory for per-run scratch dirs (temp dir by default)"`
	Grace       time.Duration `flagUsage:"termination grace margin past the wall clock budget" default:"500ms"`
	UseDocker   bool          `flagUsage:"run submissions in throwaway containers instead of limited processes"`
	DockerImage string        `flagUsage:"interpreter image for the container sandbox" default:"python:3.12-alpine"`

	// server config
	HTTPAddr      string  `flagUsage:"specifies the http binding address" default:":8070"`
	MonitorAddr   string  `flagUsage:"specifies the metrics binding address" default:":8071"`
	AuthToken     string  `flagUsage:"bearer token auth for REST and websocket"`
	EnableDebug   bool    `flagUsage:"enable debug endpoint"`
	EnableMetrics bool    `flagUsage:"enable prometheus metrics endpoint"`
	GlobalRPS     float64 `flagUsage:"global rate limit in requests per second (0 disables)"`
	CallerRPS     float64 `flagUsage:"per-caller rate limit in requests per second (0 disables)"`
	CallerBurst   int     `flagUsage:"per-caller rate limit burst" default:"4"`

	// logger config
	Release bool `flagUsage:"release level of logs"`
	Silent  bool `flagUsage:"do not print logs"`

	// show version and exit
	Version bool `flagUsage:"show version and exit"`
}

// Load loads config from flag & environment variables
func (c *Config) Load() error {
	cl := multiconfig.MultiLoader(
		&multiconfig.TagLoader{},
		&multiconfig.EnvironmentLoader{
			Prefix:    "GRADER",
			CamelCase: true,
		},
		&multiconfig.FlagLoader{
			CamelCase: true,
			EnvPrefix: "GRADER",
		},
	)
	if os.Getpid() == 1 {
		c.Release = true
	}
	if c.Parallelism <= 0 {
		c.Parallelism = runtime.NumCPU()
	}
	return cl.Load(c)
}

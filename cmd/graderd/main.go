// Command graderd starts a http server that grades exercise submissions
// inside a sandbox.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/masteryhub/grader/cmd/graderd/config"
	restgrader "github.com/masteryhub/grader/cmd/graderd/rest_grader"
	"github.com/masteryhub/grader/cmd/graderd/version"
	wsgrader "github.com/masteryhub/grader/cmd/graderd/ws_grader"
	"github.com/masteryhub/grader/exercise"
	"github.com/masteryhub/grader/harness"
	"github.com/masteryhub/grader/sandbox"
	"github.com/masteryhub/grader/sandbox/dockerbox"
	"github.com/masteryhub/grader/sandbox/procbox"
	"github.com/masteryhub/grader/worker"
)

var logger *zap.Logger

func main() {
	conf := loadConf()
	if conf.Version {
		fmt.Println(version.Version)
		return
	}
	initLogger(conf)
	defer logger.Sync()
	if ce := logger.Check(zap.InfoLevel, "Config loaded"); ce != nil {
		ce.Write(zap.String("config", fmt.Sprintf("%+v", conf)))
	}
	warnIfNotLinux(conf)

	store := loadExercises(conf)
	exec := newExecutor(conf)
	work := newWorker(conf, exec, store)
	work.Start()
	logger.Info("Worker started",
		zap.Int("parallelism", conf.Parallelism),
		zap.Int("queueDepth", conf.QueueDepth),
		zap.Int("perCallerCap", conf.PerCallerCap),
		zap.Int("exercises", store.Len()))
	if conf.EnableMetrics {
		pollQueueDepth(work, 5*time.Second)
	}

	servers := []initFunc{
		cleanUpWorker(work),
		initHTTPServer(conf, work, store),
		initMonitorHTTPServer(conf),
	}

	// Gracefully shutdown, with signal / HTTP server / Monitor HTTP server
	sig := make(chan os.Signal, 1+len(servers))

	stops := []stopFunc{}
	for _, s := range servers {
		start, stop := s()
		if start != nil {
			go func() {
				start()
				sig <- os.Interrupt
			}()
		}
		if stop != nil {
			stops = append(stops, stop)
		}
	}

	// Graceful shutdown...
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	signal.Reset(syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Shutting Down...")

	ctx, cancel := context.WithTimeout(context.TODO(), time.Second*3)
	defer cancel()

	var eg errgroup.Group
	for _, s := range stops {
		s := s
		eg.Go(func() error {
			return s(ctx)
		})
	}

	go func() {
		logger.Info("Shutdown Finished", zap.Error(eg.Wait()))
		cancel()
	}()
	<-ctx.Done()
}

func warnIfNotLinux(conf *config.Config) {
	if runtime.GOOS != "linux" && !conf.UseDocker {
		logger.Warn("Platform is not primarily supported", zap.String("GOOS", runtime.GOOS))
		logger.Warn("Process sandboxing enforces only the wall clock limit here")
		logger.Warn("Use the docker sandbox for full resource enforcement")
	}
}

func loadConf() *config.Config {
	var conf config.Config
	if err := conf.Load(); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatalln("load config failed ", err)
	}
	return &conf
}

type (
	stopFunc func(ctx context.Context) error
	initFunc func() (start func(), cleanUp stopFunc)
)

func initLogger(conf *config.Config) {
	if conf.Silent {
		logger = zap.NewNop()
		return
	}

	var err error
	if conf.Release {
		logger, err = zap.NewProduction()
	} else {
		config := zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if !conf.EnableDebug {
			config.Level.SetLevel(zap.InfoLevel)
		}
		logger, err = config.Build()
	}
	if err != nil {
		log.Fatalln("init logger failed ", err)
	}
}

func loadExercises(conf *config.Config) *exercise.Store {
	store, err := exercise.LoadDir(conf.ExerciseDir)
	if err != nil {
		logger.Fatal("load exercises failed", zap.Error(err))
	}
	if store.Len() == 0 {
		logger.Warn("no exercises loaded", zap.String("dir", conf.ExerciseDir))
	}
	return store
}

func newExecutor(conf *config.Config) sandbox.Executor {
	if conf.UseDocker {
		e, err := dockerbox.New(dockerbox.Config{
			Image:  conf.DockerImage,
			Grace:  conf.Grace,
			Logger: logger,
		})
		if err != nil {
			logger.Fatal("create docker sandbox failed", zap.Error(err))
		}
		logger.Info("Using docker sandbox", zap.String("image", conf.DockerImage))
		return e
	}
	e, err := procbox.New(procbox.Config{
		Root:   conf.ScratchRoot,
		Grace:  conf.Grace,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("create process sandbox failed", zap.Error(err))
	}
	return e
}

func newWorker(conf *config.Config, exec sandbox.Executor, store *exercise.Store) worker.Worker {
	w := worker.New(worker.Config{
		Parallelism:  conf.Parallelism,
		QueueDepth:   conf.QueueDepth,
		PerCallerCap: conf.PerCallerCap,
		Grader:       harness.New(exec, logger),
		Logger:       logger,
		ExecObserver: execObserve,
	})
	if conf.EnableMetrics {
		w = newMetricsWorker(w)
	}
	return w
}

func cleanUpWorker(work worker.Worker) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		return nil, func(ctx context.Context) error {
			work.Shutdown()
			logger.Info("Worker shutdown")
			return nil
		}
	}
}

func initHTTPServer(conf *config.Config, work worker.Worker, store *exercise.Store) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		r := initHTTPMux(conf, work, store)
		srv := http.Server{
			Addr:    conf.HTTPAddr,
			Handler: r,
		}

		return func() {
				lis, err := net.Listen("tcp", conf.HTTPAddr)
				if err != nil {
					logger.Error("Http server listen failed", zap.Error(err))
					return
				}
				logger.Info("Starting http server", zap.String("addr", conf.HTTPAddr))
				if err := srv.Serve(lis); errors.Is(err, http.ErrServerClosed) {
					logger.Info("Http server stopped", zap.Error(err))
				} else {
					logger.Error("Http server stopped", zap.Error(err))
				}
			}, func(ctx context.Context) error {
				logger.Info("Http server shutting down")
				return srv.Shutdown(ctx)
			}
	}
}

func initMonitorHTTPServer(conf *config.Config) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		mr := initMonitorHTTPMux(conf)
		if mr == nil {
			return nil, nil
		}
		msrv := http.Server{
			Addr:    conf.MonitorAddr,
			Handler: mr,
		}
		return func() {
				lis, err := net.Listen("tcp", conf.MonitorAddr)
				if err != nil {
					logger.Error("Monitoring http listen failed", zap.Error(err))
					return
				}
				logger.Info("Starting monitoring http server", zap.String("addr", conf.MonitorAddr))
				logger.Info("Monitoring http server stopped", zap.Error(msrv.Serve(lis)))
			}, func(ctx context.Context) error {
				logger.Info("Monitoring http server shutdown")
				return msrv.Shutdown(ctx)
			}
	}
}

func initHTTPMux(conf *config.Config, work worker.Worker, store *exercise.Store) http.Handler {
	var r *gin.Engine
	if conf.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	r = gin.New()
	r.Use(ginzap.Ginzap(logger, "", false))
	r.Use(ginzap.RecoveryWithZap(logger, true))

	// Metrics Handle
	if conf.EnableMetrics {
		initGinMetrics(r)
	}

	// Rate limiting in front of everything auth'd
	if conf.GlobalRPS > 0 || conf.CallerRPS > 0 {
		rl := newRateLimiter(conf.GlobalRPS, conf.CallerRPS, conf.CallerBurst)
		r.Use(rl.middleware())
	}

	// Version handle
	r.GET("/version", handleVersion)

	// Add auth token
	if conf.AuthToken != "" {
		r.Use(tokenAuth(conf.AuthToken))
		logger.Info("Attach token auth")
	}

	// Rest Handle
	gradeHandle := restgrader.NewGradeHandle(work, store, logger)
	gradeHandle.Register(r)
	exerciseHandle := restgrader.NewExerciseHandle(store)
	exerciseHandle.Register(r)

	// WebSocket Handle
	wsHandle := wsgrader.New(work, store, logger)
	wsHandle.Register(r)

	return r
}

func initMonitorHTTPMux(conf *config.Config) http.Handler {
	if !conf.EnableMetrics && !conf.EnableDebug {
		return nil
	}
	mux := http.NewServeMux()
	if conf.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	if conf.EnableDebug {
		initDebugRoute(mux)
	}
	return mux
}

func initDebugRoute(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func initGinMetrics(r *gin.Engine) {
	p := ginprometheus.NewWithConfig(ginprometheus.Config{
		Subsystem:          "gin",
		DisableBodyReading: true,
	})
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		return c.FullPath()
	}
	r.Use(p.HandlerFunc())
}

func tokenAuth(token string) gin.HandlerFunc {
	const bearer = "Bearer "
	return func(c *gin.Context) {
		reqToken := c.GetHeader("Authorization")
		if strings.HasPrefix(reqToken, bearer) && reqToken[len(bearer):] == token {
			c.Next()
			return
		}
		c.AbortWithStatus(http.StatusUnauthorized)
	}
}

func handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"buildVersion":        version.Version,
		"goVersion":           runtime.Version(),
		"platform":            runtime.GOARCH,
		"os":                  runtime.GOOS,
		"defaultRunCommand":   exercise.DefaultRunCommand,
		"comparators":         exercise.ComparatorNames(),
		"hiddenTestRedaction": true,
	})
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	restgraph "github.com/skuid/restgraph"
	"github.com/skuid/restgraph/examples/chinook"
	"github.com/skuid/restgraph/model"
	"github.com/skuid/restgraph/queryparam"
	"github.com/skuid/restgraph/resource"
	"github.com/skuid/restgraph/router"
	"github.com/skuid/restgraph/schema"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func newLogger(debug bool) *zap.Logger {
	if debug {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewNop()
		}
		return logger
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// buildRouter wires a router.Registry over the chinook domain, backed by
// a real restgraph.Session when databaseURL is set or by the in-memory
// chinook.MemoryStore otherwise — the same Schema/Resource construction
// either way (model.Reflect + schema.NewFromModel), only the Store
// collaborator differs.
func buildRouter(databaseURL string, strict bool, pageMaxSize int, logger *zap.Logger) (*router.Router, error) {
	if databaseURL == "" {
		env := chinook.NewEnvironment()
		chinook.Seed(env)
		rt := env.Router
		rt.Strict = strict
		rt.WithLogger(logger)
		for _, path := range chinook.CollectionNames {
			if res, ok := rt.Registry.Get(path); ok {
				res.Strict = strict
				res.PageMaxSize = queryparam.FixedPageSize(pageMaxSize)
				res.WithLogger(logger)
			}
		}
		return rt, nil
	}

	if err := restgraph.NewConnection(restgraph.ConnectionProps{ConnString: databaseURL}); err != nil {
		return nil, fmt.Errorf("restgraphd: failed to connect to database: %w", err)
	}
	sess := restgraph.NewSession(restgraph.GetConnection())

	registry := schema.NewRegistry()
	for _, m := range chinook.ModelTypes {
		t := reflect.TypeOf(m)
		name := model.Reflect(t).Name
		entity := sess.Register(name, "", t)
		registry.Register(schema.NewFromModel(entity, registry))
	}

	rtReg := router.NewRegistry()
	for name, path := range chinook.CollectionNames {
		sch := registry.Get(name)
		res := resource.New(sch, sess).WithLogger(logger)
		res.Strict = strict
		res.PageMaxSize = queryparam.FixedPageSize(pageMaxSize)
		rtReg.Register(path, res)
	}

	return router.New(rtReg, strict).WithLogger(logger), nil
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Debug)
	defer logger.Sync()

	rt, err := buildRouter(cfg.DatabaseURL, cfg.Strict, cfg.PageMaxSize, logger)
	if err != nil {
		logger.Fatal("failed to build router", zap.Error(err))
	}

	handler := newHandler(rt, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("restgraphd listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
	restgraph.CloseConnection()
	return nil
}

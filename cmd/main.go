package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"module-host/auth"
	"module-host/db"
	"module-host/dispatch"
	"module-host/handlers"
	"module-host/ledger"
	"module-host/logger"
	"module-host/metrics"
	"module-host/modules/balances"
	"module-host/registry"
	"module-host/repository"
	"module-host/routers"
	"module-host/state"
)

func main() {
	// Load config
	viper.SetConfigFile("config/config.yaml")
	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("Config file error:", err)
		os.Exit(1)
	}

	appLogFile := viper.GetString("log.app_log_file")
	logLevel := viper.GetString("log.level")

	if err := logger.InitLogger(appLogFile, logLevel); err != nil {
		fmt.Println("Failed to initialize logger:", err)
		os.Exit(1)
	}

	logger.Logger.Info("Starting module host...")

	// Connect to LevelDB
	leveldbPath := viper.GetString("leveldb.path")
	ldb, err := db.NewLevelDB(leveldbPath)
	if err != nil {
		logger.Logger.Fatal("Failed to open leveldb", zap.Error(err))
	}
	defer ldb.Close()

	// One lock serializes every externally triggered mutation; the host is
	// a single sequential transaction log.
	hostMu := &sync.Mutex{}
	met := metrics.New()

	// Shared module state and the checkpoint ledger
	stateStore, err := state.NewStore(ldb)
	if err != nil {
		logger.Logger.Fatal("Failed to load state", zap.Error(err))
	}
	ldg, err := ledger.NewLedger(repository.NewLedgerRepository(ldb), hostMu, met)
	if err != nil {
		logger.Logger.Fatal("Failed to load ledger", zap.Error(err))
	}

	// Dispatcher and registry reference each other: the dispatcher's module
	// table is the registry's code table, the registry is the dispatcher's
	// resolver.
	disp := dispatch.NewDispatcher(ldb, stateStore, ldg, hostMu, met)
	if err := disp.Register(balances.New()); err != nil {
		logger.Logger.Fatal("Failed to register module", zap.Error(err))
	}
	reg, err := registry.NewService(repository.NewRegistryRepository(ldb), disp, disp, hostMu, met)
	if err != nil {
		logger.Logger.Fatal("Failed to load registry", zap.Error(err))
	}
	disp.SetResolver(reg)

	authn := auth.New(viper.GetString("auth.jwt_secret"), viper.GetString("auth.owner"))

	// Initialize HTTP handlers
	h := handlers.NewHandler(reg, disp, ldg, authn, handlers.BalanceFunc(func(account string) uint64 {
		return balances.Balance(stateStore, account)
	}))

	// Setup router
	r := mux.NewRouter()
	routers.RegisterRoutes(r, h, authn)

	// HTTP Server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", viper.GetInt("server.port")),
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Logger.Info("Server stopped", zap.Error(err))
		}
	}()

	logger.Logger.Info("Server running on port", zap.Int("port", viper.GetInt("server.port")))

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Logger.Info("Shutdown signal received, exiting...")
	srv.Close()
}

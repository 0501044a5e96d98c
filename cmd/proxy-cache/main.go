package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	proxycache "github.com/always-cache/proxy-cache"
	"github.com/always-cache/proxy-cache/admin"
	"github.com/always-cache/proxy-cache/cache"
	"github.com/always-cache/proxy-cache/config"
	origin "github.com/always-cache/proxy-cache/pkg/origin-client"
)

var (
	// CLI flags
	configFilenameFlag string
	originFlag         string
	portFlag           int
	ttlFlag            int
	adminPortFlag      int
	providerFlag       string
	dbFilenameFlag     string
	consoleFlag        bool
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "config.yaml", "Config file to use (optional)")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.IntVar(&ttlFlag, "ttl", 0, "Cache entry lifetime in minutes (default 5)")
	flag.IntVar(&adminPortFlag, "admin-port", 0, "Port of the admin API (0 disables it)")
	flag.StringVar(&providerFlag, "provider", config.ProviderMemory, "Cache provider: memory or sqlite")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name for the sqlite provider (use 'memory' for in-memory db)")
	flag.BoolVar(&consoleFlag, "console", false, "Read admin commands from stdin")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	cfg := loadConfig()
	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Server stopped with error")
	}
}

// run serves until a signal, the admin API or the console stops the proxy.
// The store is closed before it returns, whatever the outcome.
func run(cfg config.Config) error {
	originClient, err := origin.New(cfg.URL)
	if err != nil {
		return fmt.Errorf("creating origin client: %w", err)
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return fmt.Errorf("opening cache db: %w", err)
	}
	store := cache.NewStore(cache.Config{
		Provider: provider,
		TTL:      cfg.TTL(),
	})
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Could not close cache")
		}
	}()

	server, err := proxycache.New(proxycache.Config{
		Addr:   cfg.Addr(),
		Store:  store,
		Origin: originClient,
	})
	if err != nil {
		return err
	}

	var adminListener net.Listener
	if addr := cfg.AdminAddr(); addr != "" {
		if adminListener, err = net.Listen("tcp", addr); err != nil {
			return fmt.Errorf("listening on admin port %d: %w", cfg.AdminPort, err)
		}
	}

	log.Info().Msgf("Proxying port %d to %s (ttl %s)", cfg.Port, cfg.URL, store.TTL())

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// cancelled when the proxy stops for any reason, so the other goroutines follow
	ctx, cancel := context.WithCancel(signalCtx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		if err := server.ListenAndServe(); !errors.Is(err, proxycache.ErrServerClosed) {
			return fmt.Errorf("listening on port %d: %w", cfg.Port, err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return server.RequestShutdown()
	})

	if adminListener != nil {
		adminServer := &http.Server{
			Handler:           admin.NewRouter(server, log.Logger.With().Str("component", "admin").Logger()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		log.Info().Msgf("Admin API listening on port %d", cfg.AdminPort)

		g.Go(func() error {
			if err := adminServer.Serve(adminListener); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			return adminServer.Shutdown(shutdownCtx)
		})
	}

	if consoleFlag {
		// not part of the group: a read from stdin cannot be interrupted
		go func() {
			if err := admin.NewConsole(server, os.Stdin, os.Stdout).Run(); err != nil {
				log.Error().Err(err).Msg("Console stopped")
			}
		}()
	}

	return g.Wait()
}

// loadConfig reads the config file and environment, applies the flags given on the
// command line and validates the result.
func loadConfig() config.Config {
	cfg, err := config.Load(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "origin":
			cfg.URL = originFlag
		case "port":
			cfg.Port = portFlag
		case "ttl":
			cfg.TTLMinutes = ttlFlag
		case "admin-port":
			cfg.AdminPort = adminPortFlag
		case "provider":
			cfg.Provider = providerFlag
		case "db":
			cfg.DB = dbFilenameFlag
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	return cfg
}

func newProvider(cfg config.Config) (cache.Provider, error) {
	if cfg.Provider != config.ProviderSQLite {
		return cache.NewMemCache(), nil
	}
	// set up sqlite memory provider
	dbFilename := cfg.DB
	if dbFilename == "memory" {
		dbFilename = ""
	}
	return cache.NewSQLiteCache(dbFilename)
}

// Command htdocsd serves files of ./htdocs to clients sending a single request line.
//
//	htdocsd [-config file] [-host addr] [-log-level level] [port]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/kfcemployee/htdocsd/internal/config"
	"github.com/kfcemployee/htdocsd/internal/logger"
	"github.com/kfcemployee/htdocsd/server"
)

func main() {
	var (
		configPath = flag.String("config", "", "yaml config file")
		host       = flag.String("host", "", "IPv4 address to bind (default 0.0.0.0)")
		logLevel   = flag.String("log-level", "", "log level: debug, info, warn, error")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [options] [port]\n\noptions:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// until config is read, complain to stderr in console format
	boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("load config")
	}

	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if flag.NArg() > 0 {
		cfg.Server.Port = portArg(flag.Arg(0))
	}
	if err := cfg.Validate(); err != nil {
		boot.Fatal().Err(err).Msg("invalid options")
	}

	log, err := logger.New(cfg.Log, os.Stderr)
	if err != nil {
		boot.Fatal().Err(err).Msg("create logger")
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("create server")
	}

	if err := srv.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// port argument that is not a positive number means the default port
func portArg(s string) int {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 {
		return config.DefaultPort
	}
	return port
}

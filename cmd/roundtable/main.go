/*
Runs the roundtable chat server. Defaults to listening on port 6667.

Example:

	go run ./cmd/roundtable --config config.yaml
	go run ./cmd/roundtable --config config.yaml --port 6697
*/
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/roundtable/roundtable"
	"github.com/roundtable/roundtable/logger"
)

var (
	configPath = flag.String("config", "config.yaml", "path to the configuration file")
	port       = flag.Int("port", 0, "override the configured listen port")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	config, warnings, err := roundtable.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *port != 0 {
		config.Server.Port = *port
	}

	level, ok := logger.LevelNames[config.Logging.Level]
	if !ok {
		log.Fatalf("unknown log level %q", config.Logging.Level)
	}
	lm, err := logger.NewManager(level, config.Logging.Directory, config.Logging.EnableFile)
	if err != nil {
		log.Fatal(err)
	}
	defer lm.Close()
	for _, w := range warnings {
		lm.Warning(w)
	}

	srv, err := roundtable.Listen(ctx, config, lm)
	if err != nil {
		log.Fatal(err)
	}

	for {
		<-time.After(time.Minute)
		lm.Debug("still listening on " + srv.Addr().String())
	}
}

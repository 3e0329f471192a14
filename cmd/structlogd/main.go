// Command structlogd runs the logging pipeline as a standalone daemon:
// load configuration, build the sink/masking/serializer stack, and serve
// a Prometheus metrics and health endpoint until SIGINT/SIGTERM.
package main

import (
	"flag"
	"fmt"
	"os"

	"structlog/internal/app"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.Parse()

	if configFile == "" {
		if envConfigFile := os.Getenv("STRUCTLOGD_CONFIG_FILE"); envConfigFile != "" {
			configFile = envConfigFile
		} else {
			configFile = "/etc/structlogd/config.yaml"
		}
	}

	application, err := app.New(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create structlogd: %v\n", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "structlogd error: %v\n", err)
		os.Exit(1)
	}
}

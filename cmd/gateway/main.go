/*
This command provides the executable gateway of the assessment
platform.

For the list of command line options, run:

	gateway -help
*/
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/assesshub/gateway"
	"github.com/assesshub/gateway/config"
)

const version = "0.9.0"

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("error processing config: %v", err)
	}

	if cfg.PrintVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	log.Fatal(gateway.Run(cfg.ToOptions()))
}

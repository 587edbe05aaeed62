package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dnstapir/telemetry-dashboard/setup"
)

func main() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	var filename string
	var useDefaults bool

	flag.StringVar(&filename,
		"config-file",
		"config.toml",
		"Dashboard config file",
	)
	flag.BoolVar(&useDefaults,
		"defaults",
		false,
		"Ignore config file and use the built in configuration",
	)

	flag.Parse()

	conf := setup.DefaultConf()
	if useDefaults {
		setup.ApplyEnv(&conf)
	} else {
		var err error
		conf, err = setup.LoadConf(filename)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading config: %s\n", err)
			os.Exit(1)
		}
	}

	application, err := setup.BuildApp(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error setting up application: %s\n", err)
		os.Exit(1)
	}

	err = application.Initialize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error initializing application: %s\n", err)
		os.Exit(1)
	}

	fmt.Println("###### starting telemetry-dashboard...")
	doneCh := application.Run()

	exitCode := 0
	select {
	case s := <-c:
		fmt.Printf("###### telemetry-dashboard got signal '%s', exiting...\n", s)
	case err := <-doneCh:
		fmt.Fprintf(os.Stderr, "###### telemetry-dashboard failed: %s\n", err)
		exitCode = 1
	}

	application.Stop()
	os.Exit(exitCode)
}

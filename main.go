package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/configcat/configcat-experiment-hook/config"
	"github.com/configcat/configcat-experiment-hook/delivery"
	"github.com/configcat/configcat-experiment-hook/diag"
	"github.com/configcat/configcat-experiment-hook/diag/status"
	"github.com/configcat/configcat-experiment-hook/diag/telemetry"
	"github.com/configcat/configcat-experiment-hook/hook"
	"github.com/configcat/configcat-experiment-hook/log"
	"github.com/configcat/configcat-experiment-hook/model"
	"github.com/configcat/configcat-experiment-hook/sdk"
	"github.com/joho/godotenv"
)

const (
	exitOk = iota
	exitFailure
)

const (
	defaultValue = "Control"
	initTimeout  = 10 * time.Second
)

var out io.Writer = os.Stdout

var version = "0.1.0"

func main() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)

	os.Exit(run(sigChan))
}

func run(closeSignal chan os.Signal) int {
	logger := log.NewLogger(os.Stderr, os.Stdout, log.Warn)
	logger.Reportf("experiment hook demo starting...")
	var configFile string
	flag.StringVar(&configFile, "c", "", "path to the configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("failed to load .env file: %s", err)
	}

	conf, err := config.LoadConfigFromFileAndEnvironment(configFile)
	if err != nil {
		logger.Errorf("%s", err)
		return exitFailure
	}
	err = conf.Validate()
	if err != nil {
		logger.Errorf("%s", err)
		return exitFailure
	}
	evalCtx, err := model.ExampleContext(conf.Context)
	if err != nil {
		logger.Errorf("%s", err)
		return exitFailure
	}

	logger = logger.WithLevel(conf.Log.GetLevel())

	errorChan := make(chan error)

	statusReporter := status.NewReporter(&conf)

	telemetryReporter := telemetry.NewEmptyReporter()
	if conf.Diag.IsMetricsEnabled() || conf.Diag.IsTracesEnabled() {
		telemetryReporter = telemetry.NewReporter(&conf.Diag, version, logger)
	}

	var diagServer *diag.Server
	if conf.Diag.Enabled && (conf.Diag.Metrics.Enabled || conf.Diag.Status.Enabled) {
		diagServer = diag.NewServer(&conf.Diag, statusReporter, telemetryReporter, logger, errorChan)
		diagServer.Listen()
	}
	closeAll := func(client sdk.Client, deliveryClient *delivery.Client) {
		shutdown(client, deliveryClient, diagServer, telemetryReporter)
	}

	// a delivery client that can't be created only disables event sending
	var sender hook.Sender
	deliveryClient, err := delivery.NewClient(context.Background(), &conf.Delivery, logger,
		delivery.WithTelemetryReporter(telemetryReporter), delivery.WithStatusReporter(statusReporter))
	if err != nil {
		var confErr *delivery.ConfigError
		if errors.As(err, &confErr) {
			logger.Warnf("event delivery disabled: %s", err)
		} else {
			logger.Errorf("failed to initialize event delivery: %s", err)
		}
		statusReporter.ReportError(status.Delivery, err.Error())
	} else {
		sender = deliveryClient
	}

	hooks := []hook.Hook{hook.NewExperimentHook(sender, logger.WithLevel(conf.Hook.Log.GetLevel()),
		hook.WithTelemetryReporter(telemetryReporter))}

	var client sdk.Client
	if conf.OFREP.IsSet() {
		client, err = sdk.NewOFREPClient(&conf.OFREP, hooks, logger)
		if err != nil {
			closeAll(nil, deliveryClient)
			return exitFailure
		}
	} else {
		client = sdk.NewClient(&sdk.Context{
			SDKConf:           &conf.SDK,
			ProxyConf:         &conf.HttpProxy,
			Hooks:             hooks,
			TelemetryReporter: telemetryReporter,
			StatusReporter:    statusReporter,
		}, logger)
	}

	select {
	case <-client.Ready():
		logger.Reportf("SDK successfully initialized")
		if keys := client.Keys(); len(keys) > 0 && !slices.Contains(keys, conf.FlagKey) {
			logger.Warnf("feature flag '%s' not found in the config, available keys: %v", conf.FlagKey, keys)
		}
	case <-time.After(initTimeout):
		logger.Errorf("SDK failed to initialize, please check your internet connection and SDK key")
		closeAll(client, deliveryClient)
		return exitFailure
	case <-closeSignal:
		closeAll(client, deliveryClient)
		return exitOk
	case err = <-errorChan:
		logger.Errorf("%s", err)
		closeAll(client, deliveryClient)
		return exitFailure
	}

	evaluate := func() {
		result, _ := client.Eval(context.Background(), conf.FlagKey, evalCtx, defaultValue)
		showEvaluationResult(conf.FlagKey, result.Value)
	}
	evaluate()

	if conf.CI {
		closeAll(client, deliveryClient)
		return exitOk
	}

	changes := make(chan struct{}, 1)
	client.Subscribe(changes)
	logger.Reportf("waiting for changes")
	for {
		select {
		case <-changes:
			evaluate()
		case sig := <-closeSignal:
			if sig == syscall.SIGHUP {
				logger.Reportf("refreshing config")
				if err = client.Refresh(context.Background()); err != nil {
					logger.Errorf("config refresh failed: %s", err)
				}
				continue
			}
			client.Unsubscribe(changes)
			closeAll(client, deliveryClient)
			return exitOk
		case err = <-errorChan:
			logger.Errorf("%s", err)
			client.Unsubscribe(changes)
			closeAll(client, deliveryClient)
			return exitFailure
		}
	}
}

func shutdown(client sdk.Client, deliveryClient *delivery.Client, diagServer *diag.Server, telemetryReporter telemetry.Reporter) {
	if client != nil {
		client.Close()
	}
	if deliveryClient != nil {
		deliveryClient.Close()
	}
	if diagServer != nil {
		diagServer.Shutdown()
	}
	telemetryReporter.Shutdown()
}

func showEvaluationResult(key string, value interface{}) {
	_, _ = fmt.Fprintf(out, "\n*** The %s feature flag evaluates to %v\n", key, value)
	if isTruthy(value) {
		showBanner()
	}
}

func showBanner() {
	_, _ = fmt.Fprint(out, `
        ██
          ██
      ████████
         ███████
██ CONFIGCAT ████
         ███████
      ████████
          ██
        ██

`)
}

func isTruthy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case float64:
		return v != 0
	}
	return true
}

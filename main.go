package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"dmarcimport/internal/config"
	"dmarcimport/internal/runner"
	"dmarcimport/internal/store"
)

var log = logrus.New()

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "Config file to use")
	quiet := flag.Bool("quiet", false, "Only log errors")
	verbose := flag.Bool("v", false, "Print debug output")
	logLevel := flag.String("log-level", "", "Log level: error, warn, info or debug (overrides the config file)")
	logFile := flag.String("log-file", "", "Also write the log to this file (overrides the config file)")
	noStdout := flag.Bool("no-stdout", false, "Do not log to stdout")
	flag.Parse()

	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	if *configFile == "" {
		log.Error("please supply a config file")
		return 1
	}

	// set some defaults
	defaults := config.Configuration{
		Source: "imap",
		ImapConfig: config.IMAPConfig{
			Port:        143,
			Encryption:  "none",
			Protocol:    "imap",
			FolderInbox: "INBOX",
			Timeout: config.Duration{
				Duration: 30 * time.Second,
			},
		},
		Database: config.DatabaseConfig{
			Host: "localhost",
			Port: 3306,
		},
		LogLevel:    "info",
		LogToStdout: true,
	}

	settings, err := config.GetConfig(defaults, *configFile)
	if err != nil {
		log.Errorf("could not read %s: %v", *configFile, err)
		return 1
	}

	// command line flags win over the config file
	if *quiet {
		settings.LogLevel = "error"
	}
	if *verbose {
		settings.LogLevel = "debug"
	}
	if *logLevel != "" {
		settings.LogLevel = *logLevel
	}
	if *logFile != "" {
		settings.LogFile = *logFile
	}
	if *noStdout {
		settings.LogToStdout = false
	}

	if err := setupLogger(settings); err != nil {
		log.Errorf("could not set up logging: %v", err)
		return 1
	}

	// trap Ctrl+C and call cancel on the context
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	defer func() {
		signal.Stop(c)
		cancel()
	}()

	go func() {
		<-c
		log.Info("CTRL+C received")
		cancel()
	}()

	// the summary is emitted on every exit path from here on,
	// terminal failures included
	stats := &runner.Stats{}
	exit := func(code int) int {
		log.Info(stats.Summary())
		return code
	}

	db, err := store.Open(settings.Database, log)
	if err != nil {
		log.Errorf("Database connection failed: %v", err)
		return exit(1)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Errorf("Database connection failed: %v", err)
		return exit(1)
	}
	defer sqlDB.Close()

	reportStore := store.New(db, log)
	if err := reportStore.Migrate(); err != nil {
		log.Errorf("Couldn't create tables: %v", err)
		return exit(1)
	}

	r := runner.New(log, reportStore, settings, stats)
	if err := r.Run(ctx); err != nil {
		log.Errorf("Received error: %v", err)
		return exit(1)
	}

	return exit(0)
}

func setupLogger(settings *config.Configuration) error {
	level, err := logrus.ParseLevel(settings.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	var writers []io.Writer
	if settings.LogToStdout {
		writers = append(writers, os.Stdout)
	}
	if settings.LogFile != "" {
		f, err := os.Create(settings.LogFile) // nolint: gosec
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}
	if len(writers) == 0 {
		log.SetOutput(io.Discard)
		return nil
	}
	log.SetOutput(io.MultiWriter(writers...))

	// colors only make sense on an interactive terminal and break
	// the log file
	tty := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: !tty || settings.LogFile != "",
	})

	return nil
}

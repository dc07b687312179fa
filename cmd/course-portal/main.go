// Package main is the entry point for the course portal client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"course-portal-go/internal/app"
	"course-portal-go/pkg/config"
	"course-portal-go/pkg/logging"
)

const usage = `usage: course-portal [-config file] <command> [flags]

commands:
  serve                                  run the local API and stream server
  courses [-all]                         list courses
  tree -course ID [-kind K] [-title T]   print a course's content tree, or search it
  assignments -course ID [-pending]      list assignments with deadlines
  announcements -course ID [-show T]     list announcements, or print one
  attachments -course ID (-doc T | -assignment T) [-out DIR]
                                         save a document's or assignment's files
  videos -course ID                      list recorded lectures
  download -course ID -video N [-out F] [-mp4]
                                         download and decrypt a lecture
  submit -course ID -assignment TITLE -file F
                                         upload a file to an assignment
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	global := flag.NewFlagSet("course-portal", flag.ContinueOnError)
	configPath := global.String("config", os.Getenv("CONFIG_FILE"), "YAML config file")
	logLevel := global.String("log-level", "", "override the configured log level")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return flag.ErrHelp
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger := logging.New(cfg.LogLevel, cfg.LogJSON, nil)

	application, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer application.Shutdown()

	cmd := &command{app: application, out: stdout}
	name, rest := global.Arg(0), global.Args()[1:]
	switch name {
	case "serve":
		return application.Serve(ctx)
	case "courses":
		return cmd.courses(ctx, rest)
	case "tree":
		return cmd.tree(ctx, rest)
	case "assignments":
		return cmd.assignments(ctx, rest)
	case "announcements":
		return cmd.announcements(ctx, rest)
	case "attachments":
		return cmd.attachments(ctx, rest)
	case "videos":
		return cmd.videos(ctx, rest)
	case "download":
		return cmd.download(ctx, rest)
	case "submit":
		return cmd.submit(ctx, rest)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", name)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/deemkeen/vidfed/activitypub"
	"github.com/deemkeen/vidfed/db"
	"github.com/deemkeen/vidfed/logging"
	"github.com/deemkeen/vidfed/tasks"
	"github.com/deemkeen/vidfed/telemetry"
	"github.com/deemkeen/vidfed/util"
	"github.com/deemkeen/vidfed/web"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath string
	flagSet := pflag.NewFlagSet(util.Name, pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ./config.yaml, then the data directory)")
	flagSet.BoolP("version", "v", false, "print the version and exit")
	flagSet.SetInterspersed(false)
	flagSet.Usage = func() { printHelp(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if v, _ := flagSet.GetBool("version"); v {
		fmt.Println(util.GetNameAndVersion())
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		rest = []string{"serve"}
	}
	cmd, cmdArgs := rest[0], rest[1:]

	conf, err := util.ReadConf(configPath)
	if err != nil {
		return err
	}
	if err := logging.InitLogger(&conf.Logging); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logging.Sync()

	switch cmd {
	case "serve":
		return serve(conf)
	case "config":
		out, err := util.DumpConf(conf)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}

	rt, err := openRuntime(conf)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "follow":
		return cmdFollow(ctx, rt, cmdArgs)
	case "index":
		return cmdIndex(ctx, rt, cmdArgs)
	case "followings":
		return cmdFollowings(ctx, rt)
	case "video":
		return cmdVideo(ctx, rt, cmdArgs)
	case "keys":
		return cmdKeys(rt)
	default:
		printHelp(flagSet)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `%s - ActivityPub federation for a video catalog.

Usage:
  vidfed [flags] <command> [args]

Commands:
  serve                      run the HTTP server and the federation workers (default)
  follow <instance-url>      follow a remote instance
  index <instance-url>       mirror the catalog of a followed instance now
  followings                 list followed instances and their status
  video import <file.json>   add or update local videos from a JSON array
  video delete <slug>        remove a local video
  keys                       print the instance key id and public key
  config                     print the effective configuration

Flags:
%s`, util.GetNameAndVersion(), flagSet.FlagUsages())
}

// runtime holds what every command needs: the store, the queue and the
// federation components built on them.
type runtime struct {
	conf  *util.AppConfig
	db    *db.DB
	queue tasks.Queue
	fed   *activitypub.Federation
}

func openRuntime(conf *util.AppConfig) (*runtime, error) {
	log := logging.GetLogger()

	keys, created, err := util.LoadOrCreateKeyPair(util.ResolveFilePath(conf.Keys.Private), util.ResolveFilePath(conf.Keys.Public))
	if err != nil {
		return nil, err
	}
	if created {
		log.Info("Generated instance key pair", zap.String("private", conf.Keys.Private))
	}

	langs, err := util.LoadLanguages()
	if err != nil {
		return nil, err
	}

	database, err := db.Open(util.ResolveFilePath(conf.Database.Path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	queue, err := tasks.NewQueue(&conf.Redis)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("opening task queue: %w", err)
	}

	fed, err := activitypub.New(conf, database, keys, langs, queue)
	if err != nil {
		queue.Close()
		database.Close()
		return nil, err
	}
	return &runtime{conf: conf, db: database, queue: queue, fed: fed}, nil
}

func (rt *runtime) Close() {
	if err := rt.queue.Close(); err != nil {
		logging.GetLogger().Warn("Closing task queue", zap.Error(err))
	}
	if err := rt.db.Close(); err != nil {
		logging.GetLogger().Warn("Closing database", zap.Error(err))
	}
}

func serve(conf *util.AppConfig) error {
	log := logging.GetLogger()
	log.Info("Starting "+util.GetNameAndVersion(), zap.String("base_url", conf.BaseURL()))

	shutdownTelemetry, err := telemetry.Init(&conf.Telemetry)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	rt, err := openRuntime(conf)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.fed.Run(ctx)
	}()

	err = web.NewServer(conf, rt.db, rt.fed).Serve(ctx)
	stop()
	wg.Wait()
	log.Info("Stopped")
	return err
}

// Copyright 2025 James Ross
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/hook0/dispatcher/internal/admin"
	"github.com/hook0/dispatcher/internal/config"
	"github.com/hook0/dispatcher/internal/store"
)

var version = "dev"

func main() {
	var configPath, cmd, subscriptionID, attemptID string
	var n, sweepHorizonSeconds int
	var showVersion bool

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&cmd, "cmd", "", "Admin command: stats|peek|give-up|replay|sweep")
	fs.StringVar(&subscriptionID, "subscription", "", "Subscription id, for peek")
	fs.StringVar(&attemptID, "attempt", "", "Request attempt id, for give-up/replay")
	fs.IntVar(&n, "n", 10, "Number of items for peek")
	fs.IntVar(&sweepHorizonSeconds, "horizon-s", 0, "Orphan-sweep horizon in seconds (0 = use default)")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.New(cfg.Dispatcher.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()

	switch cmd {
	case "stats":
		res, err := admin.Stats(ctx, st)
		fatalOn(err, "admin stats")
		printJSON(res)
	case "peek":
		if subscriptionID == "" {
			fmt.Fprintln(os.Stderr, "peek requires --subscription")
			os.Exit(1)
		}
		res, err := admin.Peek(ctx, st, subscriptionID, n)
		fatalOn(err, "admin peek")
		printJSON(res)
	case "give-up":
		if attemptID == "" {
			fmt.Fprintln(os.Stderr, "give-up requires --attempt")
			os.Exit(1)
		}
		err := admin.GiveUp(ctx, st, attemptID)
		fatalOn(err, "admin give-up")
		fmt.Println("attempt given up")
	case "replay":
		if attemptID == "" {
			fmt.Fprintln(os.Stderr, "replay requires --attempt")
			os.Exit(1)
		}
		res, err := admin.Replay(ctx, st, attemptID)
		fatalOn(err, "admin replay")
		printJSON(res)
	case "sweep":
		res, err := admin.Sweep(ctx, st, sweepHorizonSeconds)
		fatalOn(err, "admin sweep")
		printJSON(res)
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command %q\n", cmd)
		os.Exit(1)
	}
}

func fatalOn(err error, action string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", action, err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"crawlchain/internal/app"
)

const usage = `usage: crawlchain [-config path] <command> [args]

commands:
  run <task>        run a task, then mark it done and launch the next one
  start <task>      like run, but reset the email throttle first
  list              list task folders and their chain state
  new -n <name>     scaffold a task folder from the template directory
  archive           move finished task folders to the archive directory
  advance <task>    mark a task done and launch the next one without running it
  resume            launch the head of the pending list
  enqueue <task>... append tasks to the pending list
  status            print the pending and finished task lists
`

func main() {
	os.Exit(run())
}

func run() int {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./crawlchain.yaml", "path to config (yaml, json or toml)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reason atomic.Value
	reason.Store(app.StopCommandDone)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGTERM {
				reason.Store(app.StopSIGTERM)
			} else {
				reason.Store(app.StopSIGINT)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		return 1
	}

	code := 0
	if err := dispatch(ctx, a, args[0], args[1:]); err != nil {
		if app.IsCanceled(err) {
			code = 130
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
			reason.Store(app.StopFatalError)
			code = 1
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason.Load().(app.StopReason))
	return code
}

func dispatch(ctx context.Context, a *app.App, cmd string, args []string) error {
	switch cmd {
	case "run", "start":
		if len(args) != 1 {
			return fmt.Errorf("%s: exactly one task name required", cmd)
		}
		runFn := a.RunTask
		if cmd == "start" {
			runFn = a.StartTask
		}
		res, err := runFn(ctx, args[0])
		if res != nil {
			printJSON(res)
		}
		return err

	case "list":
		tasks, err := a.List(ctx)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			state := t.State
			if state == "" {
				state = "-"
			}
			runnable := ""
			if !t.Runnable {
				runnable = " (no entry point)"
			}
			fmt.Printf("%-8s %s%s\n", state, t.Name, runnable)
		}
		return nil

	case "new":
		fs := flag.NewFlagSet("new", flag.ContinueOnError)
		name := fs.String("n", "", "task name (required)")
		tmpl := fs.String("template", "", "template directory (default chain.template_dir)")
		enqueue := fs.Bool("enqueue", false, "append the new task to the pending list")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *name == "" {
			return errors.New("new: -n is required")
		}
		task, err := a.NewTask(ctx, *name, *tmpl, *enqueue)
		if task != "" {
			fmt.Println(task)
		}
		return err

	case "archive":
		moved, err := a.Archive(ctx)
		for _, n := range moved {
			fmt.Println(n)
		}
		return err

	case "advance":
		if len(args) != 1 {
			return errors.New("advance: exactly one task name required")
		}
		adv, err := a.Advance(ctx, args[0])
		if err != nil {
			return err
		}
		printJSON(adv)
		return nil

	case "resume":
		adv, err := a.Resume(ctx)
		if err != nil {
			return err
		}
		printJSON(adv)
		return nil

	case "enqueue":
		if len(args) == 0 {
			return errors.New("enqueue: at least one task name required")
		}
		added, err := a.Enqueue(ctx, args...)
		for _, n := range added {
			fmt.Println(n)
		}
		return err

	case "status":
		rec, err := a.Status(ctx)
		if err != nil {
			return err
		}
		printJSON(rec)
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

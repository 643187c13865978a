// Command chatterboxd runs the chatterbox daemon for one session: it owns
// the session lock, keeps the account signed in, reconciles delivery
// state for open conversations and serves chatterctl and display clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/chatterbox/internal/config"
	"github.com/matheus3301/chatterbox/internal/daemon"
	"github.com/matheus3301/chatterbox/internal/lock"
	"github.com/matheus3301/chatterbox/internal/session"
	"go.uber.org/fx"
)

type flags struct {
	session  string
	config   string
	env      string
	logLevel string
	listen   string
	check    bool
}

func parseFlags(fs *flag.FlagSet, args []string) (flags, error) {
	var f flags
	fs.StringVar(&f.session, "session", "", "session name (overrides $CHATTERBOX_SESSION and config default)")
	fs.StringVar(&f.config, "config", "", "config file (default ~/.chatterbox/config.toml)")
	fs.StringVar(&f.env, "env", "", "dotenv file (default ~/.chatterbox/.env)")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.StringVar(&f.listen, "listen", "", "view server address, e.g. 127.0.0.1:7420")
	fs.BoolVar(&f.check, "check", false, "validate the configuration and exit")
	return f, fs.Parse(args)
}

// resolveConfig loads the effective config and applies flag overrides.
func resolveConfig(f flags) (*config.Config, error) {
	cfgPath, envPath := f.config, f.env
	if cfgPath == "" {
		cfgPath = session.ConfigPath()
	}
	if envPath == "" {
		envPath = session.EnvPath()
	}
	cfg, err := config.Resolve(cfgPath, envPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.listen != "" {
		cfg.View.Listen = f.listen
	}
	return cfg, cfg.Validate()
}

// describe turns start-up failures into a line an operator can act on.
func describe(name string, err error) string {
	var held *lock.HeldError
	if errors.As(err, &held) {
		if held.PID > 0 {
			return fmt.Sprintf("session %q is already served by PID %d; stop it or pick another --session", name, held.PID)
		}
		return fmt.Sprintf("session %q is already served by another process (%s)", name, held.Path)
	}
	return err.Error()
}

func main() {
	f, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	name := session.Resolve(f.session)
	if err := session.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := resolveConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if f.check {
		fmt.Printf("session %s: %s backend, view on %s, log level %s\n",
			name, cfg.Backend.Kind, cfg.View.Listen, cfg.Log.Level)
		return
	}
	if pid, _ := lock.Holder(session.LockPath(name)); pid != 0 {
		fmt.Fprintf(os.Stderr, "error: %s\n", describe(name, &lock.HeldError{PID: pid, Path: session.LockPath(name)}))
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: name,
			ConfigPath:  f.config,
			EnvPath:     f.env,
			Config:      cfg,
		}),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", describe(name, err))
		os.Exit(1)
	}

	sig := <-app.Wait()
	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: stop: %v\n", err)
		os.Exit(1)
	}
	os.Exit(sig.ExitCode)
}

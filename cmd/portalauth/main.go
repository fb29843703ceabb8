package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
)

const usage = `usage: portalauth [flags] <command> [args]

commands:
  status                 run session bootstrap and print the auth state
  login [redirect]       sign in through the host token (-host-token)
  phone <number>         send an OTP, read the code from stdin, verify it
  decide <path>          print the redirect decision for path
  logout                 clear both credential tracks
  serve                  serve the route guard over HTTP
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "portalauth:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("portalauth", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML/JSON config file, environment variables override it")
	logLevel := fs.String("log-level", "info", "trace, debug, info, warn or error")
	hostToken := fs.String("host-token", os.Getenv("AUTH_HOST_ACCESS_TOKEN"), "host mini-app access token")
	addr := fs.String("addr", ":8080", "listen address for serve")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	cfg, err := auth.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, newLogger(*logLevel, os.Stderr), *hostToken)
	if err != nil {
		return err
	}
	defer app.Close()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "status":
		return app.status(ctx, stdout)
	case "login":
		redirect := "/"
		if len(rest) > 0 {
			redirect = rest[0]
		}
		return app.login(ctx, stdout, redirect)
	case "phone":
		if len(rest) == 0 {
			return errors.New("phone: missing number")
		}
		return app.verifyPhone(ctx, stdin, stdout, rest[0])
	case "decide":
		if len(rest) == 0 {
			return errors.New("decide: missing path")
		}
		return app.decide(ctx, stdout, rest[0])
	case "logout":
		if err := app.machine.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "state:", app.machine.GetState())
		return nil
	case "serve":
		return app.serve(ctx, *addr)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *App) status(ctx context.Context, out io.Writer) error {
	progress := a.orch.Run(ctx)
	fmt.Fprintln(out, "phase:", progress.Phase)
	fmt.Fprintln(out, "state:", a.machine.GetState())
	if progress.Err != nil {
		fmt.Fprintln(out, "error:", auth.UserMessage(progress.Err))
		return progress.Err
	}
	return nil
}

func (a *App) login(ctx context.Context, out io.Writer, redirect string) error {
	a.orch.Run(ctx)
	if err := a.bridge.Login(ctx, redirect); err != nil {
		fmt.Fprintln(out, "error:", auth.UserMessage(err))
		return err
	}
	if url := a.hostSDK.LoginURL(); url != "" {
		fmt.Fprintln(out, "continue login at:", url)
		return nil
	}
	fmt.Fprintln(out, "state:", a.machine.GetState())
	return nil
}

func (a *App) verifyPhone(ctx context.Context, in io.Reader, out io.Writer, number string) error {
	a.orch.Run(ctx)

	if _, err := a.resender.Send(ctx, number); err != nil {
		fmt.Fprintln(out, "error:", auth.UserMessage(err))
		return err
	}
	fmt.Fprintln(out, "code sent, enter the 6 digit code:")

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		code := strings.TrimSpace(scanner.Text())
		phoneUID, err := a.phone.VerifyCode(ctx, code)
		if err != nil {
			fmt.Fprintln(out, "error:", auth.UserMessage(err))
			if auth.KindOf(err) == auth.KindVerification {
				continue
			}
			return err
		}

		status, err := a.registrar.Check(ctx, phoneUID)
		if err != nil {
			fmt.Fprintln(out, "identity check failed:", auth.UserMessage(err))
			return err
		}
		fmt.Fprintln(out, "registration:", status)
		fmt.Fprintln(out, "state:", a.machine.GetState())
		return nil
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("phone: no code entered")
}

func (a *App) decide(ctx context.Context, out io.Writer, path string) error {
	a.orch.Run(ctx)
	state := a.machine.GetState()

	var user *auth.User
	if state.AtLeast(auth.StatePhoneAuthenticated) {
		if phoneTokens, err := a.tokens.Fresh(ctx, auth.TrackPhone); err == nil {
			user, _ = a.backend.CurrentUser(ctx, phoneTokens.AccessToken)
		}
	}

	target, redirect := a.policy.ForHost(a.hostSDK.IsInClient()).Decide(path, state, user)
	if !redirect {
		fmt.Fprintf(out, "%s: stay (state %s)\n", path, state)
		return nil
	}
	fmt.Fprintf(out, "%s: redirect to %s (state %s)\n", path, target, state)
	return nil
}

// Command coursemail watches a university mailbox for course notifications
// and records them as assignments.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"coursemail-engine/internal/config"
	"coursemail-engine/internal/httpapi"
	"coursemail-engine/internal/scheduler"
	"coursemail-engine/internal/secrets"
	"coursemail-engine/internal/store"
)

const usage = `usage: coursemail [flags] <command> [args]

commands:
  run                 watch the mailbox until interrupted (default)
  process             run one pass and exit
  test-connection     log in once and report the result
  set-password        store the mailbox password in the OS keychain
                      (reads MAIL_PASSWORD or the first line of stdin)
  add-course <name>   register a course for name matching
  list                print pending assignments

flags:
`

// checkpointEvery folds the sqlite WAL back into the main file.
const checkpointEvery = 6 * time.Hour

var errQuit = errors.New("quit requested")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	fs := flag.NewFlagSet("coursemail", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	dataDir := fs.String("data-dir", "", "data directory (default $COURSEMAIL_DATA_DIR or .)")
	defaultCfg := fs.String("default-config", filepath.Join("config", "config.yml"), "template copied to <data-dir>/config.yml on first run")
	envFile := fs.String("env", ".env", "dotenv file loaded before reading the environment")
	console := fs.Bool("console", isatty.IsTerminal(os.Stdin.Fd()), "read check/status/quit commands from stdin")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, options{dataDir: *dataDir, defaultConfig: *defaultCfg})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.Close()

	cmd := fs.Arg(0)
	if cmd == "" {
		cmd = "run"
	}

	switch cmd {
	case "run":
		err = a.runWatch(ctx, stdin, stdout, *console)
	case "process":
		err = a.processOnce(ctx, stdout)
	case "test-connection":
		err = a.testConnection(ctx, stdout)
	case "set-password":
		err = a.setPassword(ctx, stdin, stdout)
	case "add-course":
		err = a.addCourse(ctx, strings.Join(fs.Args()[1:], " "), stdout)
	case "list":
		err = a.list(ctx, stdout)
	default:
		fs.Usage()
		return 2
	}
	if err != nil {
		a.log.Error("command failed", "command", cmd, "error", err)
		return 1
	}
	return 0
}

// lock keeps a second process from watching the same account.
func (a *app) lock() (*flock.Flock, error) {
	fl := flock.New(a.cfg.LockPath())
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("another coursemail process holds %s", fl.Path())
	}
	return fl, nil
}

func (a *app) runWatch(ctx context.Context, stdin io.Reader, stdout io.Writer, console bool) error {
	fl, err := a.lock()
	if err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()

	if err := a.watcher.Start(ctx); err != nil {
		return err
	}
	defer a.watcher.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if addr := strings.TrimSpace(a.cfg.App.HTTPAddr); addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		srv := &http.Server{
			Handler: httpapi.Handler(httpapi.Deps{
				AccountID:   a.cfg.Account.ID,
				Store:       a.db,
				Watcher:     a.watcher,
				Hub:         a.hub,
				Logger:      a.log,
				CfgVal:      a.cfgVal,
				UserCfgPath: a.userCfgPath,
				LoadCfg:     a.reloadConfig,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		a.log.Info("http listening", "addr", "http://"+ln.Addr().String(), "db", a.cfg.DBPath())

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		scheduler.Every(gctx, a.log, checkpointEvery, "db-checkpoint", a.db.Checkpoint)
		return nil
	})

	quit := make(chan struct{})
	if console {
		go runConsole(gctx, stdin, stdout, a.watcher, func() { close(quit) })
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-quit:
			return errQuit
		case <-a.watcher.Done():
			return a.watcher.Err()
		}
	})

	err = g.Wait()
	a.log.Info("shutting down")
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

// reloadConfig reads the user file back the way startup did.
func (a *app) reloadConfig() (config.Config, error) {
	cfg, err := config.Load(a.userCfgPath)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv(nil)
	cfg.App.DataDir = a.cfg.App.DataDir
	cfg, _ = config.NormalizeAndValidate(cfg)
	return cfg, nil
}

func (a *app) processOnce(ctx context.Context, stdout io.Writer) error {
	fl, err := a.lock()
	if err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()

	res, _, err := a.watcher.CheckNow(ctx)
	if err != nil {
		return err
	}
	return writeJSON(stdout, res)
}

func (a *app) testConnection(ctx context.Context, stdout io.Writer) error {
	cred, err := a.creds.Lookup(ctx, a.cfg.Account.ID)
	if err != nil {
		return err
	}
	if !a.client.TestConnection(ctx, cred) {
		fmt.Fprintf(stdout, "connection to %s failed\n", cred.Addr())
		return errors.New("connection test failed")
	}
	fmt.Fprintf(stdout, "connected to %s as %s\n", cred.Addr(), a.client.LoginName(cred.Username))
	return nil
}

func (a *app) setPassword(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	if a.cfg.Account.Username == "" {
		return errors.New("account.username is not configured")
	}

	pw := os.Getenv(secrets.EnvPassword)
	if pw == "" {
		fmt.Fprint(stdout, "password: ")
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		pw = strings.TrimRight(line, "\r\n")
	}

	key := secrets.IMAPKeyringAccount(a.cfg.Account.Username, a.cfg.Mail.Host)
	if err := secrets.SetIMAPPassword(key, pw); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "stored password for %s\n", key)

	// Verify right away so a typo shows up now rather than at the next start.
	return a.testConnection(ctx, stdout)
}

func (a *app) addCourse(ctx context.Context, name string, stdout io.Writer) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("usage: coursemail add-course <name>")
	}
	c, err := a.db.AddCourse(ctx, a.cfg.Account.ID, name)
	if err != nil {
		return err
	}
	return writeJSON(stdout, c)
}

func (a *app) list(ctx context.Context, stdout io.Writer) error {
	list, err := a.db.ListAssignments(ctx, a.cfg.Account.ID, store.ListAssignmentsOpts{Status: "pending"})
	if err != nil {
		return err
	}
	return writeJSON(stdout, list)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

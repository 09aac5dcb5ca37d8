// Command govauth-session inspects and manages the portal session persisted
// in Redis.
//
//	govauth-session [flags] status|login|logout|permissions|serve
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	govauth "github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/metrics/export/prometheus"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	catalogPath := flag.String("catalog", "", "YAML permission catalog file; built-in catalog when empty")
	sync := flag.Bool("sync", false, "sync roles and catalog from the API after restoring")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] status|login|logout|permissions|serve\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *catalogPath, *sync, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "govauth-session: %v\n", err)
		os.Exit(1)
	}
}

func run(command, catalogPath string, sync bool, in io.Reader, out io.Writer) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	log, err := s.logger()
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(catalogPath, s.PermissionBits)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     s.RedisAddr,
		Password: s.RedisPassword,
		DB:       s.RedisDB,
	})
	defer rdb.Close()

	b := govauth.New().
		WithConfig(s.clientConfig()).
		WithRedis(rdb).
		WithLogger(log).
		WithSessionExpiredHook(func(err error) {
			log.WithError(err).Warn("session expired")
		})
	if catalog != nil {
		b = b.WithCatalog(catalog)
	}
	client, err := b.Build()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer client.Close(context.WithoutCancel(ctx))

	if err := client.Initialize(ctx); err != nil {
		log.WithError(err).Warn("session not restored")
	}
	if sync && client.State() == govauth.StateAuthenticated {
		if err := client.SyncCatalog(ctx); err != nil {
			log.WithError(err).Warn("catalog sync failed")
		}
		if err := client.SyncRoles(ctx); err != nil {
			log.WithError(err).Warn("role sync failed")
		}
	}

	switch command {
	case "status":
		return printStatus(client, out)
	case "permissions":
		return printPermissions(client, out)
	case "login":
		return login(ctx, client, s, in, out)
	case "logout":
		if err := client.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "logged out")
		return nil
	case "serve":
		return serve(ctx, client, s.MetricsAddr, log)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func printStatus(client *govauth.Client, out io.Writer) error {
	fmt.Fprintf(out, "state: %s\n", client.State())
	user, ok := client.CurrentUser()
	if !ok {
		return nil
	}
	fmt.Fprintf(out, "user: %s (%s)\n", user.Username, user.ID)
	fmt.Fprintf(out, "status: %s\n", user.Status)
	snap := client.Gate().Snapshot()
	fmt.Fprintf(out, "roles: %s\n", strings.Join(snap.Roles, ", "))
	fmt.Fprintf(out, "permissions: %d\n", len(snap.Permissions))
	return nil
}

func printPermissions(client *govauth.Client, out io.Writer) error {
	snap := client.Gate().Snapshot()
	if !snap.Authenticated {
		return govauth.ErrNotAuthenticated
	}
	for _, p := range snap.Permissions {
		fmt.Fprintf(out, "%s\t%s\n", p.Name, strings.Join(p.GrantedBy, ","))
	}
	return nil
}

func login(ctx context.Context, client *govauth.Client, s *settings, in io.Reader, out io.Writer) error {
	lines := bufio.NewScanner(in)
	prompt := func(label string) (string, error) {
		fmt.Fprintf(out, "%s: ", label)
		if !lines.Scan() {
			if err := lines.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		return strings.TrimSpace(lines.Text()), nil
	}

	creds := govauth.Credentials{Username: s.Username, Password: s.Password}
	var err error
	if creds.Username == "" {
		if creds.Username, err = prompt("username"); err != nil {
			return err
		}
	}
	if creds.Password == "" {
		if creds.Password, err = prompt("password"); err != nil {
			return err
		}
	}

	res, err := client.Login(ctx, creds)
	for err == nil && res.TwoFactorPending() {
		code, perr := prompt(fmt.Sprintf("two-factor code (%d attempts left)", res.Challenge.RemainingAttempts))
		if perr != nil {
			client.CancelTwoFactor()
			return perr
		}
		res, err = client.ConfirmTwoFactor(ctx, code)
		var authErr *govauth.AuthenticationError
		if errors.As(err, &authErr) && errors.Is(err, govauth.ErrTwoFactorInvalid) && authErr.RemainingAttempts > 0 {
			fmt.Fprintf(out, "invalid code\n")
			res = govauth.LoginResult{Challenge: &govauth.TwoFactorChallenge{RemainingAttempts: authErr.RemainingAttempts}}
			err = nil
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "logged in as %s\n", res.User.Username)
	return nil
}

// serve keeps the session alive and exposes /metrics and /access until ctx
// is cancelled.
func serve(ctx context.Context, client *govauth.Client, addr string, log logrus.FieldLogger) error {
	metricsHandler, err := prometheus.Handler(client)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	mux.Handle("GET /access", middleware.RequireSession(client)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, _ := middleware.AccessFromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

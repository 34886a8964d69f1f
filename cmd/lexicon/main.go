package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pitabwire/lexicon"
	"github.com/pitabwire/lexicon/config"
	"github.com/pitabwire/lexicon/culture"
	culturehttp "github.com/pitabwire/lexicon/culture/interceptors/http"
	"github.com/pitabwire/lexicon/engine"
	"github.com/pitabwire/lexicon/keys"
	"github.com/pitabwire/lexicon/notify"
	"github.com/pitabwire/lexicon/version"
)

const (
	minArgsCommand    = 2
	readHeaderTimeout = 5 * time.Second
)

func main() {
	if len(os.Args) < minArgsCommand {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "resolve":
		exitOnErr(cmdResolve(os.Args[2:]))
	case "cultures":
		exitOnErr(cmdCultures(os.Args[2:]))
	case "publish":
		exitOnErr(cmdPublish(os.Args[2:]))
	case "parse":
		exitOnErr(cmdParse(os.Args[2:]))
	case "serve":
		exitOnErr(cmdServe(os.Args[2:]))
	case "version":
		_, _ = fmt.Fprintln(os.Stdout, version.String())
	case "help", "-h", "--help":
		usage()
	default:
		// #nosec G705 -- CLI output is not rendered in an HTML context.
		fmt.Fprintf(os.Stderr, "unknown command: %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stdout, "lexicon <command> [args]")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Commands:")
	fmt.Fprintln(os.Stdout, "  resolve <key> [--config FILE] [--culture NAME] [--name NAME] [--property NAME]")
	fmt.Fprintln(os.Stdout, "  cultures <scope/namespace> [--config FILE]")
	fmt.Fprintln(os.Stdout, "  publish <value_changed|bundle_reloaded|other> [--key KEY] [--culture NAME] [--value VALUE]")
	fmt.Fprintln(os.Stdout, "  parse <key>")
	fmt.Fprintln(os.Stdout, "  serve [--config FILE] [--addr :8080]")
	fmt.Fprintln(os.Stdout, "  version")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Configuration is read from LEXICON_* environment variables, overridden by --config.")
}

func exitOnErr(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func newService(ctx context.Context, cfgFile string) (context.Context, *lexicon.Service, error) {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return ctx, nil, err
	}
	return lexicon.NewService(ctx, lexicon.WithConfig(&cfg), lexicon.WithTelemetry())
}

func loadConfig(path string) (config.ConfigurationDefault, error) {
	if path == "" {
		return config.FromEnv[config.ConfigurationDefault]()
	}
	return config.FromFile[config.ConfigurationDefault](path)
}

func cmdResolve(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	cfgFile := fs.String("config", "", "yaml or toml configuration file")
	cultureName := fs.String("culture", "", "culture to resolve for, the configured default when empty")
	name := fs.String("name", "", "target name used when the key has no identifier")
	property := fs.String("property", "", "target property used when the key has no identifier")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 && *name == "" {
		return errors.New("key or --name is required")
	}

	ctx, svc, err := newService(context.Background(), *cfgFile)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close(ctx) }()

	req := lexicon.Request{
		Key:    fs.Arg(0),
		Target: engine.Target{Name: *name, Property: *property},
	}
	if *cultureName != "" {
		req.Culture, req.ForceCulture = *cultureName, true
	}

	value, found, err := lexicon.Resolve[string](ctx, svc, req)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %q", lexicon.ErrKeyNotFound, req.Key)
	}
	_, _ = fmt.Fprintln(os.Stdout, value)
	return nil
}

func cmdCultures(args []string) error {
	fs := flag.NewFlagSet("cultures", flag.ContinueOnError)
	cfgFile := fs.String("config", "", "yaml or toml configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("bundle name scope/namespace is required")
	}

	ctx, svc, err := newService(context.Background(), *cfgFile)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close(ctx) }()

	if err = svc.Preload(ctx, fs.Arg(0)); err != nil {
		return err
	}
	for _, tag := range svc.AllCultures() {
		name := culture.Name(tag)
		if name == "" {
			name = "(invariant)"
		}
		_, _ = fmt.Fprintln(os.Stdout, name)
	}
	return nil
}

func cmdPublish(args []string) error {
	if len(args) < 1 {
		return errors.New("event kind is required")
	}
	var kind notify.Kind
	if err := kind.UnmarshalText([]byte(args[0])); err != nil {
		return err
	}

	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	cfgFile := fs.String("config", "", "yaml or toml configuration file")
	key := fs.String("key", "", "changed key")
	cultureName := fs.String("culture", "", "changed culture, every culture when empty")
	value := fs.String("value", "", "new value")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	tag, err := culture.Parse(*cultureName)
	if err != nil {
		return err
	}

	ctx, svc, err := newService(context.Background(), *cfgFile)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close(ctx) }()

	if cfg, ok := svc.Config().(config.ConfigurationChangeFeed); !ok || cfg.GetChangeEventsURL() == "" {
		return errors.New("LEXICON_CHANGE_EVENTS_URL is not configured")
	}

	return svc.Publish(ctx, notify.ChangeEvent{
		Kind:     kind,
		Key:      *key,
		Culture:  tag,
		NewValue: *value,
	})
}

func cmdParse(args []string) error {
	if len(args) < 1 {
		return errors.New("key is required")
	}
	k := keys.Parse(args[0])

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]string{
		"scope":      k.Scope,
		"namespace":  k.Namespace,
		"identifier": k.Identifier,
		"formatted":  keys.Format(k),
	})
}

// cmdServe answers GET /resolve?key=... using the cultures of the request.
func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfgFile := fs.String("config", "", "yaml or toml configuration file")
	addr := fs.String("addr", ":8080", "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, svc, err := newService(ctx, *cfgFile)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close(context.Background()) }()

	go func() {
		if runErr := svc.Run(ctx); runErr != nil {
			svc.Log(ctx).WithError(runErr).Error("change feed stopped")
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /resolve", func(w http.ResponseWriter, r *http.Request) {
		value, found, rErr := lexicon.Resolve[string](r.Context(), svc, lexicon.Request{Key: r.URL.Query().Get("key")})
		switch {
		case errors.Is(rErr, lexicon.ErrBundleNotFound):
			http.Error(w, rErr.Error(), http.StatusNotFound)
		case rErr != nil:
			svc.Log(r.Context()).WithError(rErr).Warn("could not resolve key")
			http.Error(w, rErr.Error(), http.StatusInternalServerError)
		case !found:
			http.NotFound(w, r)
		default:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = fmt.Fprint(w, value)
		}
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           otelhttp.NewHandler(culturehttp.CultureHTTPMiddleware(mux), svc.Name()),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	svc.Log(ctx).WithField("addr", *addr).Info("serving lexicon")
	if err = server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

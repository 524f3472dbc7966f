// Command entityctl fetches and modifies stored entity records.
//
// Usage:
//
//	entityctl [flags] get <schema> <id>
//	entityctl [flags] set <schema> <id> <field>=<json>...
//
// The get subcommand prints the record as JSON. The set subcommand assigns the
// given fields, prints the resulting JSON merge patch and saves the entity if
// anything changed. A record that does not exist yet is created.
//
// Every flag may also be given as an environment variable prefixed with
// ENTITYCTL_, e.g. ENTITYCTL_DSN.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/danielorbach/go-component"
	"github.com/lmittmann/tint"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	_ "gocloud.dev/docstore/memdocstore" // Registers the "mem" docstore scheme.

	"github.com/go-digitaltwin/go-entity"
	"github.com/go-digitaltwin/go-entity/docstoredriver"
	"github.com/go-digitaltwin/go-entity/sqldriver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "entityctl: %v\n", err)
		os.Exit(1)
	}
}

type config struct {
	driver    string
	dsn       string
	logLevel  string
	logFormat string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var cfg config
	fs := flag.NewFlagSet("entityctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.driver, "driver", "sqlite", "storage driver: sqlite, postgres or docstore")
	fs.StringVar(&cfg.dsn, "dsn", "entities.db", "data source name; a collection URL template for docstore, e.g. mem://%s/id")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "log format: text or json")

	var d entity.Driver
	get := &ffcli.Command{
		Name:       "get",
		ShortUsage: "entityctl get <schema> <id>",
		ShortHelp:  "Print a stored record as JSON",
		FlagSet:    flag.NewFlagSet("get", flag.ContinueOnError),
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 2 {
				return flag.ErrHelp
			}
			return getEntity(ctx, d, stdout, args[0], entity.ID(args[1]))
		},
	}
	set := &ffcli.Command{
		Name:       "set",
		ShortUsage: "entityctl set <schema> <id> <field>=<json>...",
		ShortHelp:  "Assign fields of a record and save it",
		FlagSet:    flag.NewFlagSet("set", flag.ContinueOnError),
		Exec: func(ctx context.Context, args []string) error {
			if len(args) < 3 {
				return flag.ErrHelp
			}
			assignments, err := parseAssignments(args[2:])
			if err != nil {
				return err
			}
			return setEntity(ctx, d, stdout, args[0], entity.ID(args[1]), assignments)
		},
	}
	root := &ffcli.Command{
		ShortUsage:  "entityctl [flags] <subcommand> [args...]",
		FlagSet:     fs,
		Options:     []ff.Option{ff.WithEnvVarPrefix("ENTITYCTL")},
		Subcommands: []*ffcli.Command{get, set},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}

	if err := root.Parse(args); err != nil {
		return err
	}

	logger, err := newLogger(stderr, cfg.logLevel, cfg.logFormat)
	if err != nil {
		return err
	}
	ctx = component.InjectLogger(ctx, logger)

	d, closeDriver, err := openDriver(ctx, cfg.driver, cfg.dsn)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeDriver(); err != nil {
			logger.Error("Failed to close driver", "error", err)
		}
	}()

	return root.Run(ctx)
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	case "text":
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
		})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// openDriver returns the named driver and a function releasing it.
func openDriver(ctx context.Context, name, dsn string) (entity.Driver, func() error, error) {
	switch name {
	case "sqlite", "postgres":
		driverName := name
		if name == "postgres" {
			driverName = "pgx"
		}
		d, err := sqldriver.Open(driverName, dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := d.Migrate(ctx); err != nil {
			_ = d.Close()
			return nil, nil, err
		}
		return d, d.Close, nil
	case "docstore":
		d := docstoredriver.OpenURL(dsn)
		return d, func() error { return d.Close(context.Background()) }, nil
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", name)
	}
}

// parseAssignments parses field=json arguments. A value that is not valid JSON
// is taken as a literal string.
func parseAssignments(args []string) (map[string]any, error) {
	assignments := make(map[string]any, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed assignment %q, want <field>=<json>", arg)
		}
		if name == entity.IDField {
			return nil, fmt.Errorf("cannot assign the %q field", entity.IDField)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		assignments[name] = v
	}
	return assignments, nil
}

// dynamicSchema declares a plain attribute for every field of the record and
// every extra name, in lexical order.
func dynamicSchema(name string, d entity.Driver, record entity.Record, extra ...string) *entity.Schema {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if n != entity.IDField && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for n := range record {
		add(n)
	}
	for _, n := range extra {
		add(n)
	}
	sort.Strings(names)

	fields := make([]entity.Field, len(names))
	for i, n := range names {
		fields[i] = entity.Plain(n)
	}
	return entity.NewSchema(name, d, fields...)
}

func getEntity(ctx context.Context, d entity.Driver, w io.Writer, schema string, id entity.ID) error {
	record, err := d.FindByID(ctx, schema, id)
	if err != nil {
		return fmt.Errorf("get %s(%s): %w", schema, id, err)
	}
	e, err := dynamicSchema(schema, d, record).Find(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(w, e)
}

func setEntity(ctx context.Context, d entity.Driver, w io.Writer, schema string, id entity.ID, assignments map[string]any) error {
	logger := component.Logger(ctx).With("schema", schema, "id", string(id))

	record, err := d.FindByID(ctx, schema, id)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		logger.Info("Creating a new record")
		record = entity.Record{entity.IDField: string(id)}
	case err != nil:
		return fmt.Errorf("set %s(%s): %w", schema, id, err)
	}

	names := make([]string, 0, len(assignments))
	for n := range assignments {
		names = append(names, n)
	}
	s := dynamicSchema(schema, d, record, names...)
	if _, ok := record.ID(); !ok {
		record = record.Clone()
		record[entity.IDField] = string(id)
	}
	e, err := s.Hydrate(record)
	if err != nil {
		return err
	}
	for _, n := range names {
		if err := e.Set(n, assignments[n]); err != nil {
			return err
		}
	}

	patch, err := e.Changes()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, string(patch)); err != nil {
		return err
	}
	if e.IsClean() {
		logger.Info("Nothing changed, skipping save")
		return nil
	}
	if err := e.Save(ctx); err != nil {
		return err
	}
	logger.Info("Saved", "fields", e.Schema().Fields())
	return nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// leadstore-cli is an operator tool for inspecting and repairing a lead
// store: list keys, run orchestrated loads, trigger migrations, and manage
// backups, against the same backend the daemon uses.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/leadstore/pkg/config"
	"github.com/platinummonkey/leadstore/pkg/engine"
	"github.com/platinummonkey/leadstore/pkg/notify"
	"github.com/platinummonkey/leadstore/pkg/observability"
	"github.com/platinummonkey/leadstore/pkg/sealed"
	"github.com/platinummonkey/leadstore/pkg/store"
)

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	st, err := buildStore(cfg)
	if err != nil {
		logrus.Fatalf("Failed to open store backend: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := run(ctx, cfg, st, args); err != nil {
		logrus.Fatalf("%v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, st store.Store, args []string) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "keys":
		keys, err := st.Keys()
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil

	case "get":
		key, err := oneKey(rest)
		if err != nil {
			return err
		}
		value, err := st.Get(key)
		if err != nil {
			return err
		}
		os.Stdout.Write(value)
		fmt.Println()
		return nil

	case "remove":
		key, err := oneKey(rest)
		if err != nil {
			return err
		}
		return st.Remove(key)

	case "quota":
		eng, err := buildEngine(ctx, cfg, st)
		if err != nil {
			return err
		}
		defer eng.Shutdown(ctx)
		fmt.Printf("tracked usage: %d bytes\n", eng.Monitor().TrackedUsage())
		if snap := eng.Monitor().Estimate(ctx); snap != nil {
			fmt.Printf("backend limit: %d bytes\n", snap.Quota.Limit)
			fmt.Printf("backend usage: %d bytes\n", snap.Quota.Usage)
		}
		return nil

	case "load", "migrate":
		key, err := oneKey(rest)
		if err != nil {
			return err
		}
		eng, err := buildEngine(ctx, cfg, st)
		if err != nil {
			return err
		}
		defer eng.Shutdown(ctx)

		opts := engine.DefaultLoadOptions()
		opts.NotifyUser = false
		result := eng.Load(ctx, key, []any{}, opts)
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		os.Stdout.Write(out)
		fmt.Println()
		if !result.Success {
			return fmt.Errorf("load failed: %s", result.Error)
		}
		return nil

	case "backup":
		key, err := oneKey(rest)
		if err != nil {
			return err
		}
		eng, err := buildEngine(ctx, cfg, st)
		if err != nil {
			return err
		}
		defer eng.Shutdown(ctx)
		return eng.Backup(key)

	case "restore":
		key, err := oneKey(rest)
		if err != nil {
			return err
		}
		eng, err := buildEngine(ctx, cfg, st)
		if err != nil {
			return err
		}
		defer eng.Shutdown(ctx)
		return eng.RestoreBackup(key)

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func buildEngine(ctx context.Context, cfg *config.Config, st store.Store) (*engine.StoreEngine, error) {
	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, err
	}
	cipher, err := sealed.NewAESGCM(key, cfg.Encryption.SensitiveKeys)
	if err != nil {
		return nil, err
	}
	log := observability.NewLogger(observability.WarnLevel, os.Stderr)
	eng := engine.New(st, cipher, notify.NewLogNotifier(logrus.StandardLogger()), log, nil, engine.DefaultConfig())
	if err := eng.Init(ctx); err != nil {
		return nil, err
	}
	return eng, nil
}

func oneKey(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("expected exactly one key argument")
	}
	return args[0], nil
}

// buildStore constructs the configured persistence backend.
func buildStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Type {
	case "memory":
		return store.NewMemoryStore(cfg.Store.MaxSizeBytes), nil
	case "file":
		return store.NewFileStore(cfg.Store.FileRoot, cfg.Store.MaxSizeBytes)
	case "sqlite":
		return store.NewSQLiteStore(cfg.Store.SQLitePath)
	case "redis":
		return store.NewRedisStore(store.RedisConfig{
			URL:      cfg.Store.RedisURL,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			Prefix:   cfg.Store.RedisPrefix,
		})
	case "postgres":
		return store.NewPostgresStore(cfg.Store.PostgresURL, cfg.Store.MaxSizeBytes)
	default:
		return nil, fmt.Errorf("unsupported store type %q", cfg.Store.Type)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: leadstore-cli <command> [args]

Commands:
  keys               list stored keys
  get <key>          print the raw stored value
  load <key>         run the orchestrated load pipeline and print the result
  migrate <key>      alias for load (migrations apply and persist)
  backup <key>       snapshot the key to its backup key
  restore <key>      restore the key from its backup
  remove <key>       delete the key
  quota              print usage and backend quota

Configuration comes from LEADSTORE_* environment variables, see pkg/config.
`)
}

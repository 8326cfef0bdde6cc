package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lychee-technology/fieldform"
	"github.com/lychee-technology/fieldform/factory"
	"github.com/lychee-technology/fieldform/internal"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]

	// validate does not need a database
	if command == "validate" {
		if len(os.Args) < 3 {
			sugar.Fatalf("usage: surveyctl validate <schema.json>")
		}
		if err := validateSchema(os.Args[2]); err != nil {
			sugar.Fatalf("schema invalid: %v", err)
		}
		fmt.Println("schema OK")
		return
	}

	cfg := configFromEnv()
	ctx := context.Background()

	engine, err := factory.New(ctx, cfg)
	if err != nil {
		sugar.Fatalf("failed to initialize engine: %v", err)
	}
	defer engine.Close()

	if token := os.Getenv("SYNC_TOKEN"); token != "" {
		engine.Client().SetToken(token)
	}

	switch command {
	case "sync":
		runSync(ctx, engine, sugar)
	case "push":
		report, err := engine.PushPending(ctx)
		if err != nil {
			sugar.Fatalf("push failed: %v", err)
		}
		printReport(report)
	case "pull":
		if err := engine.Pull(ctx); err != nil {
			sugar.Fatalf("pull failed: %v", err)
		}
		fmt.Println("pull applied")
	case "upload-assets":
		report, err := engine.UploadAssets(ctx)
		if err != nil {
			sugar.Fatalf("asset upload failed: %v", err)
		}
		printReport(report)
	case "list":
		listResponses(ctx, engine, sugar)
	case "wards":
		listWards(ctx, engine, sugar)
	case "login":
		token, err := engine.Client().Login(ctx, internal.Credentials{
			Email:    getEnv("SYNC_EMAIL", ""),
			Password: getEnv("SYNC_PASSWORD", ""),
		})
		if err != nil {
			sugar.Fatalf("login failed: %v", err)
		}
		fmt.Println(token)
	case "logout":
		if err := engine.Client().Logout(ctx); err != nil {
			sugar.Fatalf("logout failed: %v", err)
		}
		fmt.Println("logged out")
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: surveyctl <command>

commands:
  validate <schema.json>  check a form schema document
  sync                    push pending records, then pull remote changes
  push                    push pending records only
  pull                    pull and apply remote changes only
  upload-assets           upload pending media assets to object storage
  list                    list locally stored survey responses
  wards                   list wards in the local store
  login                   exchange SYNC_EMAIL/SYNC_PASSWORD for a token
  logout                  invalidate the SYNC_TOKEN session`)
}

func configFromEnv() *fieldform.Config {
	cfg := fieldform.DefaultConfig()
	cfg.Storage.Path = getEnv("DB_PATH", cfg.Storage.Path)
	cfg.Sync.BaseURL = getEnv("SYNC_URL", "")
	cfg.Sync.SchemaVersion = getEnvInt("SYNC_SCHEMA_VERSION", cfg.Sync.SchemaVersion)
	cfg.Sync.RequestTimeout = time.Duration(getEnvInt("SYNC_TIMEOUT_SECONDS", 30)) * time.Second
	cfg.Assets.Bucket = getEnv("ASSET_BUCKET", "")
	cfg.Assets.Prefix = getEnv("ASSET_PREFIX", "")
	cfg.Assets.Region = getEnv("ASSET_REGION", "")
	cfg.Assets.Endpoint = getEnv("ASSET_ENDPOINT", "")
	cfg.Assets.AccessKey = getEnv("ASSET_ACCESS_KEY", "")
	cfg.Assets.SecretKey = getEnv("ASSET_SECRET_KEY", "")
	return cfg
}

func validateSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cfg, err := fieldform.ParseFormConfig(data)
	if err != nil {
		return err
	}
	fmt.Printf("form %s v%s: %d steps\n", cfg.ID, cfg.Version, len(cfg.Steps))
	return nil
}

func runSync(ctx context.Context, engine *factory.Engine, sugar *zap.SugaredLogger) {
	report, err := engine.Sync(ctx)
	if report != nil {
		printReport(report)
	}
	if err != nil {
		sugar.Fatalf("sync failed: %v", err)
	}
}

func printReport(report *fieldform.SyncReport) {
	fmt.Printf("synced %d, failed %d\n", report.Synced(), report.Failed())
	for _, o := range report.Outcomes {
		if o.Err != nil {
			fmt.Printf("  %s: %s (%v)\n", o.RecordID, o.Status, o.Err)
		}
	}
}

func listResponses(ctx context.Context, engine *factory.Engine, sugar *zap.SugaredLogger) {
	records, err := engine.Store().QueryResponses(ctx, fieldform.ResponseQuery{})
	if err != nil {
		sugar.Fatalf("query failed: %v", err)
	}
	for _, rec := range records {
		fmt.Printf("%s  form=%s  entity=%s/%s  status=%s  sync=%s  v%d\n",
			rec.ID, rec.FormID, rec.EntityType, rec.EntityID, rec.Status, rec.SyncStatus, rec.Version)
	}
	fmt.Printf("%d responses\n", len(records))
}

func listWards(ctx context.Context, engine *factory.Engine, sugar *zap.SugaredLogger) {
	wards, err := engine.Store().Wards(ctx)
	if err != nil {
		sugar.Fatalf("query failed: %v", err)
	}
	for _, w := range wards {
		fmt.Printf("ward %d  area=%d  sync=%s\n", w.WardNumber, w.WardAreaCode, w.SyncStatus)
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/examforge/internal/docstore"
	"github.com/pavelanni/examforge/internal/exam"
	"github.com/pavelanni/examforge/internal/generate"
	"github.com/pavelanni/examforge/internal/handler"
	appI18n "github.com/pavelanni/examforge/internal/i18n"
	"github.com/pavelanni/examforge/internal/llm"
	"github.com/pavelanni/examforge/internal/llm/prompts"
	"github.com/pavelanni/examforge/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: reading .env:", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examforge",
		Short: "Generate, store and grade exams with an LLM",
	}

	serve := serveCmd()
	root.AddCommand(serve, generateCmd(), importCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examforge --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP JSON API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default language for feedback and messages (en, ru)")
	addStoreFlags(f)
	addLLMFlags(f)
	addLogFlags(f)
	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a test with the LLM, store it and print it as JSON",
		RunE:  runGenerate,
	}
	f := cmd.Flags()
	f.String("title", "", "Test title, also the topic of the questions (required)")
	f.String("description", "", "Test description")
	f.IntP("count", "n", 10, fmt.Sprintf("Number of questions (1-%d)", generate.MaxCount))
	f.StringSlice("types", []string{"mcq", "paragraph"}, "Allowed question types (mcq, paragraph)")
	f.String("subject-area", "", "Subject area hint for the model")
	f.Int("time-limit", 60, "Time limit in minutes")
	f.String("created-by", "", "Creator id stored with the test (required)")
	f.StringP("lang", "l", "en", "Language for fallback questions (en, ru)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addStoreFlags(f)
	addLLMFlags(f)
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("created-by")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import tests from JSON files",
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.StringSliceP("file", "f", nil, "Paths to tests JSON files (repeatable, required)")
	f.String("created-by", "", "Creator id for tests that name none")
	addStoreFlags(f)
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a test with all its attempts as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("test-id", "", "Test to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addStoreFlags(f)
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("test-id")
	return cmd
}

func addStoreFlags(f *pflag.FlagSet) {
	f.String("store", "sqlite", "Document store backend (sqlite, postgres, mongo)")
	f.String("dsn", "examforge.db", "SQLite path, PostgreSQL DSN or MongoDB URI")
	f.String("mongo-db", "examforge", "MongoDB database name")
}

func addLLMFlags(f *pflag.FlagSet) {
	d := exam.DefaultOptions()
	f.String("llm-provider", "openai", "LLM provider (openai, gemini)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Duration("bulk-timeout", d.Generate.BulkTimeout, "Timeout of a whole-set request with multiple-choice questions only")
	f.Duration("paragraph-timeout", d.Generate.ParagraphTimeout, "Timeout of a whole-set request that includes paragraph questions")
	f.Duration("item-timeout", d.Generate.ItemTimeout, "Timeout of a single-question request")
	f.Duration("eval-timeout", d.EvalTimeout, "Timeout of one answer evaluation")
	f.Duration("pause", d.Generate.Pause, "Pause between consecutive single-question requests")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

// setupLogging installs the default slog logger. Unknown levels fall back to
// info.
func setupLogging(v *viper.Viper) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err == nil {
		opts.Level = level
	}

	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(v.GetString("log-format"), "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// viperForCmd binds a command's flags and environment to a fresh viper
// instance and sets up logging from it.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setupLogging(v)

	v.SetConfigName("examforge")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examforge")
	v.AddConfigPath("/etc/examforge")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		setupLogging(v)
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	docs, err := docstore.Open(ctx, docstore.Config{
		Driver:   strings.ToLower(v.GetString("store")),
		DSN:      v.GetString("dsn"),
		Database: v.GetString("mongo-db"),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", v.GetString("store"), err)
	}
	return store.New(docs), nil
}

// pinger is implemented by both LLM clients.
type pinger interface {
	llm.Completer
	Ping(ctx context.Context) error
}

// openLLM creates the configured provider's client. The returned func
// releases it.
func openLLM(ctx context.Context, v *viper.Viper) (pinger, func(), error) {
	switch provider := strings.ToLower(v.GetString("llm-provider")); provider {
	case "", "openai":
		return llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model")), func() {}, nil
	case "gemini":
		modelName := v.GetString("llm-model")
		if !v.IsSet("llm-model") {
			modelName = "gemini-2.0-flash"
		}
		g, err := llm.NewGemini(ctx, v.GetString("llm-key"), modelName)
		if err != nil {
			return nil, nil, err
		}
		return g, func() {
			if err := g.Close(); err != nil {
				slog.Warn("close gemini client", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

func examOptions(v *viper.Viper) exam.Options {
	return exam.Options{
		Generate: generate.Options{
			BulkTimeout:      v.GetDuration("bulk-timeout"),
			ParagraphTimeout: v.GetDuration("paragraph-timeout"),
			ItemTimeout:      v.GetDuration("item-timeout"),
			Pause:            v.GetDuration("pause"),
		},
		EvalTimeout: v.GetDuration("eval-timeout"),
	}
}

// openService wires the store, prompts and translations around client.
// The returned func closes the store.
func openService(ctx context.Context, v *viper.Viper, client llm.Completer) (*exam.Service, func(), error) {
	if err := prompts.Load(); err != nil {
		return nil, nil, err
	}
	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return nil, nil, fmt.Errorf("init i18n: %w", err)
	}
	st, err := openStore(ctx, v)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if err := st.Close(); err != nil {
			slog.Warn("close store", "error", err)
		}
	}
	return exam.New(st, client, examOptions(v)), closeStore, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	client, closeLLM, err := openLLM(ctx, v)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	defer closeLLM()
	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "provider", v.GetString("llm-provider"), "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	svc, closeStore, err := openService(ctx, v, client)
	if err != nil {
		return err
	}
	defer closeStore()

	lang := v.GetString("lang")
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	handler.New(svc).Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"store", v.GetString("store"),
		"provider", v.GetString("llm-provider"),
		"model", v.GetString("llm-model"),
		"lang", lang,
	)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"portfolio-bff/internal/adapter/httpapi"
	"portfolio-bff/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "portfolio-bff",
		Short:         "Portfolio backend: GitHub aggregation, caching and an AI assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error")
	rootCmd.PersistentFlags().Bool("dev", false, "Human-readable development logging")
	rootCmd.PersistentFlags().String("username", "", "GitHub user whose portfolio is served")
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.dev", rootCmd.PersistentFlags().Lookup("dev"))
	_ = v.BindPFlag("github.username", rootCmd.PersistentFlags().Lookup("username"))

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, runServe)
		},
	}
	serveCmd.Flags().String("addr", "", "Listen address (default :8080)")
	_ = v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))

	contextCmd := &cobra.Command{
		Use:   "context",
		Short: "Print the serialized portfolio context sent to the LLM",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, runContext)
		},
	}

	queryCmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Ask the AI assistant a question about the portfolio",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, func(ctx context.Context, a *app, cmd *cobra.Command) error {
				return runQuery(ctx, a, cmd, strings.Join(args, " "))
			})
		},
	}

	rootCmd.AddCommand(serveCmd, contextCmd, queryCmd)
	return rootCmd
}

// withApp 加载配置、创建组件，SIGINT/SIGTERM 时取消 ctx
func withApp(cmd *cobra.Command, v *viper.Viper, run func(ctx context.Context, a *app, cmd *cobra.Command) error) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return err
	}
	defer a.Close()

	return run(ctx, a, cmd)
}

func runServe(ctx context.Context, a *app, cmd *cobra.Command) error {
	server := httpapi.NewServer(a.portfolio, a.logger.Named("http"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(a.cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.logger.Info("shutdown signal received, stopping HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func runContext(ctx context.Context, a *app, cmd *cobra.Command) error {
	text, repos, err := a.portfolio.Context(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("context generated", zap.Int("repositories", len(repos)), zap.Int("chars", len(text)))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}

func runQuery(ctx context.Context, a *app, cmd *cobra.Command, question string) error {
	result, err := a.portfolio.Query(ctx, question)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, result.Response)
	fmt.Fprintf(out, "\n(%d repositories in context)\n", len(result.Repositories))
	return nil
}

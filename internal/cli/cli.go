// Package cli is the terminal front end: search, chat, health and theme
// commands against the storefront backend.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/xaenox/aurora-bot/internal/backend"
	"github.com/xaenox/aurora-bot/internal/classifier"
	"github.com/xaenox/aurora-bot/internal/logging"
	"github.com/xaenox/aurora-bot/internal/storage"
	"github.com/xaenox/aurora-bot/internal/theme"
	"github.com/xaenox/aurora-bot/pkg/config"
	"go.uber.org/zap"
)

// App carries what every command needs. Fields left nil are built from the
// configuration file on first use.
type App struct {
	ConfigPath string
	UserID     int64

	Config     *config.Config
	Logger     *zap.Logger
	Backend    *backend.Client
	Storage    storage.Storage
	Classifier classifier.Classifier

	// ForceStyle renders markdown through glamour even when stdout is not a
	// terminal.
	ForceStyle bool
}

func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "aurora",
		Short:         "Search the storefront and talk to its shopping assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.close()
		},
	}

	root.PersistentFlags().StringVar(&app.ConfigPath, "config", "config.yaml", "Path to the configuration file")
	root.PersistentFlags().Int64Var(&app.UserID, "user", 1, "User id for preferences, cart and history")

	root.AddCommand(
		newSearchCommand(app),
		newProductCommand(app),
		newCompleteCommand(app),
		newChatCommand(app),
		newHealthCommand(app),
		newThemeCommand(app),
	)
	return root
}

func (a *App) init(ctx context.Context) error {
	if a.Config == nil {
		cfg, err := config.LoadConfig(a.ConfigPath)
		if err != nil {
			return err
		}
		a.Config = cfg
	}

	if a.Logger == nil {
		mode := a.Config.Log.Mode
		if mode == "" || mode == "production" {
			mode = "quiet"
		}
		logger, err := logging.New(mode)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		a.Logger = logger
	}

	if a.Backend == nil {
		client, err := backend.New(backend.Options{
			BaseURL:       a.Config.Backend.BaseURL,
			Timeout:       a.Config.Backend.Timeout,
			StreamTimeout: a.Config.Backend.StreamTimeout,
			Logger:        a.Logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create backend client: %w", err)
		}
		a.Backend = client
	}

	if a.Storage == nil {
		store, err := storage.New(ctx, a.Config.StorageConfig())
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.Storage = store
	}

	if a.Classifier == nil {
		if a.Config.OpenAI.Enabled() {
			a.Classifier = classifier.NewGPTClassifier(
				a.Config.OpenAI.APIKey,
				a.Config.OpenAI.Model,
				a.Config.OpenAI.MaxTokens,
				a.Config.OpenAI.Temperature,
				a.Logger,
			)
		} else {
			a.Classifier = classifier.NewSimpleClassifier()
		}
	}
	return nil
}

func (a *App) close() error {
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	if a.Storage != nil {
		return a.Storage.Close()
	}
	return nil
}

func (a *App) theme(ctx context.Context) *theme.Context {
	return theme.Load(ctx, a.Storage, a.UserID, a.Logger)
}

// printMarkdown writes md to w, styled with glamour when w is a terminal.
func (a *App) printMarkdown(ctx context.Context, w io.Writer, md string) error {
	if a.ForceStyle || isTerminal(w) {
		styled, err := glamour.Render(md, a.theme(ctx).Theme().GlamourStyle())
		if err == nil {
			md = styled
		} else {
			a.Logger.Debug("Failed to style output", zap.Error(err))
		}
	}
	_, err := fmt.Fprintln(w, md)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/xaenox/aurora-bot/internal/backend"
	"github.com/xaenox/aurora-bot/internal/catalog"
	"github.com/xaenox/aurora-bot/internal/classifier"
	"github.com/xaenox/aurora-bot/internal/models"
	"github.com/xaenox/aurora-bot/internal/render"
	"github.com/xaenox/aurora-bot/internal/theme"
	"github.com/xaenox/aurora-bot/internal/transcript"
	"go.uber.org/zap"
)

func newSearchCommand(app *App) *cobra.Command {
	var (
		minPrice  float64
		maxPrice  float64
		minRating float64
		limit     int
		save      bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the catalog and filter the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			q := app.Classifier.Classify(ctx, strings.Join(args, " "))

			prefs, err := app.Storage.GetPreferences(ctx, app.UserID)
			if err != nil {
				return fmt.Errorf("failed to load preferences: %w", err)
			}
			spec := q.FilterSpec(prefs.Filter)
			flags := cmd.Flags()
			if flags.Changed("min-price") {
				spec.MinPrice = minPrice
			}
			if flags.Changed("max-price") {
				spec.MaxPrice = maxPrice
			}
			if flags.Changed("min-rating") {
				spec.MinRating = minRating
			}
			if limit <= 0 {
				limit = app.Config.Backend.SearchLimit
			}

			req := models.SearchRequest{Query: q.Text, Limit: limit}
			if !q.Filters.Empty() {
				filters := q.Filters
				req.Filters = &filters
			}
			if ms := app.Config.Backend.MinSimilarity; ms > 0 {
				req.MinSimilarity = &ms
			}

			started := time.Now()
			var resp *models.SearchResponse
			if q.Filters.Empty() && classifier.Category(q.Text) {
				resp, err = app.Backend.Category(ctx, q.Text, limit)
				if err != nil {
					app.Logger.Warn("Category lookup failed", zap.Error(err), zap.String("category", q.Text))
				}
			}
			if resp == nil || len(resp.Results) == 0 {
				if resp, err = app.Backend.Search(ctx, req); err != nil {
					return friendly(err)
				}
			}

			rs := catalog.NewResultSet(spec)
			if _, err := rs.Replace(rs.Begin(), catalog.PageOf(q.Text, resp, time.Since(started))); err != nil {
				return err
			}

			if save {
				if err := app.Storage.SaveFilter(ctx, app.UserID, spec); err != nil {
					return fmt.Errorf("failed to save filter: %w", err)
				}
			}

			pal := app.theme(ctx).Palette()
			return app.printMarkdown(ctx, cmd.OutOrStdout(), render.Markdown.SearchResults(rs, pal, limit))
		},
	}

	cmd.Flags().Float64Var(&minPrice, "min-price", models.DefaultMinPrice, "Minimum price (inclusive)")
	cmd.Flags().Float64Var(&maxPrice, "max-price", models.DefaultMaxPrice, "Maximum price (inclusive)")
	cmd.Flags().Float64Var(&minRating, "min-rating", models.DefaultMinRating, "Minimum star rating")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results to request")
	cmd.Flags().BoolVar(&save, "save-filter", false, "Remember the price and rating bounds")
	return cmd
}

func newProductCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "product <id>",
		Short: "Show the details of one product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := app.Backend.Product(ctx, args[0])
			if err != nil {
				var herr *backend.HTTPError
				if errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound {
					return fmt.Errorf("no product with id %q", args[0])
				}
				return friendly(err)
			}
			return app.printMarkdown(ctx, cmd.OutOrStdout(), render.Markdown.ProductDetail(*p, app.theme(ctx).Palette()))
		},
	}
}

func newCompleteCommand(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "complete <prefix>",
		Short: "List query completions for a partial search",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			completions, err := app.Backend.Autocomplete(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return friendly(err)
			}
			out := cmd.OutOrStdout()
			for _, c := range completions {
				if c.Category != "" {
					fmt.Fprintf(out, "%s\t%s\n", c.Text, c.Category)
					continue
				}
				fmt.Fprintln(out, c.Text)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 8, "Maximum number of completions")
	return cmd
}

func newChatCommand(app *App) *cobra.Command {
	var quiet, noStream bool

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Ask the shopping assistant; progress is streamed to stderr",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			text := strings.Join(args, " ")
			chatID := app.UserID

			tr := transcript.New(chatID)
			if history, err := app.Storage.RecentMessages(ctx, chatID, app.Config.Backend.HistoryLimit*2); err == nil {
				tr.Restore(history)
			} else {
				app.Logger.Warn("Failed to restore conversation", zap.Error(err))
			}

			req := models.ChatRequest{Message: text, ConversationHistory: tr.History(app.Config.Backend.HistoryLimit)}
			userMsg := tr.AppendUser(text)
			turn := tr.Begin(text)
			if err := turn.Start(); err != nil {
				return err
			}

			var streamErr error
			if noStream {
				var resp *models.ChatResponse
				if resp, streamErr = app.Backend.Chat(ctx, req); streamErr == nil {
					streamErr = turn.Apply(models.StreamEvent{Type: models.EventComplete, Response: resp})
				}
			} else {
				progress := cmd.ErrOrStderr()
				_, streamErr = app.Backend.StreamChat(ctx, req, func(ev models.StreamEvent) error {
					if err := turn.Apply(ev); err != nil {
						return err
					}
					if !quiet {
						printProgress(progress, ev)
					}
					return nil
				})
			}

			msg := turn.Snapshot()
			if msg.Status != models.StatusComplete {
				failed, err := turn.Fail()
				if err != nil {
					return err
				}
				app.Logger.Warn("Streaming chat failed", zap.Error(streamErr))
				app.persist(cmd, chatID, userMsg, failed)
				return friendly(streamErr)
			}

			app.persist(cmd, chatID, userMsg, msg)
			pal := app.theme(ctx).Palette()
			out := render.Markdown.Message(msg, pal, 0)
			if len(msg.Suggestions) > 0 {
				out += "\n\n" + render.Markdown.Suggestions(msg.Suggestions)
			}
			return app.printMarkdown(ctx, cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print agent progress")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Wait for the whole answer instead of streaming")
	return cmd
}

func (a *App) persist(cmd *cobra.Command, chatID int64, msgs ...*models.Message) {
	for _, m := range msgs {
		if err := a.Storage.AppendMessage(cmd.Context(), chatID, m); err != nil {
			a.Logger.Warn("Failed to save message", zap.Error(err), zap.String("message_id", m.ID))
		}
	}
}

func printProgress(w io.Writer, ev models.StreamEvent) {
	switch ev.Type {
	case models.EventAgentStep:
		icon := "⏳"
		if ev.Status == models.StepCompleted {
			icon = "✅"
		}
		fmt.Fprintf(w, "%s %s %s\n", icon, ev.Agent, ev.Action)
	case models.EventToolCall:
		fmt.Fprintf(w, "🔧 %s %s\n", ev.Tool, ev.Params)
	}
}

func newHealthCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := app.Backend.Health(cmd.Context())
			if err != nil {
				return friendly(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.Markdown.Health(h, app.Backend.BaseURL()))
			if !h.Healthy() {
				return fmt.Errorf("backend status %q", h.Status)
			}
			return nil
		},
	}
}

func newThemeCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:       "theme [light|dark|toggle]",
		Short:     "Show or change the output theme",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"light", "dark", "toggle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tc := app.theme(ctx)

			if len(args) == 1 {
				if strings.EqualFold(args[0], "toggle") {
					if _, err := tc.Toggle(ctx); err != nil {
						return err
					}
				} else {
					t, ok := theme.Parse(args[0])
					if !ok {
						return fmt.Errorf("unknown theme %q, expected light or dark", args[0])
					}
					if err := tc.Set(ctx, t); err != nil {
						return err
					}
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", tc.Palette().Assistant, tc.Theme())
			return nil
		},
	}
}

// friendly replaces transport failures with the message users see in every
// front end.
func friendly(err error) error {
	if err == nil {
		return errors.New(transcript.FailureText)
	}
	if errors.Is(err, backend.ErrUnavailable) || errors.Is(err, backend.ErrStreamIncomplete) {
		return fmt.Errorf("%s (%w)", transcript.FailureText, err)
	}
	return err
}

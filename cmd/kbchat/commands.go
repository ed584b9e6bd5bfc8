package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kalambet/kbchat/internal/api"
	"github.com/kalambet/kbchat/internal/config"
	"github.com/kalambet/kbchat/internal/source"
	"github.com/kalambet/kbchat/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a running kbchat server a question",
	Long: `Ask a running kbchat server a question.

Examples:
  kbchat ask "What does the onboarding guide say about laptops?"
  kbchat ask --session 6f1c... "And for contractors?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runAsk(cmd.Context(), client, cmd.OutOrStdout(), strings.Join(args, " "), sessionID)
	},
}

func init() {
	askCmd.Flags().String("session", "", "continue an existing server session")
}

func runAsk(ctx context.Context, client *apiClient, w io.Writer, question, sessionID string) error {
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("question is required")
	}
	resp, err := client.post(ctx, "/chat", api.ChatRequest{Question: question, SessionID: sessionID})
	if err != nil {
		return err
	}
	var out api.ChatResponse
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	fmt.Fprintln(w, out.Response)
	return nil
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Ingest the corpus and build the index, then print statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var bar *progressbar.ProgressBar
		onProgress := func(done, total int, name string) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionSetDescription("Ingesting files"),
					progressbar.OptionSetWidth(40),
					progressbar.OptionShowCount(),
					progressbar.OptionThrottle(65*time.Millisecond),
					progressbar.OptionOnCompletion(func() {
						fmt.Fprintln(os.Stderr)
					}),
				)
			}
			bar.Set(done)
		}

		a, err := newApp(ctx, cfg, appOptions{OnProgress: onProgress})
		if err != nil {
			return err
		}
		defer a.Close()

		printStep("Loading %s", a.pipeline.Source().Name())
		idx, err := a.cache.Get(ctx)
		if err != nil {
			return fmt.Errorf("building index: %w", err)
		}

		st := idx.Stats()
		printSuccess("Index built")
		printStatus("Documents", "%d", st.Documents)
		printStatus("Chunks", "%d", st.Chunks)
		printStatus("Duration", "%s", st.Duration.Round(time.Millisecond))
		printStatus("Backend", "%s", cfg.Index.Backend)
		return nil
	},
}

// --- sources ---

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the corpus files without indexing them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadUnchecked()
		if err != nil {
			return err
		}
		setupLogging(os.Stderr, cfg.Log.Level)

		src, err := newSource(cmd.Context(), cfg.Source)
		if err != nil {
			return err
		}
		files, err := src.List(cmd.Context())
		if err != nil {
			return err
		}
		writeSources(cmd.OutOrStdout(), src.Name(), files)
		return nil
	},
}

func writeSources(w io.Writer, name string, files []source.File) {
	if len(files) == 0 {
		fmt.Fprintf(w, "No files found in %s.\n", name)
		return
	}
	var total int
	for _, f := range files {
		fmt.Fprintf(w, "%-48s  %-28s  %10s\n", f.Name, f.ContentType, humanize.IBytes(uint64(f.Size())))
		total += f.Size()
	}
	fmt.Fprintf(w, "\n%s files, %s in %s\n", colorize(colorBold, fmt.Sprint(len(files))), humanize.IBytes(uint64(total)), name)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show kbchat server and configuration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadUnchecked()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		showStatus(cmd.Context(), cmd.OutOrStdout(), cfg, client)
		return nil
	},
}

type healthInfo struct {
	Status    string `json:"status"`
	Index     string `json:"index"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
}

func showStatus(ctx context.Context, w io.Writer, cfg config.Config, client *apiClient) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var health healthInfo
	resp, err := client.get(ctx, "/health")
	switch {
	case err != nil:
		fprintStatus(w, "Server", "stopped")
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		fprintStatus(w, "Server", "error (HTTP %d)", resp.StatusCode)
	default:
		if err := decodeJSON(resp, &health); err != nil {
			fprintStatus(w, "Server", "error (%v)", err)
			break
		}
		fprintStatus(w, "Server", "running on %s", client.baseURL)
		if health.Index == "ready" {
			fprintStatus(w, "Index", "ready (%d documents, %d chunks)", health.Documents, health.Chunks)
		} else {
			fprintStatus(w, "Index", "%s", health.Index)
		}
	}

	fprintStatus(w, "LLM", "%s at %s", cfg.LLM.Model, cfg.LLM.BaseURL)
	if cfg.Embed.Backend == "ollama" {
		fprintStatus(w, "Embeddings", "%s via Ollama at %s", cfg.Ollama.EmbedModel, cfg.Ollama.BaseURL)
	} else {
		fprintStatus(w, "Embeddings", "%s", cfg.Embed.Model)
	}
	switch cfg.Source.Kind {
	case "drive":
		fprintStatus(w, "Source", "Google Drive folder %s", cfg.Source.DriveFolderID)
	default:
		fprintStatus(w, "Source", "local directory %s", cfg.Source.LocalDir)
	}
	fprintStatus(w, "Index backend", "%s", cfg.Index.Backend)
	fprintStatus(w, "Data dir", "%s", cfg.Storage.DataDir)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "List recent chat sessions or print one transcript",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.LoadUnchecked()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		if len(args) == 1 {
			return writeTranscript(cmd.OutOrStdout(), store, args[0])
		}
		return writeSessions(cmd.OutOrStdout(), store, limit)
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
}

func writeSessions(w io.Writer, store *storage.Store, limit int) error {
	sessions, err := store.ListSessions(limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s  %s  %s\n",
			colorize(colorCyan, s.ID),
			s.CreatedAt.Local().Format(time.DateTime),
			s.Origin,
		)
	}
	return nil
}

func writeTranscript(w io.Writer, store *storage.Store, id string) error {
	if _, err := store.GetSession(id); err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	msgs, err := store.GetMessages(id)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		printTurn(w, m.Role, m.Content)
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadUnchecked()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List configuration keys and their environment variables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadUnchecked()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-32s %s\n", k.Key, colorize(colorCyan, k.EnvVar))
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
}

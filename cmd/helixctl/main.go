package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-helix/internal/bootstrap"
	"github.com/Keyring-Network/keyring-helix/internal/chat"
	"github.com/Keyring-Network/keyring-helix/internal/config"
	"github.com/Keyring-Network/keyring-helix/internal/intent"
	"github.com/Keyring-Network/keyring-helix/internal/logging"
	"github.com/Keyring-Network/keyring-helix/internal/research"
)

type chatService interface {
	Chat(ctx context.Context, req chat.Request) (*chat.Turn, error)
}

type researcher interface {
	Research(ctx context.Context, query string, profile research.Profile) []string
}

var (
	loadConfig  = config.Load
	newLogger   = logging.New
	newPipeline = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (chatService, error) {
		return bootstrap.Pipeline(ctx, cfg, logger, bootstrap.DefaultFactories())
	}
	newResearcher = func(cfg config.Config, logger *zap.Logger) researcher {
		return bootstrap.Researcher(cfg, logger)
	}
)

var errNoSources = errors.New("no sources found")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "helixctl",
		Short:         "Talk to the Helix genomics assistant from the terminal",
		SilenceUsage:  true,
	}
	root.AddCommand(newAskCmd(), newClassifyCmd(), newResearchCmd())
	return root
}

// setup loads config and a logger. The CLI logs at warn unless LOG_LEVEL
// says otherwise so that streamed answers stay readable.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, nil, err
	}
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	logger, err := newLogger(level, "console")
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newAskCmd() *cobra.Command {
	var (
		deepResearch bool
		thinking     bool
		documentPath string
	)
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Stream one answer and list the sources it used",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			var document string
			if documentPath != "" {
				data, err := os.ReadFile(documentPath)
				if err != nil {
					return fmt.Errorf("read document: %w", err)
				}
				document = string(data)
			}

			service, err := newPipeline(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			turn, err := service.Chat(cmd.Context(), chat.Request{
				History:              []chat.Message{{Role: "user", Content: strings.Join(args, " ")}},
				EnableThinkingBudget: thinking,
				DeepResearch:         deepResearch,
				DocumentContext:      document,
			})
			if err != nil {
				return err
			}
			defer turn.Stream.Close()

			out := cmd.OutOrStdout()
			if _, err := io.Copy(out, turn.Stream); err != nil {
				fmt.Fprintln(out)
				return err
			}
			fmt.Fprintln(out)

			sources := turn.State().Sources()
			if len(sources) > 0 {
				fmt.Fprintln(out, "\nSources:")
				for _, source := range sources {
					fmt.Fprintf(out, "- %s\n", source.URL)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&deepResearch, "deep-research", false, "run a deep research job before answering")
	cmd.Flags().BoolVar(&thinking, "thinking", false, "enable the model thinking budget")
	cmd.Flags().StringVar(&documentPath, "document", "", "file whose contents are given to the model as document context")
	return cmd
}

func newClassifyCmd() *cobra.Command {
	var (
		deepResearch bool
		hasDocument  bool
	)
	cmd := &cobra.Command{
		Use:   "classify <message>",
		Short: "Print the routing decision for a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision := intent.Classify(intent.Input{
				Text:         strings.Join(args, " "),
				HasDocument:  hasDocument,
				DeepResearch: deepResearch,
			})
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(decision)
		},
	}
	cmd.Flags().BoolVar(&deepResearch, "deep-research", false, "classify as if deep research were toggled on")
	cmd.Flags().BoolVar(&hasDocument, "has-document", false, "classify as if a document were attached")
	return cmd
}

func newResearchCmd() *cobra.Command {
	var enhanced bool
	cmd := &cobra.Command{
		Use:   "research <query>",
		Short: "Run a deep research job and print the source URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			urls := newResearcher(cfg, logger).Research(cmd.Context(), strings.Join(args, " "), research.ProfileFor(enhanced))
			if len(urls) == 0 {
				return errNoSources
			}
			for _, url := range urls {
				fmt.Fprintln(cmd.OutOrStdout(), url)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&enhanced, "enhanced", false, "use the enhanced research profile")
	return cmd
}

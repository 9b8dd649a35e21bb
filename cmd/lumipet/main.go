// Command lumipet runs the desktop pet agent engine from a terminal: a chat
// REPL over the conversation loop and provider instance inspection.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lumipet/lumipet"
	"github.com/lumipet/lumipet/agent"
	"github.com/lumipet/lumipet/config"
	"github.com/lumipet/lumipet/logging"
	"github.com/lumipet/lumipet/provider"
	"github.com/lumipet/lumipet/skill"
)

func main() {
	root := &cobra.Command{
		Use:           "lumipet",
		Short:         "Desktop pet agent engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newChatCmd(), newProvidersCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds a fully wired Pet.
func setup() (*lumipet.Pet, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(func(o *logging.Options) {
		o.Level = logging.ParseLevel(cfg.Logging.Level)
		o.Format = cfg.Logging.Format
		o.Output = os.Stderr
	})

	pet, err := lumipet.New(func(o *lumipet.Options) {
		o.Logger = logger
		o.PluginSettings = cfg.Plugins
		o.AgentOptions = []func(ao *agent.Options){func(ao *agent.Options) {
			ao.MaxToolIterations = cfg.Agent.MaxToolIterations
			ao.Streaming = cfg.Agent.Streaming
			ao.HistoryWindow = cfg.Agent.HistoryWindow
			ao.EnableSpeech = cfg.Agent.EnableSpeech
			ao.EnableExpression = cfg.Agent.EnableExpression
			if cfg.Agent.SystemPrompt != "" {
				ao.SystemPrompt = cfg.Agent.SystemPrompt
			}
			if cfg.Agent.Temperature > 0 {
				temp := cfg.Agent.Temperature
				ao.Sampling.Temperature = &temp
			}
		}}
	})
	if err != nil {
		return nil, nil, err
	}

	if err := pet.LoadProviders(cfg.InstanceConfigs()); err != nil {
		pet.Shutdown()
		return nil, nil, fmt.Errorf("load providers: %w", err)
	}
	pet.ActivatePlugins()

	if cfg.SkillsDir != "" {
		if err := loadSkills(pet, cfg.SkillsDir); err != nil {
			logger.Warn("skills.load_failed", "dir", cfg.SkillsDir, "error", err.Error())
		}
	}
	return pet, cfg, nil
}

// loadSkills loads markdown skills as prompt-injection handlers: invoking the
// skill returns its instructions for the model to follow.
func loadSkills(pet *lumipet.Pet, dir string) error {
	defs, err := skill.LoadDir(dir)
	for _, d := range defs {
		d.Handler = func(ctx context.Context, args map[string]any) (string, error) {
			return d.Instructions, nil
		}
		if regErr := pet.Skills.Register(d); regErr != nil && err == nil {
			err = regErr
		}
	}
	return err
}

func kindLabel(k provider.Kind) string {
	if k == provider.KindSpeech {
		return "speech"
	}
	return "llm"
}

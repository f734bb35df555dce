package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	agentcfg "github.com/neboloop/nebo/internal/agent/config"
	"github.com/neboloop/nebo/internal/agent/customagents"
)

// SubagentsCmd creates the subagents management command.
func SubagentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subagents",
		Short: "Manage custom subagent definitions",
		Long: `Custom subagents are .md files with YAML frontmatter that define reusable
subagent templates: a name, an optional mode (explore/general), a tools
policy, and a prompt body.

User-scope definitions live under the data directory's agents/ folder;
repo-scope definitions live under .nebo/agents/ at the repository root and
take precedence over a user-scope definition sharing the same name.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all loaded custom subagent definitions",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadSubagentsConfig()
			listCustomAgents(cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [name]",
		Short: "Show a custom subagent's parsed definition",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadSubagentsConfig()
			showCustomAgent(cfg, args[0])
		},
	})

	return cmd
}

func loadSubagentsConfig() *agentcfg.Config {
	cfg, err := agentcfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func createCustomAgentLoader(cfg *agentcfg.Config) *customagents.Loader {
	repoRoot, _ := os.Getwd()
	return customagents.NewLoader(cfg.DataDir, repoRoot)
}

func listCustomAgents(cfg *agentcfg.Config) {
	loader := createCustomAgentLoader(cfg)
	if err := loader.LoadAll(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading subagents: %v\n", err)
		os.Exit(1)
	}

	agents := loader.List()
	if len(agents) == 0 {
		fmt.Println("No custom subagents loaded.")
		fmt.Printf("\nUser agents directory: %s\n", cfg.AgentsDir())
		fmt.Println("Create a <name>.md file there to define one.")
		return
	}

	fmt.Println("Loaded subagents:")
	for _, a := range agents {
		mode := "general"
		if a.HasMode {
			mode = a.Mode.String()
		}
		fmt.Printf("  %-24s [%s, %s] %s\n", a.Name, a.Scope, mode, a.Description)
	}

	for _, le := range loader.Errors() {
		fmt.Fprintf(os.Stderr, "warning: %s\n", le.Error())
	}
}

func showCustomAgent(cfg *agentcfg.Config, name string) {
	loader := createCustomAgentLoader(cfg)
	if err := loader.LoadAll(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading subagents: %v\n", err)
		os.Exit(1)
	}

	agent, ok := loader.Get(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "Subagent not found: %s\n", name)
		os.Exit(1)
	}

	fmt.Printf("Name: %s\n", agent.Name)
	fmt.Printf("Scope: %s\n", agent.Scope)
	fmt.Printf("Path: %s\n", agent.Path)
	if agent.Description != "" {
		fmt.Printf("Description: %s\n", agent.Description)
	}
	if agent.HasMode {
		fmt.Printf("Mode: %s\n", agent.Mode.String())
	}
	if agent.Model != "" {
		fmt.Printf("Model: %s\n", agent.Model)
	}
	fmt.Printf("Tools: %s\n", agent.Tools.Kind)
	if len(agent.Tools.Allowlist) > 0 {
		fmt.Printf("  Allowlist: %v\n", agent.Tools.Allowlist)
	}
	fmt.Println()
	fmt.Println("Prompt:")
	fmt.Println(agent.Prompt)
}

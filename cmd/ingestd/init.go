package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// initAnswers are the choices collected by the init form.
type initAnswers struct {
	Engine    string // "index" or "remote"
	EngineURL string
	Graph     bool
	Neo4jURI  string
	Embedder  string // "none", "ollama", "openai" or "gemini"
	Gateway   bool
	Bind      string
	MCPHTTP   bool
}

func defaultAnswers() initAnswers {
	return initAnswers{
		Engine:   "index",
		Neo4jURI: "bolt://localhost:7687",
		Embedder: "ollama",
		Gateway:  true,
		Bind:     "127.0.0.1:8080",
	}
}

func initCmd() *cobra.Command {
	var (
		output string
		force  bool
		yes    bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}

			a := defaultAnswers()
			if !yes {
				if err := askInit(&a); err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						return nil
					}
					return err
				}
			}

			raw, err := renderConfig(a)
			if err != nil {
				return err
			}
			if dir := filepath.Dir(output); dir != "." {
				if err := os.MkdirAll(dir, 0o750); err != nil {
					return err
				}
			}
			if err := os.WriteFile(output, raw, 0o600); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s\n", output)
			if vars := requiredEnv(a); len(vars) > 0 {
				fmt.Fprintln(out, "Set these variables (or put them in a .env file next to the config):")
				for _, v := range vars {
					fmt.Fprintf(out, "  %s\n", v)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "ingestd.yaml", "Where to write the configuration")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Accept the defaults without prompting")
	return cmd
}

func askInit(a *initAnswers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Mutation engine").
				Description("Where episodes are applied once dequeued.").
				Options(
					huh.NewOption("Built-in index (embed and store locally)", "index"),
					huh.NewOption("Remote HTTP engine", "remote"),
				).
				Value(&a.Engine),
			huh.NewSelect[string]().
				Title("Embedding provider").
				Description("Used for similarity routing of episodes without a group.").
				Options(
					huh.NewOption("Ollama", "ollama"),
					huh.NewOption("OpenAI-compatible", "openai"),
					huh.NewOption("Gemini", "gemini"),
					huh.NewOption("None", "none"),
				).
				Value(&a.Embedder),
			huh.NewConfirm().
				Title("Store content in Neo4j?").
				Value(&a.Graph),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Remote engine URL").
				Value(&a.EngineURL).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("required")
					}
					return nil
				}),
		).WithHideFunc(func() bool { return a.Engine != "remote" }),
		huh.NewGroup(
			huh.NewInput().
				Title("Neo4j URI").
				Value(&a.Neo4jURI),
		).WithHideFunc(func() bool { return !a.Graph }),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the HTTP gateway?").
				Value(&a.Gateway),
			huh.NewConfirm().
				Title("Serve MCP over HTTP (instead of stdio)?").
				Value(&a.MCPHTTP),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway bind address").
				Value(&a.Bind).
				Validate(func(s string) error {
					_, err := net.ResolveTCPAddr("tcp", s)
					return err
				}),
		).WithHideFunc(func() bool { return !a.Gateway }),
	)
	return form.Run()
}

// renderConfig turns answers into a configuration file. Secrets are
// written as ${VAR} references, never inline.
func renderConfig(a initAnswers) ([]byte, error) {
	modules := map[string]any{
		"store.sqlite": map[string]any{},
	}

	switch a.Engine {
	case "remote":
		modules["engine.remote"] = map[string]any{
			"url":   a.EngineURL,
			"token": "${INGESTD_ENGINE_TOKEN:-}",
		}
	default:
		modules["engine.index"] = map[string]any{}
	}

	if a.Graph {
		modules["store.neo4j"] = map[string]any{
			"uri":      a.Neo4jURI,
			"user":     "neo4j",
			"password": "${NEO4J_PASSWORD}",
		}
	}

	switch a.Embedder {
	case "ollama":
		modules["embedder.http"] = map[string]any{"kind": "ollama"}
	case "openai":
		modules["embedder.http"] = map[string]any{"kind": "openai", "api_key": "${OPENAI_API_KEY}"}
	case "gemini":
		modules["embedder.gemini"] = map[string]any{"api_key": "${GEMINI_API_KEY}"}
	}

	if a.Gateway {
		modules["gateway.http"] = map[string]any{
			"bind": a.Bind,
			"auth": map[string]any{"bearer_token": "${INGESTD_TOKEN}"},
		}
	}
	if a.MCPHTTP {
		modules["mcp.server"] = map[string]any{"transport": "http"}
	}

	doc := struct {
		Version  string         `yaml:"version"`
		Modules  map[string]any `yaml:"modules"`
		Pipeline map[string]any `yaml:"pipeline"`
	}{
		Version: "1",
		Modules: modules,
		Pipeline: map[string]any{
			"max_attempts": 5,
			"pending_ttl":  "24h",
		},
	}
	return yaml.Marshal(doc)
}

// requiredEnv lists the variables renderConfig references without a default.
func requiredEnv(a initAnswers) []string {
	var vars []string
	if a.Graph {
		vars = append(vars, "NEO4J_PASSWORD")
	}
	switch a.Embedder {
	case "openai":
		vars = append(vars, "OPENAI_API_KEY")
	case "gemini":
		vars = append(vars, "GEMINI_API_KEY")
	}
	if a.Gateway {
		vars = append(vars, "INGESTD_TOKEN")
	}
	return vars
}

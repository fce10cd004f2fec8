package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/habiliai/agentmemory"
	"github.com/habiliai/agentmemory/config"
	"github.com/habiliai/agentmemory/graph"
	"github.com/habiliai/agentmemory/internal/mylog"
	"github.com/habiliai/agentmemory/memory"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:          "agentmemory",
		Short:        "Temporal memory and knowledge graph for AI agents",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml)")

	newMemory := func(cmd *cobra.Command) (*agentmemory.AgentMemory, error) {
		conf := config.New()
		if configFile != "" {
			loaded, err := config.LoadFile(configFile)
			if err != nil {
				return nil, err
			}
			conf = loaded
		}
		logger := mylog.NewLogger(conf.Log.LogLevel, conf.Log.LogHandler)
		return agentmemory.NewAgentMemory(
			cmd.Context(),
			agentmemory.WithConfig(conf),
			agentmemory.WithLogger(logger),
		)
	}

	cmd.AddCommand(
		newSearchCmd(newMemory),
		newExtractCmd(newMemory),
		newGraphCmd(newMemory),
		newRetentionCmd(),
	)

	return cmd
}

type memoryFactory func(cmd *cobra.Command) (*agentmemory.AgentMemory, error)

func newSearchCmd(newMemory memoryFactory) *cobra.Command {
	var (
		grain   string
		query   string
		daysAgo int
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "search <agent-id>",
		Short: "Search an agent's temporal memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := memory.ParseGrain(grain)
			if err != nil {
				return err
			}

			m, err := newMemory(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			hits, err := m.SearchMemory(cmd.Context(), memory.SearchMemoryParams{
				AgentID:        args[0],
				Grain:          g,
				QueryText:      query,
				MaximumDaysAgo: daysAgo,
				MaxResults:     limit,
			})
			if err != nil {
				return err
			}

			return printJSON(hits)
		},
	}
	cmd.Flags().StringVarP(&grain, "grain", "g", string(memory.GrainDaily), "temporal grain")
	cmd.Flags().StringVarP(&query, "query", "q", "", "semantic query text")
	cmd.Flags().IntVar(&daysAgo, "days-ago", 0, "window size in days (0 for default)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum results (0 for default)")

	return cmd
}

func newExtractCmd(newMemory memoryFactory) *cobra.Command {
	var (
		workspaceID    string
		conversationID string
		apply          bool
	)

	cmd := &cobra.Command{
		Use:   "extract <agent-id> <conversation-file>",
		Short: "Extract graph facts from a conversation transcript",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conversation, err := os.ReadFile(args[1])
			if err != nil {
				return errors.Wrapf(err, "failed to read conversation file")
			}

			m, err := newMemory(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			result, err := m.ExtractConversationMemory(cmd.Context(), graph.ExtractParams{
				WorkspaceID:      workspaceID,
				AgentID:          args[0],
				ConversationID:   conversationID,
				ConversationText: string(conversation),
			})
			if err != nil {
				return err
			}

			if apply {
				if err := m.ApplyMemoryOperations(cmd.Context(), graph.ApplyParams{
					WorkspaceID:    workspaceID,
					AgentID:        args[0],
					ConversationID: conversationID,
					Operations:     result.MemoryOperations,
				}); err != nil {
					return err
				}
			}

			return printJSON(result)
		},
	}
	cmd.Flags().StringVarP(&workspaceID, "workspace", "w", "default", "workspace id")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id")
	cmd.Flags().BoolVar(&apply, "apply", false, "apply extracted operations to the graph")

	return cmd
}

func newGraphCmd(newMemory memoryFactory) *cobra.Command {
	var workspaceID string

	cmd := &cobra.Command{
		Use:   "graph <agent-id> <entity>...",
		Short: "Look up graph facts mentioning the given entities",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMemory(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			snippets, err := m.SearchGraphByEntities(cmd.Context(), workspaceID, args[0], args[1:])
			if err != nil {
				return err
			}

			return printJSON(snippets)
		},
	}
	cmd.Flags().StringVarP(&workspaceID, "workspace", "w", "default", "workspace id")

	return cmd
}

func newRetentionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention <plan>",
		Short: "Show retention cutoffs per temporal grain for a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan := memory.Plan(args[0])
			policy := memory.NewRetentionPolicy()

			now := time.Now()
			cutoffs := map[memory.TemporalGrain]string{}
			for _, grain := range memory.MemoryGrains {
				cutoff, err := policy.RetentionCutoff(grain, plan, now)
				if err != nil {
					return err
				}
				cutoffs[grain] = cutoff.Format(time.RFC3339)
			}

			return printJSON(cutoffs)
		},
	}

	return cmd
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	fmt.Println(string(out))
	return nil
}

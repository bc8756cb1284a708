package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"newsintel/internal/core"
	"newsintel/internal/entities"
	"newsintel/internal/persistence"
)

// NewEntityCmd creates the entity command
func NewEntityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Manage tracked entities and their aliases",
	}

	cmd.AddCommand(newEntityAddCmd())
	cmd.AddCommand(newEntityListCmd())
	cmd.AddCommand(newEntityAliasCmd())

	return cmd
}

func newEntityAddCmd() *cobra.Command {
	var (
		entityType string
		externalID string
		aliases    []string
	)

	cmd := &cobra.Command{
		Use:   "add <canonical name>",
		Short: "Register an entity, or report the existing one",
		Long: `Register an entity in the pipeline's domain. Adding an entity that already
exists is a no-op apart from any new aliases.

Examples:
  newsintel entity add "Jack Smith" --alias "Smithy" --alias "J. Smith"
  newsintel entity add "Carlton" --type team`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
				e, created, err := a.pipeline.Resolver().GetOrCreate(ctx, core.Entity{
					Domain:        a.pipeline.Domain(),
					Type:          core.EntityType(entityType),
					CanonicalName: strings.TrimSpace(args[0]),
					ExternalID:    externalID,
				})
				if err != nil {
					return err
				}

				written := 0
				for _, alias := range aliases {
					ok, err := a.pipeline.Resolver().AddAlias(ctx, e.ID, alias, 1, core.AliasManual)
					if err != nil {
						return err
					}
					if ok {
						written++
					}
				}

				if created {
					fmt.Printf("✅ Created %s %q (%s)\n", e.Type, e.CanonicalName, e.ID)
				} else {
					fmt.Printf("ℹ️  %s %q already exists (%s)\n", e.Type, e.CanonicalName, e.ID)
				}
				if len(aliases) > 0 {
					fmt.Printf("🏷️  Aliases written: %d of %d\n", written, len(aliases))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&entityType, "type", "t", string(core.EntityPlayer), "Entity type (player, team, asset)")
	cmd.Flags().StringVar(&externalID, "external-id", "", "Identifier in an external system")
	cmd.Flags().StringSliceVarP(&aliases, "alias", "a", nil, "Alias to register (repeatable)")

	return cmd
}

func newEntityListCmd() *cobra.Command {
	var (
		entityType string
		query      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entities in the pipeline's domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
				list, err := a.db.Entities().List(ctx, persistence.EntityFilter{
					Domain: a.pipeline.Domain(),
					Type:   core.EntityType(entityType),
					Query:  query,
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Println("No entities found")
					return nil
				}

				fmt.Printf("%-36s  %-7s  %s\n", "ID", "Type", "Name")
				fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
				for _, e := range list {
					fmt.Printf("%-36s  %-7s  %s\n", e.ID, e.Type, e.CanonicalName)
				}
				fmt.Printf("\nTotal: %d\n", len(list))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&entityType, "type", "t", "", "Only this entity type")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Name substring")
	cmd.Flags().IntVarP(&limit, "limit", "l", 100, "Maximum entities to list")

	return cmd
}

func newEntityAliasCmd() *cobra.Command {
	var confidence float64

	cmd := &cobra.Command{
		Use:   "alias <entity id> <alias>",
		Short: "Attach a manual alias to an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if confidence <= 0 || confidence > 1 {
				return fmt.Errorf("confidence must be in (0, 1], got %v", confidence)
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
				ok, err := a.pipeline.Resolver().AddAlias(ctx, args[0], args[1], confidence, core.AliasManual)
				if errors.Is(err, core.ErrNotFound) {
					return fmt.Errorf("entity %s not found", args[0])
				}
				if err != nil {
					return err
				}
				if ok {
					fmt.Printf("🏷️  Alias %q added\n", args[1])
				} else {
					fmt.Printf("ℹ️  Alias %q already present\n", args[1])
				}
				return nil
			})
		},
	}

	cmd.Flags().Float64Var(&confidence, "confidence", 1, "Alias confidence (0, 1]")

	return cmd
}

// NewResolveCmd creates the resolve command
func NewResolveCmd() *cobra.Command {
	var entityType string

	cmd := &cobra.Command{
		Use:   "resolve <mention>",
		Short: "Resolve a free-text mention to a tracked entity",
		Long: `Resolve a mention the way the pipeline does: exact alias or canonical name
first, then fuzzy matching above the configured threshold. A fuzzy match
teaches the registry a learned alias.

Examples:
  newsintel resolve "J. Smith"
  newsintel resolve "the Blues" --type team`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
				res, err := a.pipeline.Resolver().Resolve(ctx, args[0], entities.Hint{
					Domain: a.pipeline.Domain(),
					Type:   core.EntityType(entityType),
				})
				if errors.Is(err, core.ErrUnresolvedEntity) {
					fmt.Printf("❓ No entity matches %q\n", args[0])
					return nil
				}
				if err != nil {
					return err
				}

				fmt.Printf("✅ %q → %s %q (%s)\n", args[0], res.Entity.Type, res.Entity.CanonicalName, res.Entity.ID)
				fmt.Printf("   method=%s score=%.2f matched=%q\n", res.Method, res.Score, res.Matched)
				if res.Learned {
					fmt.Println("   learned a new alias")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&entityType, "type", "t", "", "Only this entity type")

	return cmd
}

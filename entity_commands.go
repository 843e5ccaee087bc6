package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/reasoning"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/repositories"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/services"
)

const offlineTenant = "local"

func explainCmd(flags *globalFlags) *cobra.Command {
	var schemaPaths []string

	cmd := &cobra.Command{
		Use:   "explain <entity.yaml>",
		Short: "Show what the schema entails for one entity, with provenance",
		Long: `explain materializes an entity against in-memory stores seeded with the
file's context edges, then prints every inferred edge and the rule that
produced it. Nothing is written to Postgres.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			tbox, err := loadSchema(schemaPaths)
			if err != nil {
				return err
			}
			doc, err := loadEntityFile(args[0])
			if err != nil {
				return err
			}
			tenantID := doc.tenantOr("", offlineTenant)

			schemas := services.NewSchemaService(repositories.NewMemoryTBoxRepository(), nil, services.NoTenantContext, nil, logger)
			if _, err := schemas.Install(ctx, tenantID, tbox); err != nil {
				return err
			}
			store := repositories.NewMemoryEdgeStore()
			if err := store.UpsertMany(ctx, doc.contextRecords(tenantID)); err != nil {
				return err
			}

			mat := services.NewMaterializer(schemas, store, nil, services.NoTenantContext, &cfg.Reasoner, nil, logger)
			result, err := mat.Materialize(ctx, doc.request(tenantID))
			if err != nil {
				return err
			}
			printExplanation(cmd.OutOrStdout(), doc, result)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&schemaPaths, "schema", "s", nil, "Schema file(s), merged in order")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

func materializeCmd(flags *globalFlags) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "materialize <entity.yaml>",
		Short: "Reconcile one entity's edges in the store with its installed schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			doc, err := loadEntityFile(args[0])
			if err != nil {
				return err
			}
			tenantID := doc.tenantOr(tenant, "")
			if tenantID == "" {
				return fmt.Errorf("a tenant is required (--tenant or tenant: in %s)", args[0])
			}

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.materializer.Materialize(ctx, doc.request(tenantID))
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), doc.Entity.ID, result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant id (overrides the file)")
	return cmd
}

func recomputeCmd(flags *globalFlags) *cobra.Command {
	var tenant, entityType string

	cmd := &cobra.Command{
		Use:   "recompute <entity-id>...",
		Short: "Re-materialize entities from their stored explicit edges",
		Long: `recompute reads each entity's stored explicit edges and materializes them
again, so inferred edges follow the currently installed schema.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			var failed int
			for _, id := range args {
				explicit, err := a.storedExplicit(ctx, tenant, id)
				if err != nil {
					return err
				}
				result, err := a.materializer.Materialize(ctx, services.MaterializeRequest{
					TenantID:   tenant,
					EntityType: entityType,
					EntityID:   id,
					Explicit:   explicit,
				})
				if err != nil {
					a.logger.Error("Failed to recompute entity", zap.String("entity_id", id), zap.Error(err))
					failed++
					continue
				}
				printSummary(cmd.OutOrStdout(), id, result)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d entities failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant id")
	cmd.Flags().StringVar(&entityType, "type", "", "Entity type (class id)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// storedExplicit returns the explicit edges currently stored from entityID.
func (a *app) storedExplicit(ctx context.Context, tenantID, entityID string) ([]reasoning.Edge, error) {
	tenantCtx, cleanup, err := a.getTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant context: %w", err)
	}
	defer cleanup()

	records, err := a.store.FindBySrc(tenantCtx, tenantID, entityID)
	if err != nil {
		return nil, err
	}
	var edges []reasoning.Edge
	for _, rec := range records {
		if !rec.IsExplicit() {
			continue
		}
		edges = append(edges, reasoning.Edge{
			SrcID: rec.Src, SrcType: rec.SrcType, Predicate: rec.Predicate, DstID: rec.Dst, DstType: rec.DstType,
		})
	}
	return edges, nil
}

func printExplanation(w io.Writer, doc *entityFile, result *services.MaterializeResult) {
	inf := result.Inference
	fmt.Fprintf(w, "%s %s\n", doc.Entity.Type, doc.Entity.ID)
	fmt.Fprintf(w, "  types: %s\n", strings.Join(inf.Types, ", "))
	fmt.Fprintf(w, "  forward chaining: %d edges in %d iterations (converged: %t)\n",
		len(inf.AddedEdges), inf.Iterations, inf.Converged)
	for _, e := range inf.AddedEdges {
		fmt.Fprintf(w, "    %s  [%s]\n", e.Ref(), reasoning.RuleID(e.Provenance))
		for _, in := range e.Provenance.Inputs() {
			fmt.Fprintf(w, "      <- %s\n", in)
		}
	}
	fmt.Fprintf(w, "  property chains over stored edges: %d edges\n", len(result.ChainDerived))
	for _, rec := range result.ChainDerived {
		for _, s := range rec.Support {
			fmt.Fprintf(w, "    %s  [%s]\n", rec.Ref(), s.RuleID)
			for _, in := range s.PathEdges {
				fmt.Fprintf(w, "      <- %s\n", in)
			}
		}
	}
}

func printSummary(w io.Writer, entityID string, result *services.MaterializeResult) {
	fmt.Fprintf(w, "%s: written explicit=%d inferred=%d computed=%d; deleted explicit=%d inferred=%d computed=%d; pruned=%d\n",
		entityID,
		result.Written[models.OriginExplicit], result.Written[models.OriginInferred], result.Written[models.OriginComputed],
		result.Deleted[models.OriginExplicit], result.Deleted[models.OriginInferred], result.Deleted[models.OriginComputed],
		result.Pruned)
	if result.ProviderErr != nil {
		fmt.Fprintf(w, "%s: provider errors: %v\n", entityID, result.ProviderErr)
	}
}

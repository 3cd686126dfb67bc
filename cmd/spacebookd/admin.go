package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MarkoPoloResearchLab/spacebook/internal/oplog"
	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	flagRole        = "role"
	flagName        = "name"
	flagCapacity    = "capacity"
	flagType        = "type"
	flagAccessLevel = "access"
	flagMetadata    = "metadata"
)

// operatorActor is the identity administrative subcommands run as.
var operatorActor = booking.Actor{Role: booking.RoleAdmin}

func newMigrateCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opened, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = opened.close() }()
			if err := opened.migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			return printJSON(cmd, map[string]any{"status": "migrated", "store": cfg.Store})
		},
	}
}

func newHolderCommand(cfg *runtimeConfig) *cobra.Command {
	holder := &cobra.Command{
		Use:   "holder",
		Short: "Manage reservation holders",
	}

	put := &cobra.Command{
		Use:   "put <holder-id>",
		Short: "Create a holder or change its role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawRole, _ := cmd.Flags().GetString(flagRole)
			role, err := booking.ParseRole(rawRole)
			if err != nil {
				return err
			}
			return withService(cmd, cfg, func(ctx context.Context, service *booking.Service) error {
				holderID, err := booking.NewHolderID(args[0])
				if err != nil {
					return err
				}
				saved, err := service.PutHolder(ctx, operatorActor, holderID, role)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"holder_id": saved.ID.String(), "role": saved.Role.String()})
			})
		},
	}
	put.Flags().String(flagRole, booking.RoleMember.String(), "Holder role: guest, member or admin")

	rotate := &cobra.Command{
		Use:   "rotate-token <holder-id>",
		Short: "Issue a new activation token and print it once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, cfg, func(ctx context.Context, service *booking.Service) error {
				holderID, err := booking.NewHolderID(args[0])
				if err != nil {
					return err
				}
				token, err := service.RotateActivationToken(ctx, operatorActor, holderID)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"holder_id": holderID.String(), "token": token})
			})
		},
	}

	holder.AddCommand(put, rotate)
	return holder
}

func newResourceCommand(cfg *runtimeConfig) *cobra.Command {
	resource := &cobra.Command{
		Use:   "resource",
		Short: "Manage bookable resources",
	}

	put := &cobra.Command{
		Use:   "put <resource-id>",
		Short: "Create or replace a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := resourceFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			return withService(cmd, cfg, func(ctx context.Context, service *booking.Service) error {
				if err := service.PutResource(ctx, operatorActor, built); err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{
					"resource_id":  built.ID().String(),
					"name":         built.Name(),
					"capacity":     built.Capacity(),
					"type":         built.Type().String(),
					"access_level": built.AccessLevel().String(),
					"metadata":     json.RawMessage(built.Metadata().String()),
				})
			})
		},
	}
	put.Flags().String(flagName, "", "Display name")
	put.Flags().Int(flagCapacity, 1, "Number of people the resource fits")
	put.Flags().String(flagType, booking.ResourceRoom.String(), "Resource type: room or seat")
	put.Flags().String(flagAccessLevel, booking.AccessPublic.String(), "Access level: public or restricted")
	put.Flags().String(flagMetadata, "", "Free-form JSON attributes")

	resource.AddCommand(put)
	return resource
}

func resourceFromFlags(cmd *cobra.Command, rawID string) (booking.Resource, error) {
	flags := cmd.Flags()
	name, _ := flags.GetString(flagName)
	capacity, _ := flags.GetInt(flagCapacity)
	rawType, _ := flags.GetString(flagType)
	rawAccess, _ := flags.GetString(flagAccessLevel)
	rawMetadata, _ := flags.GetString(flagMetadata)

	resourceID, err := booking.NewResourceID(rawID)
	if err != nil {
		return booking.Resource{}, err
	}
	resourceType, err := booking.ParseResourceType(rawType)
	if err != nil {
		return booking.Resource{}, err
	}
	accessLevel, err := booking.ParseAccessLevel(rawAccess)
	if err != nil {
		return booking.Resource{}, err
	}
	metadata, err := booking.NewMetadataJSON(rawMetadata)
	if err != nil {
		return booking.Resource{}, err
	}
	return booking.NewResource(resourceID, name, capacity, resourceType, accessLevel, metadata)
}

func withService(cmd *cobra.Command, cfg *runtimeConfig, run func(ctx context.Context, service *booking.Service) error) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	opened, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = opened.close() }()
	service, err := newService(opened.store, cfg, oplog.New(logger.With(zap.String("command", cmd.CommandPath()))))
	if err != nil {
		return err
	}
	return run(cmd.Context(), service)
}

func printJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

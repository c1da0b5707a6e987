package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/user"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"votegate/internal/gate/models"
	"votegate/internal/gate/service"
	gatepostgres "votegate/internal/gate/store/postgres"
	"votegate/pkg/platform/audit/publisher"
	auditpostgres "votegate/pkg/platform/audit/store/postgres"
	"votegate/pkg/platform/tx"
	"votegate/pkg/requestcontext"
)

type colorListFlags struct {
	whitelist bool
	blacklist bool
	ip        string
	tlf       string
}

func (f *colorListFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.whitelist, "whitelist", "w", false, "whitelist entries")
	cmd.Flags().BoolVarP(&f.blacklist, "blacklist", "b", false, "blacklist entries")
	cmd.Flags().StringVarP(&f.ip, "ip", "i", "", "IP address")
	cmd.Flags().StringVarP(&f.tlf, "tlf", "t", "", "phone number")
	cmd.MarkFlagsMutuallyExclusive("whitelist", "blacklist")
	cmd.MarkFlagsMutuallyExclusive("ip", "tlf")
}

// filter turns the flags into a list filter. Unset flags match everything.
func (f *colorListFlags) filter(region string) (models.ColorListFilter, error) {
	var out models.ColorListFilter
	switch {
	case f.whitelist:
		out.Action = models.ActionWhitelist
	case f.blacklist:
		out.Action = models.ActionBlacklist
	}
	switch {
	case f.ip != "":
		out.Dimension = models.DimensionIP
		out.Value = f.ip
	case f.tlf != "":
		tlf, err := normalizeTlf(f.tlf, region)
		if err != nil {
			return out, err
		}
		out.Dimension = models.DimensionPhone
		out.Value = tlf
	}
	return out, nil
}

// request is the filter of an add or remove, where every part is required.
func (f *colorListFlags) request(region string) (models.ColorListRequest, error) {
	filter, err := f.filter(region)
	if err != nil {
		return models.ColorListRequest{}, err
	}
	if filter.Action == "" {
		return models.ColorListRequest{}, errors.New("one of --whitelist or --blacklist is required")
	}
	if filter.Dimension == "" {
		return models.ColorListRequest{}, errors.New("one of --ip or --tlf is required")
	}
	return models.ColorListRequest{
		Dimension: string(filter.Dimension),
		Action:    string(filter.Action),
		Value:     filter.Value,
	}, nil
}

func (c *cli) colorListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "colorlist",
		Aliases: []string{"cl"},
		Short:   "Manage whitelisted and blacklisted phones and IPs",
	}
	cmd.AddCommand(c.colorListAddCommand(), c.colorListRemoveCommand(), c.colorListListCommand())
	return cmd
}

func (c *cli) colorListAddCommand() *cobra.Command {
	var flags colorListFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a color list entry; blacklisting also drops queued messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request(c.cfg.Gate.DefaultRegion)
			if err != nil {
				return err
			}
			return c.withColorList(cmd.Context(), func(ctx context.Context, colors *service.ColorListService) error {
				existing, err := colors.List(ctx, models.ColorListFilter{
					Dimension: models.Dimension(req.Dimension),
					Action:    models.Action(req.Action),
					Value:     req.Value,
				})
				if err != nil {
					return err
				}
				if len(existing) > 0 {
					c.logger.Warn("already listed that way, nothing to do", "value", req.Value)
					return nil
				}
				if err := colors.AddEntry(ctx, req); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", req.Action, req.Dimension, req.Value)
				return nil
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func (c *cli) colorListRemoveCommand() *cobra.Command {
	var flags colorListFlags
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a color list entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request(c.cfg.Gate.DefaultRegion)
			if err != nil {
				return err
			}
			return c.withColorList(cmd.Context(), func(ctx context.Context, colors *service.ColorListService) error {
				n, err := colors.RemoveEntry(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
				return nil
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func (c *cli) colorListListCommand() *cobra.Command {
	var flags colorListFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List color list entries, optionally filtered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := flags.filter(c.cfg.Gate.DefaultRegion)
			if err != nil {
				return err
			}
			return c.withColorList(cmd.Context(), func(ctx context.Context, colors *service.ColorListService) error {
				entries, err := colors.List(ctx, filter)
				if err != nil {
					return err
				}
				return printColorList(cmd.OutOrStdout(), entries)
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

// withColorList runs fn against the database-backed color list service.
// Changes are audited to the audit_events table with the operator's login as
// the actor.
func (c *cli) withColorList(ctx context.Context, fn func(context.Context, *service.ColorListService) error) error {
	db, err := c.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	store := gatepostgres.New(db)
	serializer := tx.NewSerializer(store,
		tx.WithMaxRetries(c.cfg.Gate.MaxSerializedRetries),
		tx.WithLogger(c.logger),
	)
	auditPublisher := publisher.NewPublisher(auditpostgres.New(db), publisher.WithLogger(c.logger))
	defer auditPublisher.Close()

	colors, err := service.NewColorListService(store, serializer,
		service.WithColorListLogger(c.logger),
		service.WithColorListAuditPublisher(auditPublisher),
	)
	if err != nil {
		return err
	}

	ctx = requestcontext.WithTime(ctx, time.Now())
	ctx = requestcontext.WithAdminSubject(ctx, operator())
	return fn(ctx, colors)
}

func operator() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return programName + ":" + u.Username
	}
	return programName
}

func printColorList(w io.Writer, entries []*models.ColorListEntry) error {
	fmt.Fprintf(w, "%d rows:\n", len(entries))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACTION\tKEY\tVALUE\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			e.ID, e.Action, e.Dimension, e.Value, e.Created.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

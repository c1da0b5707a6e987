package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"votegate/pkg/platform/audit"
	auditkafka "votegate/pkg/platform/audit/kafka"
	auditpostgres "votegate/pkg/platform/audit/store/postgres"
)

func (c *cli) auditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect audit events",
	}
	cmd.AddCommand(c.auditRecentCommand(), c.auditTailCommand())
	return cmd
}

func parseCategory(s string) (audit.EventCategory, error) {
	switch c := audit.EventCategory(s); c {
	case "", audit.CategoryCompliance, audit.CategorySecurity, audit.CategoryOperations:
		return c, nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}

func (c *cli) auditRecentCommand() *cobra.Command {
	var (
		category string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Print the newest events from the audit_events table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := parseCategory(category)
			if err != nil {
				return err
			}
			db, err := c.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			events, err := auditpostgres.New(db).ListRecent(cmd.Context(), cat, limit)
			if err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "compliance, security or operations")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of events")
	return cmd
}

func (c *cli) auditTailCommand() *cobra.Command {
	var (
		category  string
		fromStart bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the Kafka audit topic, one JSON event per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := parseCategory(category)
			if err != nil {
				return err
			}
			if len(c.cfg.Kafka.Brokers) == 0 {
				return errors.New("KAFKA_BROKERS is required")
			}
			consumer, err := auditkafka.NewConsumer(c.cfg.Kafka.Brokers, c.cfg.Kafka.AuditTopic, fromStart, c.logger)
			if err != nil {
				return err
			}
			defer consumer.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			printEvent := auditkafka.HandlerFunc(func(_ context.Context, e audit.Event) error {
				return enc.Encode(e)
			})
			var handler auditkafka.Handler = printEvent
			if cat != "" {
				router := auditkafka.NewRouter(c.logger, nil)
				router.Register(cat, printEvent)
				handler = router
			}
			return consumer.Run(cmd.Context(), handler)
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "only print this category")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "read the topic from the beginning")
	return cmd
}

func printEvents(w io.Writer, events []audit.Event) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tCATEGORY\tACTION\tSUBJECT\tIP\tREASON\tACTOR")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.UTC().Format(time.RFC3339), e.Category, e.Action,
			e.Subject, e.IP, e.Reason, e.ActorID)
	}
	return tw.Flush()
}

package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-rxdraft/internal/infrastructure/redpanda"
)

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage Redpanda topics",
	}
	cmd.PersistentFlags().StringSlice("brokers", nil, "seed brokers (defaults to KAFKA_BROKERS)")

	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create any missing pipeline topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := newAdmin(cmd)
			if err != nil {
				return err
			}
			defer admin.Close()
			if err := admin.EnsureTopics(cmd.Context()); err != nil {
				return err
			}
			for _, tc := range redpanda.DefaultTopicConfigs() {
				fmt.Fprintln(cmd.OutOrStdout(), tc.Name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List topics on the cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := newAdmin(cmd)
			if err != nil {
				return err
			}
			defer admin.Close()
			topics, err := admin.ListTopics(cmd.Context())
			if err != nil {
				return err
			}
			sort.Strings(topics)
			for _, t := range topics {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "lag <group>",
		Short: "Show consumer group lag per topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := newAdmin(cmd)
			if err != nil {
				return err
			}
			defer admin.Close()
			lag, err := admin.GroupLag(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			names := make([]string, 0, len(lag))
			for name := range lag {
				names = append(names, name)
			}
			sort.Strings(names)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TOPIC\tLAG")
			for _, name := range names {
				fmt.Fprintf(tw, "%s\t%d\n", name, lag[name])
			}
			return tw.Flush()
		},
	})
	return cmd
}

func newAdmin(cmd *cobra.Command) (*redpanda.Admin, error) {
	brokers, _ := cmd.Flags().GetStringSlice("brokers")
	if len(brokers) == 0 {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		brokers = cfg.KafkaBrokers
	}
	return redpanda.NewAdmin(brokers, nil)
}

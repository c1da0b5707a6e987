package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"votegate/internal/gate/sms"
)

// sendCommand delivers an operator test SMS straight through the configured
// provider. Nothing is stored.
func (c *cli) sendCommand() *cobra.Command {
	var tlf, message string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a test SMS through the configured provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			to, err := normalizeTlf(tlf, c.cfg.Gate.DefaultRegion)
			if err != nil {
				return err
			}
			provider, err := sms.New(c.cfg.SMS, c.logger)
			if err != nil {
				return err
			}
			if err := provider.Send(cmd.Context(), to, message); err != nil {
				return fmt.Errorf("send sms: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent to %s via %s\n", to, provider.Name())
			return nil
		},
	}
	cmd.Flags().StringVarP(&tlf, "tlf", "t", "", "phone number; without a leading + the default region applies")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message body")
	_ = cmd.MarkFlagRequired("tlf")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmined/syftxfer/internal/utils"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or save the effective configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			masked := *cfg
			if cfg.S3 != nil {
				s3cfg := *cfg.S3
				if s3cfg.AccessKey != "" {
					s3cfg.AccessKey = utils.MaskSecret(s3cfg.AccessKey)
				}
				if s3cfg.SecretKey != "" {
					s3cfg.SecretKey = utils.MaskSecret(s3cfg.SecretKey)
				}
				masked.S3 = &s3cfg
			}
			return writeJSON(cmd.OutOrStdout(), &masked)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Validate the effective configuration and write it to the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(cfg.Path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), green("saved"), cfg.Path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	})

	return cmd
}

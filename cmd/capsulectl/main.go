// Command capsulectl is an operator CLI over the capsule core (facade.Core):
// a root command with persistent storage flags, one subcommand group per
// resource, bound to the same in-process Core every subcommand shares.
/*
 * Copyright (c) 2024, 552020. All rights reserved.
 */
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/552020/futura-alpha-icp-sub007/cmn"
	"github.com/552020/futura-alpha-icp-sub007/facade"
	"github.com/552020/futura-alpha-icp-sub007/kv"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

// core is lazily opened by rootCmd.PersistentPreRunE so every leaf command
// gets the same handle without each one re-parsing --kv-path/--blob-root.
var core *facade.Core
var db *kv.DB

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "capsulectl",
	Short: "capsulectl operates a capsule core store directly against its on-disk substrate",
	Long: `capsulectl is a single-process operator CLI for the capsule core.

It opens the same durable kv/blob substrate a long-running service would,
runs one command, and exits — there is no server to dial.`,
	Version:           Version,
	PersistentPreRunE: openCore,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if db != nil {
			return db.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("capsulectl version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("kv-path", "", "durable kv file path (empty = in-memory, non-persistent)")
	rootCmd.PersistentFlags().String("blob-root", "./capsule-data/blobs", "root directory for paged blob storage")
	rootCmd.PersistentFlags().String("config", "", "optional JSON config file (cmn.Config), overrides defaults")
	rootCmd.PersistentFlags().String("caller", "", "opaque PersonRef identifying the caller for this invocation")

	rootCmd.AddCommand(capsuleCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(verifyCmd)
}

func openCore(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if err := cmn.LoadConfigFile(configPath); err != nil {
		return err
	}

	kvPath, _ := cmd.Flags().GetString("kv-path")
	blobRoot, _ := cmd.Flags().GetString("blob-root")

	var err error
	db, err = kv.Open(kvPath)
	if err != nil {
		return err
	}
	core = facade.New(db, blobRoot)
	return nil
}

// callerRef resolves the --caller flag (required by every command that
// mutates a capsule) into a PersonRef, generating nothing — an empty
// --caller is a usage error, not an anonymous identity.
func callerRef(cmd *cobra.Command) (cmn.PersonRef, error) {
	s, _ := cmd.Flags().GetString("caller")
	if s == "" {
		return cmn.PersonRef{}, fmt.Errorf("--caller is required")
	}
	return cmn.NewOpaque(s), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

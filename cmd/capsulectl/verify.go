package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run the startup orphan-page reconciliation pass over the blob store",
	RunE: func(cmd *cobra.Command, args []string) error {
		blobsRemoved, chunksSwept, err := core.Verify()
		if err != nil {
			return err
		}
		fmt.Printf("blobs removed: %d\n", blobsRemoved)
		fmt.Printf("chunks swept:  %d\n", chunksSwept)
		return nil
	},
}

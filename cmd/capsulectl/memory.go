package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/552020/futura-alpha-icp-sub007/cluster"
	"github.com/552020/futura-alpha-icp-sub007/cmn"
	"github.com/552020/futura-alpha-icp-sub007/facade"
	"github.com/552020/futura-alpha-icp-sub007/memory"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage memories within a capsule",
}

var memoryCreateCmd = &cobra.Command{
	Use:   "create CAPSULE_ID FILE",
	Short: "Create a memory from a file via the inline path",
	Long: `Reads FILE and calls memories_create with an Inline payload.

For content too large for the inline path, chunk it with "upload begin",
"upload put-chunk" and "upload finish" (or "upload file") instead — this
subcommand always takes the inline route. It fails with invalid_argument if
FILE exceeds the configured inline size limit, and with resource_exhausted
if FILE would push the capsule past its inline byte budget.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := callerRef(cmd)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		name, _ := cmd.Flags().GetString("name")
		mime, _ := cmd.Flags().GetString("mime")
		idem, _ := cmd.Flags().GetString("idem")

		payload := memory.CreatePayload{Inline: &memory.InlinePayload{
			Bytes: data,
			Meta:  cluster.MemoryMeta{Name: name, MimeType: mime},
		}}
		id, err := core.MemoriesCreate(cmn.CapsuleId(args[0]), caller, payload, idem)
		if err != nil {
			return err
		}
		fmt.Printf("memory created: %s\n", id)
		return nil
	},
}

var memoryGetCmd = &cobra.Command{
	Use:   "get CAPSULE_ID MEMORY_ID",
	Short: "Read a memory's record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := core.MemoriesRead(cmn.CapsuleId(args[0]), cmn.MemoryId(args[1]))
		if err != nil {
			return err
		}
		fmt.Printf("id:   %s\n", m.ID)
		fmt.Printf("name: %s\n", m.Meta.Name)
		fmt.Printf("mime: %s\n", m.Meta.MimeType)
		fmt.Printf("len:  %d\n", m.Blob.Len)
		fmt.Printf("locator: %s\n", m.Blob.Locator)
		fmt.Printf("created_at: %d\n", m.CreatedAt)
		return nil
	},
}

var memoryGetBlobCmd = &cobra.Command{
	Use:   "get-blob CAPSULE_ID MEMORY_ID OUT_FILE",
	Short: "Write a memory's underlying bytes to OUT_FILE",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := core.MemoriesReadBlob(cmn.CapsuleId(args[0]), cmn.MemoryId(args[1]))
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[2], data, 0o644); err != nil {
			return fmt.Errorf("write file: %w", err)
		}
		fmt.Printf("wrote %d bytes to %s\n", len(data), args[2])
		return nil
	},
}

var memoryUpdateCmd = &cobra.Command{
	Use:   "update CAPSULE_ID MEMORY_ID",
	Short: "Patch a memory's metadata",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := callerRef(cmd)
		if err != nil {
			return err
		}
		patch := facade.MemoryPatch{}
		if v, _ := cmd.Flags().GetString("name"); v != "" {
			patch.Name = &v
		}
		if v, _ := cmd.Flags().GetString("description"); v != "" {
			patch.Description = &v
		}
		if v, _ := cmd.Flags().GetString("mime"); v != "" {
			patch.MimeType = &v
		}
		if v, _ := cmd.Flags().GetStringSlice("tags"); len(v) > 0 {
			patch.Tags = v
		}
		return core.MemoriesUpdate(cmn.CapsuleId(args[0]), caller, cmn.MemoryId(args[1]), patch)
	},
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete CAPSULE_ID MEMORY_ID",
	Short: "Delete a memory record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := callerRef(cmd)
		if err != nil {
			return err
		}
		return core.MemoriesDelete(cmn.CapsuleId(args[0]), caller, cmn.MemoryId(args[1]))
	},
}

var memoryListCmd = &cobra.Command{
	Use:   "list CAPSULE_ID",
	Short: "Page through a capsule's memories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		headers, err := core.MemoriesList(cmn.CapsuleId(args[0]), facade.PageArgs{Limit: limit})
		if err != nil {
			return err
		}
		fmt.Printf("%-16s %-20s %-20s %s\n", "ID", "NAME", "MIME", "LEN")
		for _, h := range headers {
			fmt.Printf("%-16s %-20s %-20s %d\n", truncate(string(h.ID), 16), truncate(h.Name, 20), truncate(h.MimeType, 20), h.Len)
		}
		return nil
	},
}

var memoryPingCmd = &cobra.Command{
	Use:   "ping CAPSULE_ID MEMORY_ID...",
	Short: "Check presence of one or more memory ids",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]cmn.MemoryId, len(args)-1)
		for i, a := range args[1:] {
			ids[i] = cmn.MemoryId(a)
		}
		results, err := core.MemoriesPing(cmn.CapsuleId(args[0]), ids)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%s: %v\n", r.ID, r.Present)
		}
		return nil
	},
}

func init() {
	memoryCreateCmd.Flags().String("name", "", "memory name")
	memoryCreateCmd.Flags().String("mime", "", "MIME type")
	memoryCreateCmd.Flags().String("idem", "", "idempotency key for this memories_create call")

	memoryUpdateCmd.Flags().String("name", "", "new name")
	memoryUpdateCmd.Flags().String("description", "", "new description")
	memoryUpdateCmd.Flags().String("mime", "", "new MIME type")
	memoryUpdateCmd.Flags().StringSlice("tags", nil, "replacement tag list")

	memoryListCmd.Flags().Int("limit", 50, "page size")

	memoryCmd.AddCommand(memoryCreateCmd)
	memoryCmd.AddCommand(memoryGetCmd)
	memoryCmd.AddCommand(memoryGetBlobCmd)
	memoryCmd.AddCommand(memoryUpdateCmd)
	memoryCmd.AddCommand(memoryDeleteCmd)
	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memoryPingCmd)
}

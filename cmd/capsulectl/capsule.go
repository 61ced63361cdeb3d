package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/552020/futura-alpha-icp-sub007/cluster"
	"github.com/552020/futura-alpha-icp-sub007/cmn"
	"github.com/552020/futura-alpha-icp-sub007/facade"
)

var capsuleCmd = &cobra.Command{
	Use:   "capsule",
	Short: "Manage capsules",
}

var capsuleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new capsule",
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := callerRef(cmd)
		if err != nil {
			return err
		}
		subjectStr, _ := cmd.Flags().GetString("subject")
		var subject *cmn.PersonRef
		if subjectStr != "" {
			s := cmn.NewOpaque(subjectStr)
			subject = &s
		}
		res, err := core.CapsulesCreate(caller, subject)
		if err != nil {
			return err
		}
		fmt.Printf("capsule created: %s (subject=%s)\n", res.ID, res.Subject)
		return nil
	},
}

var capsuleGetCmd = &cobra.Command{
	Use:   "get CAPSULE_ID",
	Short: "Read a capsule's full record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cap, err := core.CapsulesRead(cmn.CapsuleId(args[0]))
		if err != nil {
			return err
		}
		printCapsule(cap)
		return nil
	},
}

var capsuleGetBasicCmd = &cobra.Command{
	Use:   "get-basic CAPSULE_ID",
	Short: "Read a capsule's summary projection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := core.CapsulesReadBasic(cmn.CapsuleId(args[0]))
		if err != nil {
			return err
		}
		fmt.Printf("id:       %s\n", info.ID)
		fmt.Printf("subject:  %s\n", info.Subject)
		fmt.Printf("owners:   %d\n", info.OwnerCount)
		fmt.Printf("controllers: %d\n", info.ControllerCount)
		fmt.Printf("memories: %d\n", info.MemoryCount)
		fmt.Printf("galleries: %d\n", info.GalleryCount)
		fmt.Printf("bound_to_web2: %v\n", info.BoundToWeb2)
		fmt.Printf("inline_bytes_used: %d\n", info.InlineBytesUsed)
		return nil
	},
}

var capsuleListCmd = &cobra.Command{
	Use:   "list",
	Short: "Page through capsules",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		after, _ := cmd.Flags().GetString("after")
		desc, _ := cmd.Flags().GetBool("desc")

		args2 := facade.PageArgs{Limit: limit, Order: cluster.Asc}
		if desc {
			args2.Order = cluster.Desc
		}
		if after != "" {
			id := cmn.CapsuleId(after)
			args2.After = &id
		}

		headers, next, err := core.CapsulesList(args2)
		if err != nil {
			return err
		}
		fmt.Printf("%-24s %-10s %-8s %s\n", "ID", "SUBJECT", "OWNERS", "MEMORIES")
		for _, h := range headers {
			fmt.Printf("%-24s %-10s %-8d %d\n", truncate(string(h.ID), 24), truncate(string(h.Subject.String()), 10), h.OwnerCount, h.MemoryCount)
		}
		if next != nil {
			fmt.Printf("\nnext cursor: %s\n", *next)
		}
		return nil
	},
}

var capsuleBindNeonCmd = &cobra.Command{
	Use:   "bind-neon CAPSULE_ID RESOURCE_TYPE RESOURCE_ID",
	Short: "Bind or unbind an external resource annotation",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := callerRef(cmd)
		if err != nil {
			return err
		}
		unbind, _ := cmd.Flags().GetBool("unbind")
		return core.CapsulesBindNeon(cmn.CapsuleId(args[0]), caller, args[1], args[2], !unbind)
	},
}

var capsuleAddOwnerCmd = &cobra.Command{
	Use:   "add-owner CAPSULE_ID PERSON_REF",
	Short: "Add an owner to a capsule",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := callerRef(cmd)
		if err != nil {
			return err
		}
		patch := facade.CapsulePatch{AddOwners: []cmn.PersonRef{cmn.NewOpaque(args[1])}}
		return core.CapsulesUpdate(cmn.CapsuleId(args[0]), caller, patch)
	},
}

var capsuleRemoveOwnerCmd = &cobra.Command{
	Use:   "remove-owner CAPSULE_ID PERSON_REF",
	Short: "Remove an owner from a capsule",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := callerRef(cmd)
		if err != nil {
			return err
		}
		patch := facade.CapsulePatch{RemoveOwners: []cmn.PersonRef{cmn.NewOpaque(args[1])}}
		return core.CapsulesUpdate(cmn.CapsuleId(args[0]), caller, patch)
	},
}

var capsuleDeleteCmd = &cobra.Command{
	Use:   "delete CAPSULE_ID",
	Short: "Delete a capsule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := callerRef(cmd)
		if err != nil {
			return err
		}
		if err := core.CapsulesDelete(cmn.CapsuleId(args[0]), caller); err != nil {
			return err
		}
		fmt.Printf("capsule deleted: %s\n", args[0])
		return nil
	},
}

func printCapsule(cap *cluster.Capsule) {
	fmt.Printf("id:       %s\n", cap.ID)
	fmt.Printf("subject:  %s\n", cap.Subject)
	fmt.Printf("owners:   %d\n", len(cap.Owners))
	fmt.Printf("controllers: %d\n", len(cap.Controllers))
	fmt.Printf("connections: %d\n", len(cap.Connections))
	fmt.Printf("memories: %d\n", len(cap.Memories))
	fmt.Printf("galleries: %d\n", len(cap.Galleries))
	fmt.Printf("bound_to_web2: %v\n", cap.BoundToWeb2)
	fmt.Printf("neon_bindings: %d\n", len(cap.NeonBinding))
	fmt.Printf("inline_bytes_used: %d\n", cap.InlineBytesUsed)
	fmt.Printf("created_at: %d\n", cap.CreatedAt)
	fmt.Printf("updated_at: %d\n", cap.UpdatedAt)
}

func init() {
	capsuleCreateCmd.Flags().String("subject", "", "subject PersonRef (opaque id); defaults to --caller")

	capsuleListCmd.Flags().Int("limit", 50, "page size")
	capsuleListCmd.Flags().String("after", "", "exclusive cursor (last seen CapsuleId)")
	capsuleListCmd.Flags().Bool("desc", false, "descending order")

	capsuleBindNeonCmd.Flags().Bool("unbind", false, "clear the binding instead of setting it")

	capsuleCmd.AddCommand(capsuleCreateCmd)
	capsuleCmd.AddCommand(capsuleGetCmd)
	capsuleCmd.AddCommand(capsuleGetBasicCmd)
	capsuleCmd.AddCommand(capsuleListCmd)
	capsuleCmd.AddCommand(capsuleBindNeonCmd)
	capsuleCmd.AddCommand(capsuleAddOwnerCmd)
	capsuleCmd.AddCommand(capsuleRemoveOwnerCmd)
	capsuleCmd.AddCommand(capsuleDeleteCmd)
}

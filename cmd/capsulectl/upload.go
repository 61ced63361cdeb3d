package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/552020/futura-alpha-icp-sub007/cluster"
	"github.com/552020/futura-alpha-icp-sub007/cmn"
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Drive the chunked upload session state machine",
}

var uploadBeginCmd = &cobra.Command{
	Use:   "begin CAPSULE_ID EXPECTED_CHUNKS",
	Short: "Begin a new upload session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := callerRef(cmd)
		if err != nil {
			return err
		}
		n, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("expected_chunks: %w", err)
		}
		name, _ := cmd.Flags().GetString("name")
		mime, _ := cmd.Flags().GetString("mime")
		idem, _ := cmd.Flags().GetString("idem")

		id, err := core.UploadsBegin(cmn.CapsuleId(args[0]), caller, cluster.MemoryMeta{Name: name, MimeType: mime}, uint32(n), idem)
		if err != nil {
			return err
		}
		fmt.Printf("session: %d\n", id)
		return nil
	},
}

var uploadPutChunkCmd = &cobra.Command{
	Use:   "put-chunk SESSION_ID CHUNK_INDEX FILE",
	Short: "Upload one chunk's bytes",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := callerRef(cmd)
		if err != nil {
			return err
		}
		sid, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("session_id: %w", err)
		}
		idx, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("chunk_index: %w", err)
		}
		data, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		return core.UploadsPutChunk(cmn.SessionId(sid), caller, uint32(idx), data)
	},
}

var uploadFinishCmd = &cobra.Command{
	Use:   "finish SESSION_ID SHA256_HEX TOTAL_LEN",
	Short: "Finish a session, verifying the assembled content's hash and length",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := callerRef(cmd)
		if err != nil {
			return err
		}
		sid, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("session_id: %w", err)
		}
		sum, err := hex.DecodeString(args[1])
		if err != nil || len(sum) != sha256.Size {
			return fmt.Errorf("sha256_hex must be a 64-char hex sha256 digest")
		}
		var arr [32]byte
		copy(arr[:], sum)
		total, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("total_len: %w", err)
		}
		id, err := core.UploadsFinish(cmn.SessionId(sid), caller, arr, total)
		if err != nil {
			return err
		}
		fmt.Printf("memory created: %s\n", id)
		return nil
	},
}

var uploadAbortCmd = &cobra.Command{
	Use:   "abort SESSION_ID",
	Short: "Abort an in-progress upload session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := callerRef(cmd)
		if err != nil {
			return err
		}
		sid, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("session_id: %w", err)
		}
		return core.UploadsAbort(cmn.SessionId(sid), caller)
	},
}

var uploadReapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Reap expired upload sessions past their TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := core.ReapExpired()
		if err != nil {
			return err
		}
		fmt.Printf("reaped %d session(s)\n", n)
		return nil
	},
}

// uploadFileCmd is a convenience wrapper chaining begin/put-chunk/finish over
// a whole file, the way "warren apply" chains multiple lower-level client
// calls behind one command (cuemby-warren's cmd/warren/apply.go) rather than
// replacing the lower-level ones.
var uploadFileCmd = &cobra.Command{
	Use:   "file CAPSULE_ID FILE",
	Short: "Chunk and upload an entire file in one command",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := callerRef(cmd)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		cfg := core.UploadConfig()
		chunkSize := int(cfg.ChunkSize)
		if chunkSize <= 0 {
			chunkSize = 64 * 1024
		}
		expectedChunks := (len(data) + chunkSize - 1) / chunkSize
		if expectedChunks == 0 {
			expectedChunks = 1
		}
		name, _ := cmd.Flags().GetString("name")
		mime, _ := cmd.Flags().GetString("mime")
		idem, _ := cmd.Flags().GetString("idem")

		sid, err := core.UploadsBegin(cmn.CapsuleId(args[0]), caller, cluster.MemoryMeta{Name: name, MimeType: mime}, uint32(expectedChunks), idem)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		for i := 0; i*chunkSize < len(data); i++ {
			end := (i + 1) * chunkSize
			if end > len(data) {
				end = len(data)
			}
			if err := core.UploadsPutChunk(sid, caller, uint32(i), data[i*chunkSize:end]); err != nil {
				_ = core.UploadsAbort(sid, caller)
				return fmt.Errorf("put-chunk %d: %w", i, err)
			}
		}
		sum := sha256.Sum256(data)
		id, err := core.UploadsFinish(sid, caller, sum, uint64(len(data)))
		if err != nil {
			return fmt.Errorf("finish: %w", err)
		}
		fmt.Printf("memory created: %s\n", id)
		return nil
	},
}

func init() {
	uploadBeginCmd.Flags().String("name", "", "memory name")
	uploadBeginCmd.Flags().String("mime", "", "MIME type")
	uploadBeginCmd.Flags().String("idem", "", "idempotency key for this session")

	uploadFileCmd.Flags().String("name", "", "memory name")
	uploadFileCmd.Flags().String("mime", "", "MIME type")
	uploadFileCmd.Flags().String("idem", "", "idempotency key for this session")

	uploadCmd.AddCommand(uploadBeginCmd)
	uploadCmd.AddCommand(uploadPutChunkCmd)
	uploadCmd.AddCommand(uploadFinishCmd)
	uploadCmd.AddCommand(uploadAbortCmd)
	uploadCmd.AddCommand(uploadReapCmd)
	uploadCmd.AddCommand(uploadFileCmd)
}

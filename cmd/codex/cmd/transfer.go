package cmd

import (
	"fmt"
	"io"
	"os"

	codex "github.com/aweris/codex-go"
	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file|->",
	Short: "Store a file",
	Long:  "Store a file in the node's repository and print its CID. Use - to read standard input.",
	Args:  cobra.ExactArgs(1),
	RunE:  withNode(runUpload),
}

var downloadCmd = &cobra.Command{
	Use:   "download <cid> [file]",
	Short: "Retrieve a dataset",
	Long:  "Write a dataset to a file, or to standard output when no file is given.",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  withNode(runDownload),
}

func init() {
	uploadCmd.Flags().Int("chunk-size", codex.DefaultUploadChunkSize, "upload chunk size in bytes")
	uploadCmd.Flags().String("name", "", "dataset filename when reading standard input")
	downloadCmd.Flags().Int("chunk-size", codex.DefaultDownloadChunkSize, "download chunk size in bytes")
	downloadCmd.Flags().Bool("local", false, "only use blocks already in the repository")
	rootCmd.AddCommand(uploadCmd, downloadCmd)
}

func runUpload(cmd *cobra.Command, n *codex.Node, args []string) error {
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	opts := codex.UploadOptions{
		Filepath:  args[0],
		ChunkSize: chunkSize,
		OnProgress: func(total int64) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\ruploaded %d bytes", total)
		},
	}

	var cid string
	var err error
	if args[0] == "-" {
		opts.Filepath, _ = cmd.Flags().GetString("name")
		cid, err = n.UploadReader(cmd.Context(), cmd.InOrStdin(), opts)
	} else {
		cid, err = n.UploadFile(cmd.Context(), opts)
	}
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cid)
	return nil
}

func runDownload(cmd *cobra.Command, n *codex.Node, args []string) (err error) {
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	local, _ := cmd.Flags().GetBool("local")

	var w io.Writer = cmd.OutOrStdout()
	if len(args) > 1 {
		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = f
	}

	written, err := n.DownloadStream(cmd.Context(), args[0], w, codex.DownloadOptions{
		ChunkSize: chunkSize,
		Local:     local,
	})
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	if len(args) > 1 {
		fmt.Fprintf(cmd.ErrOrStderr(), "Done. Wrote %d bytes to %s\n", written, args[1])
	}
	return nil
}

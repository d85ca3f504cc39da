package cmd

import (
	"fmt"

	codex "github.com/aweris/codex-go"
	"github.com/spf13/cobra"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Move datasets through an OCI registry",
}

var exportCmd = &cobra.Command{
	Use:   "export <ref> <cid...>",
	Short: "Push datasets to a registry",
	Long:  "Download datasets through the node and push them to an OCI registry as a single image.",
	Args:  cobra.MinimumNArgs(2),
	RunE:  withNode(runExport),
}

var importCmd = &cobra.Command{
	Use:   "import <ref>",
	Short: "Pull datasets from a registry",
	Long:  "Pull an image written by export and store every dataset it carries.",
	Args:  cobra.ExactArgs(1),
	RunE:  withNode(runImport),
}

func init() {
	for _, c := range []*cobra.Command{exportCmd, importCmd} {
		c.Flags().Bool("insecure", false, "allow plain HTTP registries")
		c.Flags().Int("concurrency", 0, "parallel layer transfers")
		c.Flags().String("username", "", "registry username (default: docker keychain)")
		c.Flags().String("password", "", "registry password")
	}
	exportCmd.Flags().Bool("local", false, "only export datasets already in the repository")

	mirrorCmd.AddCommand(exportCmd, importCmd)
	rootCmd.AddCommand(mirrorCmd)
}

func mirrorOptions(cmd *cobra.Command) codex.MirrorOptions {
	var opts codex.MirrorOptions
	opts.Insecure, _ = cmd.Flags().GetBool("insecure")
	opts.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	opts.Local, _ = cmd.Flags().GetBool("local")
	if user, _ := cmd.Flags().GetString("username"); user != "" {
		pass, _ := cmd.Flags().GetString("password")
		opts.Auth = codex.StaticCredentials(user, pass)
	}
	return opts
}

func runExport(cmd *cobra.Command, n *codex.Node, args []string) error {
	ref, cids := args[0], args[1:]

	fmt.Fprintf(cmd.ErrOrStderr(), "Exporting %d datasets to %s...\n", len(cids), ref)
	if err := n.Export(cmd.Context(), ref, cids, mirrorOptions(cmd)); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Done.")
	return nil
}

func runImport(cmd *cobra.Command, n *codex.Node, args []string) error {
	ref := args[0]

	fmt.Fprintf(cmd.ErrOrStderr(), "Importing %s...\n", ref)
	imported, err := n.Import(cmd.Context(), ref, mirrorOptions(cmd))
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	for _, ds := range imported {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", ds.Cid, ds.Size, ds.Filename)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Done. %d datasets\n", len(imported))
	return nil
}

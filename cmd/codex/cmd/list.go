package cmd

import (
	"fmt"
	"strconv"

	codex "github.com/aweris/codex-go"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List stored datasets",
	Args:    cobra.NoArgs,
	RunE:    withNode(runList),
}

var spaceCmd = &cobra.Command{
	Use:   "space",
	Short: "Show repository usage",
	Args:  cobra.NoArgs,
	RunE:  withNode(runSpace),
}

var existsCmd = &cobra.Command{
	Use:   "exists <cid>",
	Short: "Report whether a dataset is stored locally",
	Args:  cobra.ExactArgs(1),
	RunE:  withNode(runExists),
}

var removeCmd = &cobra.Command{
	Use:     "rm <cid...>",
	Aliases: []string{"delete"},
	Short:   "Delete datasets from the repository",
	Args:    cobra.MinimumNArgs(1),
	RunE:    withNode(runRemove),
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <cid>",
	Short: "Fetch a dataset from the network into the repository",
	Args:  cobra.ExactArgs(1),
	RunE:  withNode(runFetch),
}

func init() {
	rootCmd.AddCommand(listCmd, spaceCmd, existsCmd, removeCmd, fetchCmd)
}

func runList(cmd *cobra.Command, n *codex.Node, _ []string) error {
	manifests, err := n.List(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, m := range manifests {
		fmt.Fprintf(out, "%s\t%d\t%s\n", m.Cid, m.DatasetSize, m.Filename)
	}
	if len(manifests) == 0 {
		fmt.Fprintln(out, "(no datasets)")
	}
	return nil
}

func runSpace(cmd *cobra.Command, n *codex.Node, _ []string) error {
	s, err := n.Space(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "blocks:   %d\n", s.TotalBlocks)
	fmt.Fprintf(out, "used:     %d\n", s.QuotaUsedBytes)
	fmt.Fprintf(out, "reserved: %d\n", s.QuotaReservedBytes)
	fmt.Fprintf(out, "quota:    %d\n", s.QuotaMaxBytes)
	return nil
}

func runExists(cmd *cobra.Command, n *codex.Node, args []string) error {
	ok, err := n.Exists(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatBool(ok))
	return nil
}

func runRemove(cmd *cobra.Command, n *codex.Node, args []string) error {
	for _, cid := range args {
		if err := n.Delete(cmd.Context(), cid); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Deleted %s\n", cid)
	}
	return nil
}

func runFetch(cmd *cobra.Command, n *codex.Node, args []string) error {
	m, err := n.Fetch(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", m.Cid, m.DatasetSize, m.Filename)
	return nil
}

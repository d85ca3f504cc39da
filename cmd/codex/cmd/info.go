package cmd

import (
	"fmt"
	"strings"

	codex "github.com/aweris/codex-go"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print engine version",
	Args:  cobra.NoArgs,
	RunE:  withNode(runVersion),
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print node identity",
	Long:  "Print the peer id, listen addresses, repository and signed peer record of the node.",
	Args:  cobra.NoArgs,
	RunE:  withNode(runInfo),
}

func init() {
	rootCmd.AddCommand(versionCmd, infoCmd)
}

func runVersion(cmd *cobra.Command, n *codex.Node, _ []string) error {
	version, err := n.Version(cmd.Context())
	if err != nil {
		return err
	}
	revision, err := n.Revision(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "codex %s (%s)\n", version, revision)
	return nil
}

func runInfo(cmd *cobra.Command, n *codex.Node, _ []string) error {
	info, err := n.Debug(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "peer id:  %s\n", info.ID)
	fmt.Fprintf(out, "repo:     %s\n", info.Repo)
	fmt.Fprintf(out, "addrs:    %s\n", strings.Join(info.Addrs, ", "))
	fmt.Fprintf(out, "spr:      %s\n", info.Spr)
	return nil
}

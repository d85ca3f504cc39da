package cmd

import (
	"fmt"

	codex "github.com/aweris/codex-go"
	"github.com/spf13/cobra"
)

var connectCmd = &cobra.Command{
	Use:   "connect <peer-id> <addr...>",
	Short: "Dial a peer",
	Args:  cobra.MinimumNArgs(2),
	RunE:  withNode(runConnect),
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, n *codex.Node, args []string) error {
	if err := n.Connect(cmd.Context(), args[0], args[1:]); err != nil {
		return err
	}
	rec, err := n.PeerDebug(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "connected to %s (seq %d)\n", rec.PeerID, rec.SeqNo)
	return nil
}

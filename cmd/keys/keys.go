package keys

import (
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kashguard/go-threshold-signing/internal/threshold/protocol"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Signing group key tools",
	}

	cmd.AddCommand(newGenCmd())
	return cmd
}

func newGenCmd() *cobra.Command {
	var threshold int
	var total int

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a development signing group via a trusted dealer",
		Long: "Draws a fresh group key and splits it into secret shares. " +
			"Shares are printed to stdout; hand each one to its participant " +
			"over a secure channel and configure the group public key on the " +
			"server. For production groups run a DKG ceremony instead.",
		Run: func(cmd *cobra.Command, args []string) {
			if err := generateGroup(threshold, total); err != nil {
				log.Fatal().Err(err).Msg("Failed to generate signing group")
			}
		},
	}

	cmd.Flags().IntVarP(&threshold, "threshold", "t", 2, "Number of shares required to sign")
	cmd.Flags().IntVarP(&total, "total", "n", 3, "Total number of participants")

	return cmd
}

func generateGroup(threshold, total int) error {
	groupKey, shares, err := protocol.DealShares(threshold, total)
	if err != nil {
		return err
	}

	fmt.Printf("group public key: %s\n", hex.EncodeToString(groupKey))
	for _, share := range shares {
		secret := share.Secret.Bytes()
		fmt.Printf("share %d: %s\n", share.Index, hex.EncodeToString(secret[:]))
	}
	return nil
}

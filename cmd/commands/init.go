package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
	tmrand "github.com/tendermint/tendermint/libs/rand"
	tmtime "github.com/tendermint/tendermint/types/time"

	cfg "bftchain/config"
	"bftchain/privval"
	"bftchain/types"
)

// InitFilesCmd initialises a fresh single producer node.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a single producer node",
	RunE:  initFiles,
}

func init() {
	InitFilesCmd.Flags().StringVar(&chainID, "chain-id", "", "链名，不指定则随机生成")
	InitFilesCmd.Flags().IntVar(&accountSum, "account-sum", 100, "small bank account sum")
}

func initFiles(cmd *cobra.Command, args []string) error {
	return initFilesWithConfig(config)
}

func initFilesWithConfig(config *cfg.Config) error {
	if accountSum < 0 {
		return fmt.Errorf("account sum must be >= 0, got %d", accountSum)
	}

	// private validator
	privValKeyFile := config.PrivValidatorKeyFile()

	var pv *privval.FilePV
	if tmos.FileExists(privValKeyFile) {
		pv = privval.LoadFilePV(privValKeyFile)
		logger.Info("Found private validator", "keyFile", privValKeyFile)
	} else {
		pv = privval.GenFilePV(privValKeyFile)
		pv.Save()
		logger.Info("Generated private validator", "keyFile", privValKeyFile)
	}

	// genesis file
	genFile := config.GenesisFile()
	if tmos.FileExists(genFile) {
		logger.Info("Found genesis file", "path", genFile)
		return nil
	}

	id := chainID
	if id == "" {
		id = fmt.Sprintf("test-chain-%v", tmrand.Str(6))
	}
	pubKey, err := pv.GetPubKey()
	if err != nil {
		return fmt.Errorf("can't get pubkey: %w", err)
	}
	genDoc := types.GenesisDoc{
		ChainID:     id,
		GenesisTime: tmtime.Now(),
		Producers:   []types.GenesisProducer{{Name: "producer0", PubKey: pubKey}},
		Accounts:    genesisAccounts(accountSum),
	}
	if err := genDoc.ValidateAndComplete(); err != nil {
		return err
	}
	if err := genDoc.SaveAs(genFile); err != nil {
		return err
	}
	logger.Info("Generated genesis file", "path", genFile)

	return nil
}

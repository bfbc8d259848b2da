package main

import (
	"os"
	"path/filepath"

	"github.com/tendermint/tendermint/libs/cli"

	cmd "bftchain/cmd/commands"
	cfg "bftchain/config"
	nm "bftchain/node"
)

func main() {
	rootCmd := cmd.RootCmd
	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.GenValidatorCmd,
		cmd.ShowValidatorCmd,
		cmd.GenGenesisCmd,
		cli.NewCompletionCmd(rootCmd, true),
	)

	// NOTE:
	// Users wishing to:
	//	* Use an external signer for their producers
	//	* Supply a genesis doc file from another source
	//	* Provide their own DB implementation
	// can copy this file and use something other than the
	// DefaultNewNode function
	nodeFunc := nm.DefaultNewNode

	// Create & start node
	rootCmd.AddCommand(cmd.NewRunNodeCmd(nodeFunc))

	cmd := cli.PrepareBaseCmd(rootCmd, "BC", os.ExpandEnv(filepath.Join("$HOME", cfg.DefaultHomeDir)))
	if err := cmd.Execute(); err != nil {
		panic(err)
	}
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"

	"bftchain/privval"
)

var secret string

// GenValidatorCmd生成出块者的公私钥对
var GenValidatorCmd = &cobra.Command{
	Use:     "gen-validator",
	Aliases: []string{"gen_validator"},
	Args:    cobra.NoArgs,
	Short:   "Generate new producer keypair",
	PreRun:  deprecateSnakeCase,
	RunE:    genValidator,
}

func init() {
	GenValidatorCmd.Flags().StringVar(&secret, "secret", "",
		"由secret确定性地生成私钥，与gen-genesis生成的出块者一致（仅用于测试网络）")
}

func genValidator(cmd *cobra.Command, args []string) error {
	privValKeyFile := config.PrivValidatorKeyFile()
	if tmos.FileExists(privValKeyFile) {
		return fmt.Errorf("private validator at %s already exists", privValKeyFile)
	}

	var pv *privval.FilePV
	if secret != "" {
		pv = privval.GenFilePVFromSecret(privValKeyFile, []byte(secret))
	} else {
		pv = privval.GenFilePV(privValKeyFile)
	}
	pv.Save()

	bz, err := tmjson.Marshal(pv.Key.PubKey)
	if err != nil {
		return err
	}
	fmt.Println(string(bz))
	return nil
}

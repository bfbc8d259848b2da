package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
	tmtime "github.com/tendermint/tendermint/types/time"

	"bftchain/types"
)

// GenGenesisCmd 为测试网络生成创世文件
// 出块者producer0..N-1的私钥由名字确定性生成，各节点用 gen-validator --secret producerK 得到对应私钥
var GenGenesisCmd = &cobra.Command{
	Use:     "gen-genesis",
	Aliases: []string{"gen_genesis"},
	Short:   "Generate a genesis file for a local test network",
	PreRun:  deprecateSnakeCase,
	RunE:    genGenesisFile,
}

func init() {
	GenGenesisCmd.Flags().StringVar(&chainID, "chain-id", "test-chain", "链名，不指定则使用test-chain")
	GenGenesisCmd.Flags().IntVar(&clusterCount, "cluster-count", 4, "出块者数量")
	GenGenesisCmd.Flags().IntVar(&accountSum, "account-sum", 100, "small bank account sum")
}

func genGenesisFile(cmd *cobra.Command, args []string) error {
	genFile := config.GenesisFile()
	if tmos.FileExists(genFile) {
		logger.Info("Found genesis file. exit.", "path", genFile)
		return nil
	}
	if clusterCount <= 0 {
		return fmt.Errorf("cluster count must be positive, got %d", clusterCount)
	}

	schedule, _ := types.RandProducerSchedule(clusterCount)
	genDoc := types.GenesisDoc{
		ChainID:     chainID,
		GenesisTime: tmtime.Now(),
		Accounts:    genesisAccounts(accountSum),
	}
	for _, p := range schedule.Producers {
		genDoc.Producers = append(genDoc.Producers, types.GenesisProducer{Name: p.Name, PubKey: p.SigningKey})
	}
	if err := genDoc.ValidateAndComplete(); err != nil {
		return err
	}
	if err := genDoc.SaveAs(genFile); err != nil {
		return err
	}
	logger.Info("Generated genesis file", "path", genFile, "producers", clusterCount)
	return nil
}

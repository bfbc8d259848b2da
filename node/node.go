package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	dbm "github.com/tendermint/tm-db"

	"bftchain/chain"
	"bftchain/config"
	"bftchain/consensus"
	"bftchain/libs/metric"
	"bftchain/pbft"
	"bftchain/privval"
	"bftchain/store"
	"bftchain/types"
)

// 节点元数据的key，保存当前view
var viewKey = []byte("pbft/view")

// DBContext specifies config information for loading a new DB.
type DBContext struct {
	ID     string
	Config *config.Config
}

// DBProvider takes a DBContext and returns an instantiated DB.
type DBProvider func(*DBContext) (dbm.DB, error)

// DefaultDBProvider returns a database using the DBBackend and DBDir
// specified in the ctx.Config.
func DefaultDBProvider(ctx *DBContext) (dbm.DB, error) {
	return store.NewDB(ctx.ID, ctx.Config.DBBackend, ctx.Config.DBDir())
}

type Provider func(*config.Config, log.Logger) (*Node, error)

// DefaultNewNode returns a node with the key and genesis found under the
// config's root.
func DefaultNewNode(config *config.Config, logger log.Logger) (*Node, error) {
	pv, err := privval.ReadFilePV(config.PrivValidatorKeyFile())
	if err != nil {
		return nil, err
	}
	genDoc, err := types.GenesisDocFromFile(config.GenesisFile())
	if err != nil {
		return nil, err
	}
	return NewNode(config, pv, genDoc, DefaultDBProvider, logger)
}

type Node struct {
	service.BaseService

	// config
	config  *config.Config
	genDoc  *types.GenesisDoc
	privVal types.PrivValidator

	// storage
	stateDB dbm.DB
	blockDB dbm.DB
	nodeDB  dbm.DB

	// service
	chain          *chain.Controller
	pbftDB         *pbft.Database
	consensusState *consensus.State

	metricSet     *metric.MetricSet
	metricsServer *http.Server
}

type Option func(*Node)

func NewNode(
	config *config.Config,
	privVal types.PrivValidator,
	genDoc *types.GenesisDoc,
	dbProvider DBProvider,
	logger log.Logger,
	options ...Option,
) (*Node, error) {
	stateDB, err := dbProvider(&DBContext{"state", config})
	if err != nil {
		return nil, err
	}
	blockDB, err := dbProvider(&DBContext{"blockstore", config})
	if err != nil {
		return nil, err
	}
	nodeDB, err := dbProvider(&DBContext{"node", config})
	if err != nil {
		return nil, err
	}

	chainMetrics, pbftMetrics := chain.NopMetrics(), pbft.NopMetrics()
	if config.Instrumentation.Prometheus {
		chainMetrics = chain.PrometheusMetrics(config.Instrumentation.Namespace, "chain_id", genDoc.ChainID)
		pbftMetrics = pbft.PrometheusMetrics(config.Instrumentation.Namespace, "chain_id", genDoc.ChainID)
	}

	blockStore, err := store.NewBlockStore(blockDB)
	if err != nil {
		return nil, err
	}
	controller, err := chain.NewController(
		chain.Config{
			ChainID:                      genDoc.ChainID,
			BlockInterval:                config.Chain.BlockInterval,
			ProducerRepetitions:          config.Chain.ProducerRepetitions,
			IrreversibleThresholdPercent: config.Chain.IrreversibleThresholdPercent,
		},
		store.NewStore(stateDB),
		blockStore,
		genDoc,
		chain.WithMetrics(chainMetrics),
	)
	if err != nil {
		return nil, err
	}
	controller.SetLogger(logger.With("module", "chain"))

	pbftDB, err := pbft.NewDatabase(
		controller,
		pbft.Config{CheckpointInterval: config.PBFT.CheckpointInterval},
		[]types.PrivValidator{privVal},
		pbft.WithMetrics(pbftMetrics),
	)
	if err != nil {
		return nil, err
	}
	pbftDB.SetLogger(logger.With("module", "pbft"))

	consensusState := consensus.NewState(config.PBFT, controller, pbftDB, consensus.WithProducers(privVal))
	consensusState.SetLogger(logger.With("module", "consensus"))

	metricSet := metric.NewMetricSet()
	if err := metricSet.SetMetrics("consensus", consensusState.Metric()); err != nil {
		return nil, err
	}
	if err := metricSet.SetMetrics("messages", metric.NewRegistryItem(consensusState.Registry())); err != nil {
		return nil, err
	}

	node := &Node{
		config:         config,
		genDoc:         genDoc,
		privVal:        privVal,
		stateDB:        stateDB,
		blockDB:        blockDB,
		nodeDB:         nodeDB,
		chain:          controller,
		pbftDB:         pbftDB,
		consensusState: consensusState,
		metricSet:      metricSet,
	}
	node.BaseService = *service.NewBaseService(logger, "Node", node)
	for _, option := range options {
		option(node)
	}
	return node, nil
}

func (n *Node) Chain() *chain.Controller {
	return n.chain
}

func (n *Node) ConsensusState() *consensus.State {
	return n.consensusState
}

func (n *Node) MetricSet() *metric.MetricSet {
	return n.metricSet
}

func (n *Node) GenesisDoc() *types.GenesisDoc {
	return n.genDoc
}

// OnStart restores the pbft records and the view, then starts consensus.
func (n *Node) OnStart() error {
	if err := n.pbftDB.LoadFromDir(n.config.PBFT.Dir()); err != nil {
		return fmt.Errorf("failed to load pbft records: %w", err)
	}
	view, err := n.loadView()
	if err != nil {
		return err
	}
	n.pbftDB.ViewManager().SetView(view)
	n.Logger.Info("restored pbft state",
		"view", view,
		"stable_checkpoint", n.pbftDB.StableCheckpoint().Num,
		"head", n.chain.HeadBlockState().Height,
		"lib", n.chain.LastIrreversibleBlockNum())

	if n.config.Instrumentation.Prometheus && n.config.Instrumentation.PrometheusListenAddr != "" {
		n.metricsServer = n.startMetricsServer()
	}

	return n.consensusState.Start()
}

// OnStop stops consensus and saves what OnStart restores.
func (n *Node) OnStop() {
	n.Logger.Info("Stopping Node")

	if err := n.consensusState.Stop(); err != nil {
		n.Logger.Error("failed to stop consensus", "err", err)
	}
	if err := n.pbftDB.SaveToDir(n.config.PBFT.Dir()); err != nil {
		n.Logger.Error("failed to save pbft records", "err", err)
	}
	if err := n.saveView(n.pbftDB.CurrentView()); err != nil {
		n.Logger.Error("failed to save view", "err", err)
	}

	if n.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.metricsServer.Shutdown(ctx); err != nil {
			n.Logger.Error("Prometheus HTTP server Shutdown", "err", err)
		}
	}

	for _, db := range []dbm.DB{n.stateDB, n.blockDB, n.nodeDB} {
		if err := db.Close(); err != nil {
			n.Logger.Error("failed to close db", "err", err)
		}
	}
}

func (n *Node) loadView() (uint64, error) {
	bz, err := n.nodeDB.Get(viewKey)
	if err != nil || len(bz) == 0 {
		return 0, err
	}
	var view uint64
	if err := tmjson.Unmarshal(bz, &view); err != nil {
		return 0, fmt.Errorf("corrupted view in node db: %w", err)
	}
	return view, nil
}

func (n *Node) saveView(view uint64) error {
	bz, err := tmjson.Marshal(view)
	if err != nil {
		return err
	}
	return n.nodeDB.SetSync(viewKey, bz)
}

// startMetricsServer starts a Prometheus HTTP server, listening for metrics
// collectors on addr. The metric set is served as json under /status.
func (n *Node) startMetricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(n.metricSet.JSONString()))
	})

	srv := &http.Server{
		Addr:    n.config.Instrumentation.PrometheusListenAddr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Error starting or closing listener:
			n.Logger.Error("Prometheus HTTP server ListenAndServe", "err", err)
		}
	}()
	return srv
}

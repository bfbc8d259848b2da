package consensus

import (
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	gometrics "github.com/rcrowley/go-metrics"
)

func newConsensusMetric() *consensusMetric {
	return &consensusMetric{
		registry:   gometrics.NewRegistry(),
		LastCommit: -1,
	}
}

// consensusMetric 记录共识模块的运行状态，通过MetricSet以json的形式对外暴露
type consensusMetric struct {
	mtx      sync.Mutex
	registry gometrics.Registry

	View             uint64    `json:"view"`
	TargetView       uint64    `json:"target_view"`
	IsPrimary        bool      `json:"is_primary"`
	HeadHeight       int64     `json:"head_height"`
	LastCommit       int64     `json:"last_commit"`
	StableCheckpoint int64     `json:"stable_checkpoint"`
	LastProgressTime time.Time `json:"last_progress_time"`
	ViewChangeWait   string    `json:"view_change_wait"`
}

func (cm *consensusMetric) JSONString() string {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	s, _ := jsoniter.MarshalToString(cm)
	return s
}

// Registry holds the message counters of the consensus module.
func (cm *consensusMetric) Registry() gometrics.Registry {
	return cm.registry
}

func (cm *consensusMetric) MarkView(current, target uint64, isPrimary bool) {
	cm.mtx.Lock()
	cm.View = current
	cm.TargetView = target
	cm.IsPrimary = isPrimary
	cm.mtx.Unlock()
}

func (cm *consensusMetric) MarkHeights(head, commit, lscb int64) {
	cm.mtx.Lock()
	cm.HeadHeight = head
	cm.LastCommit = commit
	cm.StableCheckpoint = lscb
	cm.mtx.Unlock()
}

func (cm *consensusMetric) MarkProgress(t time.Time, wait time.Duration) {
	cm.mtx.Lock()
	cm.LastProgressTime = t
	cm.ViewChangeWait = wait.String()
	cm.mtx.Unlock()
}

// IncSent counts a locally generated message, e.g. "sent.Prepare".
func (cm *consensusMetric) IncSent(event string) {
	gometrics.GetOrRegisterCounter("sent."+event, cm.registry).Inc(1)
}

// IncReceived counts a message from a peer by outcome.
func (cm *consensusMetric) IncReceived(kind string, accepted bool) {
	name := "received." + kind
	if !accepted {
		name = "rejected." + kind
	}
	gometrics.GetOrRegisterCounter(name, cm.registry).Inc(1)
}

func (cm *consensusMetric) IncProduced() {
	gometrics.GetOrRegisterCounter("produced.blocks", cm.registry).Inc(1)
}

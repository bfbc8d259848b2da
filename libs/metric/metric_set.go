package metric

import (
	"errors"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var (
	ErrMetricLabelExist = errors.New("metric label already exist")
)

func NewMetricSet() *MetricSet {
	return &MetricSet{
		metrics: make(map[string]MetricItem),
	}
}

type MetricSet struct {
	mtx     sync.RWMutex
	metrics map[string]MetricItem
}

// SetMetrics - 根据label设置对应的Metrics，如果有存在的label，则返回error
func (ms *MetricSet) SetMetrics(label string, item MetricItem) error {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()

	if _, existed := ms.metrics[label]; existed {
		return ErrMetricLabelExist
	}
	ms.metrics[label] = item
	return nil
}

// JSONString - 将所有metric合并为一个json对象，key为label
func (ms *MetricSet) JSONString() string {
	ms.mtx.RLock()
	defer ms.mtx.RUnlock()

	raw := make(map[string]jsoniter.RawMessage, len(ms.metrics))
	for label, item := range ms.metrics {
		raw[label] = jsoniter.RawMessage(item.JSONString())
	}
	s, _ := jsoniter.MarshalToString(raw)
	return s
}

func (ms *MetricSet) HasMetrics(label string) bool {
	ms.mtx.RLock()
	_, existed := ms.metrics[label]
	ms.mtx.RUnlock()
	return existed
}

func (ms *MetricSet) GetMetrics(label string) MetricItem {
	if !ms.HasMetrics(label) {
		return nil
	}

	ms.mtx.RLock()
	defer ms.mtx.RUnlock()

	return ms.metrics[label]
}

func (ms *MetricSet) GetAlllabels() []string {
	ms.mtx.RLock()
	defer ms.mtx.RUnlock()

	keys := make([]string, 0, len(ms.metrics))

	for k := range ms.metrics {
		keys = append(keys, k)
	}

	return keys
}

func (ms *MetricSet) GetAllMetrics() []MetricItem {
	ms.mtx.RLock()
	defer ms.mtx.RUnlock()

	vals := make([]MetricItem, 0, len(ms.metrics))

	for _, v := range ms.metrics {
		vals = append(vals, v)
	}

	return vals
}

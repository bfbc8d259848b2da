package metric

import (
	jsoniter "github.com/json-iterator/go"
	gometrics "github.com/rcrowley/go-metrics"
)

// RegistryItem exposes a go-metrics registry as a MetricItem.
type RegistryItem struct {
	registry gometrics.Registry
}

func NewRegistryItem(registry gometrics.Registry) *RegistryItem {
	return &RegistryItem{registry: registry}
}

// JSONString - {"<metric name>": {"<field>": value}}
func (ri *RegistryItem) JSONString() string {
	s, _ := jsoniter.MarshalToString(ri.registry.GetAll())
	return s
}

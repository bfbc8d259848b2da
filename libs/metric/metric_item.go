package metric

// MetricItem - 一个独立的metric模块对应一个MetricItem
// JSONString需要返回合法的json
type MetricItem interface {
	JSONString() string
}

package stats

// Multi fans every observation out to several collectors.
type Multi []Collector

// Compile-time check that Multi implements Collector.
var _ Collector = Multi(nil)

// NewMulti returns a collector forwarding to every non-nil collector in cs.
func NewMulti(cs ...Collector) Multi {
	m := make(Multi, 0, len(cs))
	for _, c := range cs {
		if c != nil {
			m = append(m, c)
		}
	}
	return m
}

func (m Multi) IncCounter(name string, delta int64) {
	for _, c := range m {
		c.IncCounter(name, delta)
	}
}

func (m Multi) SetGauge(name string, value int64) {
	for _, c := range m {
		c.SetGauge(name, value)
	}
}

func (m Multi) ObserveHistogram(name string, value float64) {
	for _, c := range m {
		c.ObserveHistogram(name, value)
	}
}

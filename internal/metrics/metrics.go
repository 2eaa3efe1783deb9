package metrics

import "time"

type Recorder interface {
	IncCounter(event string, labels map[string]string)
	ObserveLatency(operation string, duration time.Duration, labels map[string]string)
}

type Noop struct{}

func (Noop) IncCounter(string, map[string]string)                    {}
func (Noop) ObserveLatency(string, time.Duration, map[string]string) {}

package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(value float64)
}

type Metrics struct {
	OpportunitiesFound   Counter
	AttemptsSettled      Counter
	AttemptsAborted      Counter
	AttemptsFailed       Counter
	CompensationFailures Counter
	PairsTracked         Gauge
	AllocationUSD        Gauge
	EquityUSD            Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	c := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		OpportunitiesFound:   c,
		AttemptsSettled:      c,
		AttemptsAborted:      c,
		AttemptsFailed:       c,
		CompensationFailures: c,
		PairsTracked:         g,
		AllocationUSD:        g,
		EquityUSD:            g,
	}
}

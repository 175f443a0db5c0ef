package metrics

import (
	"testing"

	metrictestutil "github.com/fedspend/broker/internal/metrics/testutil"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/suite"
)

type MetricsSuite struct {
	suite.Suite
	registry *prometheus.Registry
}

func TestMetricsSuite(t *testing.T) {
	suite.Run(t, new(MetricsSuite))
}

func (s *MetricsSuite) SetupTest() {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(All()...)
}

func (s *MetricsSuite) TestValidationJobsTotalIncrements() {
	ValidationJobsTotal.WithLabelValues("fabs", "finished").Inc()
	ValidationJobsTotal.WithLabelValues("fabs", "failed").Inc()
	ValidationJobsTotal.WithLabelValues("fabs", "failed").Inc()

	val := metrictestutil.CounterValue(s.T(), ValidationJobsTotal, "fabs", "finished")
	s.GreaterOrEqual(val, float64(1))

	val = metrictestutil.CounterValue(s.T(), ValidationJobsTotal, "fabs", "failed")
	s.GreaterOrEqual(val, float64(2))
}

func (s *MetricsSuite) TestValidationDurationObserves() {
	ValidationDurationSeconds.WithLabelValues("appropriations", "finished").Observe(42.5)

	families, err := s.registry.Gather()
	s.Require().NoError(err)

	found := false
	for _, fam := range families {
		if fam.GetName() == "broker_validation_duration_seconds" {
			for _, m := range fam.GetMetric() {
				h := m.GetHistogram()
				if h != nil && h.GetSampleCount() > 0 {
					found = true
					s.Equal(uint64(1), h.GetSampleCount())
					s.Equal(42.5, h.GetSampleSum())
				}
			}
		}
	}
	s.True(found, "expected histogram sample")
}

func (s *MetricsSuite) TestFindingsTotalAdds() {
	FindingsTotal.WithLabelValues("program_activity", "warning").Add(4)

	val := metrictestutil.CounterValue(s.T(), FindingsTotal, "program_activity", "warning")
	s.GreaterOrEqual(val, float64(4))
}

func (s *MetricsSuite) TestJobsActiveGauge() {
	JobsActive.WithLabelValues("node-a").Inc()
	JobsActive.WithLabelValues("node-a").Inc()
	JobsActive.WithLabelValues("node-a").Dec()

	val := s.gaugeValue(JobsActive, "node-a")
	s.GreaterOrEqual(val, float64(1))
}

func (s *MetricsSuite) TestPublicationsTotalIncrements() {
	PublicationsTotal.WithLabelValues("assistance", "published").Inc()

	val := metrictestutil.CounterValue(s.T(), PublicationsTotal, "assistance", "published")
	s.GreaterOrEqual(val, float64(1))
}

func (s *MetricsSuite) TestWorkerClaimContentionTotalIncrements() {
	WorkerClaimContentionTotal.WithLabelValues("node-a").Inc()
	WorkerClaimContentionTotal.WithLabelValues("node-a").Inc()

	val := metrictestutil.CounterValue(s.T(), WorkerClaimContentionTotal, "node-a")
	s.GreaterOrEqual(val, float64(2))
}

func (s *MetricsSuite) TestWorkerLeaseExpirationsTotalAdds() {
	WorkerLeaseExpirationsTotal.WithLabelValues("node-a").Add(3)

	val := metrictestutil.CounterValue(s.T(), WorkerLeaseExpirationsTotal, "node-a")
	s.GreaterOrEqual(val, float64(3))
}

func (s *MetricsSuite) gaugeValue(vec *prometheus.GaugeVec, labels ...string) float64 {
	var m dto.Metric
	gauge, err := vec.GetMetricWithLabelValues(labels...)
	s.Require().NoError(err)
	s.Require().NoError(gauge.(prometheus.Metric).Write(&m))
	return m.GetGauge().GetValue()
}

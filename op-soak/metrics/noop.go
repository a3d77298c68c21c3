package metrics

import "time"

type noopMetrics struct{}

var NoopMetrics Metricer = new(noopMetrics)

func (*noopMetrics) RecordInfo(version string)                                 {}
func (*noopMetrics) RecordUp()                                                 {}
func (*noopMetrics) RecordSubmission(op string, success bool, d time.Duration) {}
func (*noopMetrics) RecordNonceRollback(strict bool)                           {}
func (*noopMetrics) RecordInFlight(delta int)                                  {}
func (*noopMetrics) RecordBatch(size int, d time.Duration, tps float64)        {}
func (*noopMetrics) RecordRunResult(success, failure uint64, tps float64)      {}

package metrics

import "time"

// NoopMetrics records nothing. It is used when metrics are disabled and in
// tests that don't look at them.
type NoopMetrics struct{}

var _ Recorder = (*NoopMetrics)(nil)

func NewNoopMetrics() *NoopMetrics { return &NoopMetrics{} }

func (n *NoopMetrics) RecordLoginStarted(bool)                              {}
func (n *NoopMetrics) RecordLoginCompleted(string, time.Duration)           {}
func (n *NoopMetrics) RecordRefresh(string)                                 {}
func (n *NoopMetrics) RecordLogout()                                        {}
func (n *NoopMetrics) RecordGateRejection(string)                           {}
func (n *NoopMetrics) RecordPendingLoginsExpired(int64)                     {}
func (n *NoopMetrics) RecordHTTPRequest(string, string, int, time.Duration) {}

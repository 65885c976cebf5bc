// Package policy defines the adaptive policy rule model.
//
// A Rule pairs a set of metric Conditions with an Action. Conditions are
// evaluated against a Metrics snapshot, where a metric is either a scalar or
// a time series that is averaged over the condition's time window. Rules
// carry their own execution bookkeeping: cooldown, a per-day execution limit
// and a running success rate.
package policy

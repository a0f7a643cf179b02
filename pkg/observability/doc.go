/*
Package observability turns the agent's lifecycle hooks into Prometheus metrics
and structured log records.

	metrics := observability.NewMetrics()
	agent, _ := kopernicus.New(reasoner, caps, kopernicus.WithLifecycleHooks(
		domain.Combine(metrics.Hooks(), observability.LogHooks(logger)),
	))
	http.Handle("/metrics", metrics.Handler())
*/
package observability

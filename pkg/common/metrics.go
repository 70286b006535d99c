package common

const (
	// MetricsNamespace is the namespace for all metrics.
	MetricsNamespace = "kingfisher"
	// MetricsSubsystemScanner is the subsystem for all metrics.
	MetricsSubsystemScanner = "scanner"
	// MetricsSubsystemHTTPClient is the subsystem for HTTP client metrics.
	MetricsSubsystemHTTPClient = "http_client"
)

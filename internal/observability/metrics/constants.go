// Package metrics provides the Prometheus collectors of the auto-annotation service.
package metrics

// Histogram bucket parameters shared across collectors.
const (
	BucketStart1ms  = 0.001
	BucketStart10ms = 0.01
	BucketFactor2   = 2
	BucketCount12   = 12
	BucketCount10   = 10
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

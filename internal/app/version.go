package app

// Service metadata
const ServiceName = "greenmarket"

// Build-time injection variables, set via -ldflags during build:
//
//	go build -ldflags="-X 'greenmarket/internal/app.Version=1.0.0'" ./cmd/server
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

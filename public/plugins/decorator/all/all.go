// Package all imports all available decorators for side-effect registration.
// Import this package to enable all decorators:
//
//	import _ "github.com/fujin-io/evstore/public/plugins/decorator/all"
package all

import (
	// metrics decorator - records sink publish latency
	_ "github.com/fujin-io/evstore/public/plugins/decorator/metrics"
	// ratelimit decorator - throttles publishes
	_ "github.com/fujin-io/evstore/public/plugins/decorator/ratelimit"
	// tracing decorator - provides OpenTelemetry distributed tracing
	_ "github.com/fujin-io/evstore/public/plugins/decorator/tracing"
)

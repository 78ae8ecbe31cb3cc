// Package all imports all available sink plugins for side-effect registration.
//
//	import _ "github.com/fujin-io/evstore/public/plugins/sink/all"
package all

import (
	_ "github.com/fujin-io/evstore/public/plugins/sink/amqp091"
	_ "github.com/fujin-io/evstore/public/plugins/sink/amqp10"
	_ "github.com/fujin-io/evstore/public/plugins/sink/kafka"
	_ "github.com/fujin-io/evstore/public/plugins/sink/log"
	_ "github.com/fujin-io/evstore/public/plugins/sink/mqtt"
	_ "github.com/fujin-io/evstore/public/plugins/sink/nats/core"
	_ "github.com/fujin-io/evstore/public/plugins/sink/nsq"
	_ "github.com/fujin-io/evstore/public/plugins/sink/resp/pubsub"
	_ "github.com/fujin-io/evstore/public/plugins/sink/resp/streams"
)

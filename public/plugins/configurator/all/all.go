// Package all imports all available configurator plugins for side-effect registration.
//
//	import _ "github.com/fujin-io/evstore/public/plugins/configurator/all"
package all

import (
	_ "github.com/fujin-io/evstore/public/plugins/configurator/env"
	_ "github.com/fujin-io/evstore/public/plugins/configurator/file"
)

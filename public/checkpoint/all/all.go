// Package all imports all checkpoint stores for side-effect registration.
package all

import (
	_ "github.com/fujin-io/evstore/public/checkpoint/memory"
	_ "github.com/fujin-io/evstore/public/checkpoint/redis"
	_ "github.com/fujin-io/evstore/public/checkpoint/sqlite"
)

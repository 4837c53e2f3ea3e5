/*
Copyright 2023-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package metrics

import (
	"runtime/debug"
	"sync"
)

const modulePath = "github.com/couchbase/crushmap"

var (
	buildVersion     string
	buildVersionOnce sync.Once
)

// BuildVersion reports the version of this module compiled into the running
// binary, or "dev" for local builds.
func BuildVersion() string {
	buildVersionOnce.Do(func() {
		buildVersion = "dev"

		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}

		if info.Main.Path == modulePath && info.Main.Version != "" && info.Main.Version != "(devel)" {
			buildVersion = info.Main.Version
			return
		}

		for _, dep := range info.Deps {
			if dep.Path == modulePath {
				buildVersion = dep.Version
				return
			}
		}
	})

	return buildVersion
}

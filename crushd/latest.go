/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package crushd

import (
	"context"

	"github.com/couchbase/crushmap/common/mapsource"
)

// latestSnapshots pipes snapshots from inputCh to the returned channel
// without ever blocking the sender.  When the reader falls behind, older
// pending snapshots are replaced by newer ones, so a slow reload never holds
// up a map source and only the most recent document is applied.  The output
// is closed once inputCh is closed, or once ctx is done so that a reader
// which stops early does not strand the pipe.
func latestSnapshots(ctx context.Context, inputCh <-chan *mapsource.Snapshot) <-chan *mapsource.Snapshot {
	outputCh := make(chan *mapsource.Snapshot)

	go func() {
		defer close(outputCh)

		for {
			var pending *mapsource.Snapshot
			select {
			case snap, ok := <-inputCh:
				if !ok {
					return
				}
				pending = snap
			case <-ctx.Done():
				return
			}

		SendLoop:
			for {
				select {
				case outputCh <- pending:
					break SendLoop
				case newer, ok := <-inputCh:
					if !ok {
						// the final snapshot is still delivered
						select {
						case outputCh <- pending:
						case <-ctx.Done():
						}
						return
					}
					pending = newer
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return outputCh
}

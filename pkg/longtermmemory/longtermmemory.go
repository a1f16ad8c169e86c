// Package longtermmemory indexes chat messages as embedding vectors and
// retrieves the nearest ones for a session.
//
// Records outlive the session window: compaction and session deletion do
// not remove them.
package longtermmemory

import (
	"github.com/entrhq/memoryd/pkg/logging"
)

var debugLog = logging.NewLogger("longtermmemory")

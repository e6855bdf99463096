// Package verboselog provides a plugin that logs every frame's raw bytes
// and direction, for --verbose debugging sessions.
package verboselog

import (
	"encoding/hex"
	"log/slog"

	"github.com/vbe0201/wizproxy/plugin"
	"github.com/vbe0201/wizproxy/protocol/frame"
)

func logFrame(log *slog.Logger, label string) plugin.ListenerFunc {
	return func(_ *plugin.Context, fr *frame.Frame) (bool, error) {
		log.Info(label, "bytes", hex.EncodeToString(fr.Original))
		return true, nil
	}
}

// New builds a plugin that logs every frame crossing a shard's tunnels in
// both directions without mutating or vetoing any of them. log defaults
// to slog.Default() if nil.
func New(log *slog.Logger) *plugin.Plugin {
	if log == nil {
		log = slog.Default()
	}
	return plugin.NewPlugin([]plugin.Listener{
		{Filter: plugin.Filter{Direction: plugin.ClientToServer}, Func: logFrame(log, "C -> S")},
		{Filter: plugin.Filter{Direction: plugin.ServerToClient}, Func: logFrame(log, "S -> C")},
	})
}

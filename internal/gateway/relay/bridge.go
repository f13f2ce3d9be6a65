package relay

import "log"

// WorldSender delivers a raw packet to one connected world server.
type WorldSender interface {
	SendPacket(worldID int, payload []byte) error
}

// Notifier receives record-update notices bound for the cluster sync
// channel.
type Notifier interface {
	RecordUpdated(kind, key string)
}

// Bridge pushes packets to world servers and record-update notices to the
// sync channel. Delivery is best effort: failures are logged and never
// retried, and the request that triggered the send still succeeds.
type Bridge struct {
	worlds   WorldSender
	notifier Notifier
	logf     func(format string, args ...any)
}

// New creates a bridge. notifier may be nil, in which case notices are only
// logged.
func New(worlds WorldSender, notifier Notifier) *Bridge {
	return &Bridge{worlds: worlds, notifier: notifier, logf: log.Printf}
}

// SendToWorld delivers a packet to one world, best effort.
func (b *Bridge) SendToWorld(worldID int, packet *Packet) {
	if err := b.worlds.SendPacket(worldID, packet.Bytes()); err != nil {
		b.logf("relay: send to world %d failed: %v", worldID, err)
	}
}

// SyncRecordUpdate announces that a gateway-side record changed, so world
// servers eventually reload it.
func (b *Bridge) SyncRecordUpdate(kind, key string) {
	if b.notifier == nil {
		b.logf("relay: record update %s/%s (no sync channel)", kind, key)
		return
	}
	b.notifier.RecordUpdated(kind, key)
}

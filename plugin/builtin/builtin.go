// Package builtin provides the proxy's core plugin: the handshake
// rewriter (wired to the session package's Offer/Accept interception)
// and the three DML redirect/spoof handlers that keep a multi-shard
// deployment transparent to both the client and the real servers.
//
// Without the redirect handlers, a CharacterSelected or ServerTransfer
// message would point the client straight at the real zone server,
// skipping the proxy; they rewrite the embedded address to the spawned
// shard's instead. ConnectionStats runs the substitution in reverse: the
// client's quality report names the shard it connected to, and it is
// rewritten to name the real upstream server the shard proxies to.
package builtin

import (
	"net"

	"github.com/vbe0201/wizproxy/plugin"
	"github.com/vbe0201/wizproxy/protocol/dml"
	"github.com/vbe0201/wizproxy/protocol/frame"
)

func addrFromMessage(ipField any, portField any) *net.TCPAddr {
	ip := net.ParseIP(string(ipField.([]byte)))
	return &net.TCPAddr{IP: ip, Port: int(portField.(int32))}
}

func patchSessionOffer(ctx *plugin.Context, fr *frame.Frame) (bool, error) {
	if err := ctx.Session.Offer(fr); err != nil {
		return false, err
	}
	return true, nil
}

func patchSessionAccept(ctx *plugin.Context, fr *frame.Frame) (bool, error) {
	if err := ctx.Session.Accept(fr); err != nil {
		return false, err
	}
	return true, nil
}

func redirectCharacterSelected(ctx *plugin.Context, fr *frame.Frame) (bool, error) {
	msg, err := dml.CharacterSelected.Decode(fr.Payload)
	if err != nil {
		return false, err
	}

	addr := addrFromMessage(msg["IP"], msg["TCPPort"])
	if addr.IP == nil && addr.Port == 0 {
		return true, nil
	}

	shardAddr, err := ctx.SpawnShard(addr)
	if err != nil {
		return false, err
	}
	tcpShardAddr := shardAddr.(*net.TCPAddr)

	msg["IP"] = []byte(tcpShardAddr.IP.String())
	msg["TCPPort"] = int32(tcpShardAddr.Port)

	payload, err := dml.CharacterSelected.Encode(msg)
	if err != nil {
		return false, err
	}
	fr.Payload = payload
	return true, nil
}

func redirectServerTransfer(ctx *plugin.Context, fr *frame.Frame) (bool, error) {
	msg, err := dml.ServerTransfer.Decode(fr.Payload)
	if err != nil {
		return false, err
	}

	addr := addrFromMessage(msg["IP"], msg["TCPPort"])
	shardAddr, err := ctx.SpawnShard(addr)
	if err != nil {
		return false, err
	}
	tcpShardAddr := shardAddr.(*net.TCPAddr)
	fallback := ctx.ShardAddr().(*net.TCPAddr)

	msg["IP"] = []byte(tcpShardAddr.IP.String())
	msg["TCPPort"] = int32(tcpShardAddr.Port)
	msg["FallbackIP"] = []byte(fallback.IP.String())
	msg["FallbackTCPPort"] = int32(fallback.Port)

	payload, err := dml.ServerTransfer.Encode(msg)
	if err != nil {
		return false, err
	}
	fr.Payload = payload
	return true, nil
}

func patchConnectionStats(ctx *plugin.Context, fr *frame.Frame) (bool, error) {
	msg, err := dml.ConnectionStats.Decode(fr.Payload)
	if err != nil {
		return false, err
	}

	remote := ctx.RemoteAddr().(*net.TCPAddr)
	msg["ServerHostname"] = []byte(remote.IP.String())
	msg["ServerPort"] = int32(remote.Port)

	payload, err := dml.ConnectionStats.Encode(msg)
	if err != nil {
		return false, err
	}
	fr.Payload = payload
	return true, nil
}

// New builds the built-in plugin: the handshake rewriter plus the
// server-redirect and connection-stats-spoofing listeners.
func New() (*plugin.Plugin, error) {
	sessionOfferFilter, err := plugin.NewFilter(plugin.ServerToClient, plugin.Byte(0), nil, nil)
	if err != nil {
		return nil, err
	}
	sessionAcceptFilter, err := plugin.NewFilter(plugin.ClientToServer, plugin.Byte(5), nil, nil)
	if err != nil {
		return nil, err
	}
	characterSelectedFilter, err := plugin.NewFilter(plugin.ServerToClient, nil, plugin.Byte(7), plugin.Byte(3))
	if err != nil {
		return nil, err
	}
	serverTransferFilter, err := plugin.NewFilter(plugin.ServerToClient, nil, plugin.Byte(5), plugin.Byte(221))
	if err != nil {
		return nil, err
	}
	connectionStatsFilter, err := plugin.NewFilter(plugin.ClientToServer, nil, plugin.Byte(53), plugin.Byte(67))
	if err != nil {
		return nil, err
	}

	return plugin.NewPlugin([]plugin.Listener{
		{Filter: sessionOfferFilter, Dirty: true, Func: patchSessionOffer},
		{Filter: sessionAcceptFilter, Dirty: true, Func: patchSessionAccept},
		{Filter: characterSelectedFilter, Dirty: true, Func: redirectCharacterSelected},
		{Filter: serverTransferFilter, Dirty: true, Func: redirectServerTransfer},
		{Filter: connectionStatsFilter, Dirty: true, Func: patchConnectionStats},
	}), nil
}

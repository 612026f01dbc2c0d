package handshake

// DefaultNodeToNodeVersions is the built-in node-to-node version table
// (§6): a small window of recent protocol versions, each keyed to its
// magic/diffusion-mode defaults. Callers may override this entirely by
// constructing their own VersionTable.
func DefaultNodeToNodeVersions(networkMagic uint32) VersionTable {
	t := make(VersionTable)
	for v := uint32(11); v <= 14; v++ {
		t[v] = Params{
			NetworkMagic:               networkMagic,
			InitiatorOnlyDiffusionMode: true,
			PeerSharingMode:            0,
		}
	}
	return t
}

// DefaultNodeToClientVersions is the built-in node-to-client version
// table used by local-state-query/local-tx-submission/local-tx-monitor
// peers.
func DefaultNodeToClientVersions(networkMagic uint32) VersionTable {
	t := make(VersionTable)
	for v := uint32(9); v <= 16; v++ {
		t[v] = Params{NetworkMagic: networkMagic}
	}
	return t
}

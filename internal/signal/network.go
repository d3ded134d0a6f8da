// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package signal

// ClassifyNetworkLabel classifies a server-side quality label produced by
// the network probe. Labels map one to one; anything else is NetworkUnknown.
func ClassifyNetworkLabel(label string) NetworkCondition {
	return ParseNetworkCondition(label)
}

// ClassifyClientNetwork classifies the effective connection type reported
// by a client (the browser Network Information API vocabulary).
func ClassifyClientNetwork(n *ClientNetwork) NetworkCondition {
	if n == nil {
		return NetworkUnknown
	}
	switch normalize(n.EffectiveType) {
	case "", "unknown":
		return NetworkUnknown
	case "offline":
		return NetworkOffline
	case "slow-2g", "2g":
		return NetworkPoor
	case "3g":
		return NetworkFair
	case "4g":
		return NetworkGood
	default:
		// wifi, ethernet, 5g and anything newer.
		return NetworkGood
	}
}

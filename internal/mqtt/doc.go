// Package mqtt mirrors the agent's audit trail to an MQTT broker so
// other systems on the network can watch what the agent is doing.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. Topics live under
// hearth/<device>/:
//
//	availability  "online" or "offline", retained, with a will message
//	              so a crash reads as offline
//	audit         one JSON object per audit event
//	status        retained JSON snapshot, refreshed periodically
package mqtt

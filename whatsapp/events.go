package whatsapp

import (
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"
)

// DisconnectReason classifica la chiusura di una sessione
type DisconnectReason string

const (
	ReasonLoggedOut      DisconnectReason = "logged_out"
	ReasonConnectionLost DisconnectReason = "connection_lost"
	ReasonStreamReplaced DisconnectReason = "stream_replaced"
	ReasonConnectFailure DisconnectReason = "connect_failure"
	ReasonTemporaryBan   DisconnectReason = "temporary_ban"
	ReasonClientOutdated DisconnectReason = "client_outdated"
	ReasonQRTimeout      DisconnectReason = "qr_timeout"
	ReasonPairError      DisconnectReason = "pair_error"
	ReasonConnectError   DisconnectReason = "connect_error"
)

// ShouldReconnect è vero per ogni motivo tranne il logout esplicito
func (r DisconnectReason) ShouldReconnect() bool {
	return r != ReasonLoggedOut
}

// classifyClose riconosce gli eventi whatsmeow che chiudono la sessione
func classifyClose(evt interface{}) (DisconnectReason, bool) {
	switch v := evt.(type) {
	case *events.LoggedOut:
		return ReasonLoggedOut, true
	case *events.ConnectFailure:
		if v.Reason.IsLoggedOut() {
			return ReasonLoggedOut, true
		}
		return ReasonConnectFailure, true
	case *events.Disconnected:
		return ReasonConnectionLost, true
	case *events.StreamReplaced:
		return ReasonStreamReplaced, true
	case *events.TemporaryBan:
		return ReasonTemporaryBan, true
	case *events.ClientOutdated:
		return ReasonClientOutdated, true
	case *events.PairError:
		return ReasonPairError, true
	}
	return "", false
}

// classifyQR traduce gli esiti del canale QR diversi da "code" e "success"
func classifyQR(item whatsmeow.QRChannelItem) (DisconnectReason, bool) {
	switch item.Event {
	case whatsmeow.QRChannelEventCode, "success":
		return "", false
	case "timeout":
		return ReasonQRTimeout, true
	case "err-client-outdated":
		return ReasonClientOutdated, true
	}
	return ReasonPairError, true
}

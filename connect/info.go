package connect

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/opd-ai/rendezvous/crypto"
	"github.com/opd-ai/rendezvous/handshake"
	"github.com/opd-ai/rendezvous/relay"
	"github.com/opd-ai/rendezvous/transport"
)

// LocalConnectionInfo is the private half of a connection descriptor. It is
// consumed by exactly one Connect call.
type LocalConnectionInfo struct {
	ID crypto.PublicID

	// ConnectionRx delivers the relay-negotiated connection once.
	ConnectionRx <-chan relay.Result

	// RendezvousChannel hands the remote's relay payload to the negotiator.
	RendezvousChannel relay.Sender
}

// RemoteConnectionInfo is the public half of a connection descriptor, sent
// to the remote out-of-band.
type RemoteConnectionInfo struct {
	ID          crypto.PublicID
	ForDirect   []net.Addr
	P2PConnInfo []byte
}

// remoteConnectionInfoJSON is the JSON form of RemoteConnectionInfo.
type remoteConnectionInfoJSON struct {
	ID          string   `json:"id"`
	ForDirect   []string `json:"for_direct"`
	P2PConnInfo []byte   `json:"p2p_conn_info,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (i RemoteConnectionInfo) MarshalJSON() ([]byte, error) {
	out := remoteConnectionInfoJSON{
		ID:          i.ID.String(),
		ForDirect:   make([]string, 0, len(i.ForDirect)),
		P2PConnInfo: i.P2PConnInfo,
	}
	for _, addr := range i.ForDirect {
		out.ForDirect = append(out.ForDirect, transport.FormatAddr(addr))
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (i *RemoteConnectionInfo) UnmarshalJSON(data []byte) error {
	var in remoteConnectionInfoJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	id, err := crypto.ParsePublicID(in.ID)
	if err != nil {
		return fmt.Errorf("connection info id: %w", err)
	}

	addrs := make([]net.Addr, 0, len(in.ForDirect))
	for _, s := range in.ForDirect {
		addr, err := transport.ParseAddr(s)
		if err != nil {
			return fmt.Errorf("connection info address: %w", err)
		}
		addrs = append(addrs, addr)
	}

	*i = RemoteConnectionInfo{ID: id, ForDirect: addrs, P2PConnInfo: in.P2PConnInfo}
	return nil
}

// ConnectMessage is an inbound connection whose first handshake message has
// already been read.
type ConnectMessage struct {
	Socket  *transport.Socket
	Request handshake.ConnectRequest
}

package messages

import (
	"net"
	"strconv"
)

type NotHandledReason int32

const (
	NotHandledNotReady NotHandledReason = iota
	NotHandledTooBusy
	NotHandledNotMaster
)

type NotHandled struct {
	Reason         NotHandledReason
	AdditionalInfo []byte
}

func (m *NotHandled) Marshal() []byte {
	var e encoder
	e.int32(1, int32(m.Reason))
	if m.AdditionalInfo != nil {
		e.bytes(2, m.AdditionalInfo)
	}
	return e.b
}

func (m *NotHandled) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Reason = NotHandledReason(f.int32())
		case 2:
			m.AdditionalInfo = f.bytes()
		}
		return nil
	})
}

// MasterInfo is carried in NotHandled.AdditionalInfo for NotMaster replies.
type MasterInfo struct {
	ExternalTCPAddress       string
	ExternalTCPPort          int32
	ExternalHTTPAddress      string
	ExternalHTTPPort         int32
	ExternalSecureTCPAddress string
	ExternalSecureTCPPort    int32
}

func (m *MasterInfo) Marshal() []byte {
	var e encoder
	e.string(1, m.ExternalTCPAddress)
	e.int32(2, m.ExternalTCPPort)
	e.string(3, m.ExternalHTTPAddress)
	e.int32(4, m.ExternalHTTPPort)
	if m.ExternalSecureTCPAddress != "" {
		e.string(5, m.ExternalSecureTCPAddress)
		e.int32(6, m.ExternalSecureTCPPort)
	}
	return e.b
}

func (m *MasterInfo) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.ExternalTCPAddress = f.string()
		case 2:
			m.ExternalTCPPort = f.int32()
		case 3:
			m.ExternalHTTPAddress = f.string()
		case 4:
			m.ExternalHTTPPort = f.int32()
		case 5:
			m.ExternalSecureTCPAddress = f.string()
		case 6:
			m.ExternalSecureTCPPort = f.int32()
		}
		return nil
	})
}

// TCPEndpoint returns host:port of the master's plain TCP endpoint.
func (m *MasterInfo) TCPEndpoint() string {
	return net.JoinHostPort(m.ExternalTCPAddress, strconv.Itoa(int(m.ExternalTCPPort)))
}

// SecureEndpoint returns host:port of the TLS endpoint, or "" when the
// master does not advertise one.
func (m *MasterInfo) SecureEndpoint() string {
	if m.ExternalSecureTCPAddress == "" || m.ExternalSecureTCPPort == 0 {
		return ""
	}
	return net.JoinHostPort(m.ExternalSecureTCPAddress, strconv.Itoa(int(m.ExternalSecureTCPPort)))
}

type IdentifyClient struct {
	Version        int32
	ConnectionName string
}

func (m *IdentifyClient) Marshal() []byte {
	var e encoder
	e.int32(1, m.Version)
	if m.ConnectionName != "" {
		e.string(2, m.ConnectionName)
	}
	return e.b
}

func (m *IdentifyClient) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Version = f.int32()
		case 2:
			m.ConnectionName = f.string()
		}
		return nil
	})
}

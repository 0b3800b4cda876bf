package dlna

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/rosschurchill/zeroconfdlna/core/index"
)

type GetProtocolInfoResponse struct {
	XMLName xml.Name `xml:"u:GetProtocolInfoResponse"`
	XmlnsU  string   `xml:"xmlns:u,attr"`
	Source  string   `xml:"Source"`
	Sink    string   `xml:"Sink"`
}

type GetCurrentConnectionIDsResponse struct {
	XMLName       xml.Name `xml:"u:GetCurrentConnectionIDsResponse"`
	XmlnsU        string   `xml:"xmlns:u,attr"`
	ConnectionIDs string   `xml:"ConnectionIDs"`
}

type GetCurrentConnectionInfoRequest struct {
	XMLName      xml.Name `xml:"GetCurrentConnectionInfo"`
	ConnectionID int      `xml:"ConnectionID"`
}

type GetCurrentConnectionInfoResponse struct {
	XMLName               xml.Name `xml:"u:GetCurrentConnectionInfoResponse"`
	XmlnsU                string   `xml:"xmlns:u,attr"`
	RcsID                 int      `xml:"RcsID"`
	AVTransportID         int      `xml:"AVTransportID"`
	ProtocolInfo          string   `xml:"ProtocolInfo"`
	PeerConnectionManager string   `xml:"PeerConnectionManager"`
	PeerConnectionID      int      `xml:"PeerConnectionID"`
	Direction             string   `xml:"Direction"`
	Status                string   `xml:"Status"`
}

// handleGetProtocolInfo advertises one http-get source entry per MIME
// type the server can deliver. Sink stays empty, the server never
// receives streams.
func (r *Router) handleGetProtocolInfo(_ context.Context) (*GetProtocolInfoResponse, error) {
	mimes := index.MimeTypes()
	protos := make([]string, len(mimes))
	for i, m := range mimes {
		protos[i] = protocolInfo(m)
	}
	return &GetProtocolInfoResponse{
		XmlnsU: connectionManagerType,
		Source: strings.Join(protos, ","),
	}, nil
}

// handleGetCurrentConnectionIDs reports the single implicit connection.
func (r *Router) handleGetCurrentConnectionIDs(_ context.Context) (*GetCurrentConnectionIDsResponse, error) {
	return &GetCurrentConnectionIDsResponse{
		XmlnsU:        connectionManagerType,
		ConnectionIDs: "0",
	}, nil
}

// handleGetCurrentConnectionInfo describes connection 0, the only one
// that exists. Plain HTTP streaming has no rendering control or
// AVTransport service, those ids report -1.
func (r *Router) handleGetCurrentConnectionInfo(_ context.Context, body []byte) (*GetCurrentConnectionInfoResponse, error) {
	var req GetCurrentConnectionInfoRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		return nil, errInvalidArgs()
	}
	if req.ConnectionID != 0 {
		return nil, &upnpError{code: upnpErrorInvalidConnection, msg: "Invalid connection reference"}
	}
	return &GetCurrentConnectionInfoResponse{
		XmlnsU:           connectionManagerType,
		RcsID:            -1,
		AVTransportID:    -1,
		PeerConnectionID: -1,
		Direction:        "Output",
		Status:           "OK",
	}, nil
}

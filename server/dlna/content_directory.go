package dlna

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/rosschurchill/zeroconfdlna/core/index"
	"github.com/rosschurchill/zeroconfdlna/log"
	"github.com/rosschurchill/zeroconfdlna/model"
)

// BrowseRequest mirrors the arguments of the ContentDirectory Browse
// action. Filter and SortCriteria are accepted and ignored, metadata is
// always complete and the sort order is fixed.
type BrowseRequest struct {
	XMLName        xml.Name `xml:"Browse"`
	ObjectID       string   `xml:"ObjectID"`
	BrowseFlag     string   `xml:"BrowseFlag"`
	Filter         string   `xml:"Filter"`
	StartingIndex  int      `xml:"StartingIndex"`
	RequestedCount int      `xml:"RequestedCount"`
	SortCriteria   string   `xml:"SortCriteria"`
}

// BrowseResponse is the Browse action reply. The u: prefix is literal
// for the same reason as in DIDLLite.
type BrowseResponse struct {
	XMLName        xml.Name `xml:"u:BrowseResponse"`
	XmlnsU         string   `xml:"xmlns:u,attr"`
	Result         string   `xml:"Result"`
	NumberReturned int      `xml:"NumberReturned"`
	TotalMatches   int      `xml:"TotalMatches"`
	UpdateID       uint32   `xml:"UpdateID"`
}

type GetSearchCapabilitiesResponse struct {
	XMLName    xml.Name `xml:"u:GetSearchCapabilitiesResponse"`
	XmlnsU     string   `xml:"xmlns:u,attr"`
	SearchCaps string   `xml:"SearchCaps"`
}

type GetSortCapabilitiesResponse struct {
	XMLName  xml.Name `xml:"u:GetSortCapabilitiesResponse"`
	XmlnsU   string   `xml:"xmlns:u,attr"`
	SortCaps string   `xml:"SortCaps"`
}

type GetSystemUpdateIDResponse struct {
	XMLName xml.Name `xml:"u:GetSystemUpdateIDResponse"`
	XmlnsU  string   `xml:"xmlns:u,attr"`
	Id      uint32   `xml:"Id"`
}

// handleBrowse answers the Browse action from the index. The DIDL
// document goes into Result as text, xml.Marshal escapes it on the way
// out.
func (r *Router) handleBrowse(ctx context.Context, body []byte) (*BrowseResponse, error) {
	var req BrowseRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		log.Debug(ctx, "Malformed Browse request", err)
		return nil, errInvalidArgs()
	}
	if req.StartingIndex < 0 || req.RequestedCount < 0 {
		return nil, errInvalidArgs()
	}

	log.Debug(ctx, "Browse", "objectID", req.ObjectID, "flag", req.BrowseFlag,
		"start", req.StartingIndex, "count", req.RequestedCount)

	id, err := model.ParseObjectID(req.ObjectID)
	if err != nil {
		return nil, errNoSuchObject()
	}

	didl := newDIDL()
	var total int
	switch req.BrowseFlag {
	case "BrowseMetadata":
		obj, err := r.idx.Get(id)
		if err != nil {
			return nil, browseErr(err)
		}
		didl.add(&obj, r.resourceURL(&obj))
		total = 1
	case "BrowseDirectChildren":
		// RequestedCount 0 asks for all children.
		children, n, err := r.idx.List(id, req.StartingIndex, req.RequestedCount)
		if err != nil {
			return nil, browseErr(err)
		}
		for i := range children {
			didl.add(&children[i], r.resourceURL(&children[i]))
		}
		total = n
	default:
		return nil, errInvalidArgs()
	}

	didlXML, err := xml.Marshal(didl)
	if err != nil {
		return nil, fmt.Errorf("marshalling DIDL-Lite: %w", err)
	}

	return &BrowseResponse{
		XmlnsU:         contentDirectoryType,
		Result:         string(didlXML),
		NumberReturned: didl.count(),
		TotalMatches:   total,
		UpdateID:       r.idx.UpdateID(),
	}, nil
}

// browseErr maps index errors onto their UPnP fault codes.
func browseErr(err error) error {
	switch {
	case errors.Is(err, index.ErrNotFound):
		return errNoSuchObject()
	case errors.Is(err, index.ErrNotContainer):
		return errNoSuchContainer()
	default:
		return err
	}
}

// handleGetSearchCapabilities reports that Search is not offered.
func (r *Router) handleGetSearchCapabilities(_ context.Context) (*GetSearchCapabilitiesResponse, error) {
	return &GetSearchCapabilitiesResponse{XmlnsU: contentDirectoryType}, nil
}

// handleGetSortCapabilities reports the only order Browse results come
// in.
func (r *Router) handleGetSortCapabilities(_ context.Context) (*GetSortCapabilitiesResponse, error) {
	return &GetSortCapabilitiesResponse{
		XmlnsU:   contentDirectoryType,
		SortCaps: "dc:title",
	}, nil
}

func (r *Router) handleGetSystemUpdateID(_ context.Context) (*GetSystemUpdateIDResponse, error) {
	return &GetSystemUpdateIDResponse{
		XmlnsU: contentDirectoryType,
		Id:     r.idx.UpdateID(),
	}, nil
}

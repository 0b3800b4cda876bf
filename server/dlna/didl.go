package dlna

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"time"

	"github.com/rosschurchill/zeroconfdlna/model"
)

// dlnaFeatures is the fourth field of every advertised protocolInfo and
// the value of contentFeatures.dlna.org on media responses. OP=01
// declares byte-range seek, CI=0 declares no conversion, and the flags
// advertise streaming and background transfer modes. Samsung and Sony
// renderers check these exact literals.
const dlnaFeatures = "DLNA.ORG_OP=01;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=01700000000000000000000000000000"

// protocolInfo builds the four-field protocolInfo string for a MIME type.
func protocolInfo(mimeType string) string {
	return fmt.Sprintf("http-get:*:%s:%s", mimeType, dlnaFeatures)
}

// DIDLLite is the root element of a Browse Result document.
// encoding/xml cannot bind prefixed namespaces, so the xmlns attributes
// are literal and the dc:/upnp: prefixes are baked into the field tags.
type DIDLLite struct {
	XMLName    xml.Name    `xml:"DIDL-Lite"`
	Xmlns      string      `xml:"xmlns,attr"`
	XmlnsDC    string      `xml:"xmlns:dc,attr"`
	XmlnsUPnP  string      `xml:"xmlns:upnp,attr"`
	Containers []Container `xml:"container"`
	Items      []Item      `xml:"item"`
}

// Container describes a browsable directory.
type Container struct {
	ID         string `xml:"id,attr"`
	ParentID   string `xml:"parentID,attr"`
	ChildCount int    `xml:"childCount,attr"`
	Restricted string `xml:"restricted,attr"`
	Title      string `xml:"dc:title"`
	Class      string `xml:"upnp:class"`
}

// Item describes a playable media file.
type Item struct {
	ID         string `xml:"id,attr"`
	ParentID   string `xml:"parentID,attr"`
	Restricted string `xml:"restricted,attr"`
	Title      string `xml:"dc:title"`
	Class      string `xml:"upnp:class"`
	Resources  []Res  `xml:"res"`
}

// Res carries the resource URL plus the attributes renderers use to
// decide whether they can play it.
type Res struct {
	ProtocolInfo string `xml:"protocolInfo,attr"`
	Size         int64  `xml:"size,attr,omitempty"`
	Duration     string `xml:"duration,attr,omitempty"`
	URL          string `xml:",chardata"`
}

func newDIDL() *DIDLLite {
	return &DIDLLite{
		Xmlns:     "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/",
		XmlnsDC:   "http://purl.org/dc/elements/1.1/",
		XmlnsUPnP: "urn:schemas-upnp-org:metadata-1-0/upnp/",
	}
}

// add appends the node for obj. resURL is ignored for containers.
func (d *DIDLLite) add(obj *model.ContentObject, resURL string) {
	if obj.IsContainer() {
		d.Containers = append(d.Containers, Container{
			ID:         obj.ID.String(),
			ParentID:   obj.ParentID.String(),
			ChildCount: obj.ChildCount,
			Restricted: "1",
			Title:      obj.Title,
			Class:      obj.Class,
		})
		return
	}
	res := Res{
		ProtocolInfo: protocolInfo(obj.MimeType),
		Size:         obj.Size,
		URL:          resURL,
	}
	if obj.Duration > 0 {
		res.Duration = didlDuration(obj.Duration)
	}
	d.Items = append(d.Items, Item{
		ID:         obj.ID.String(),
		ParentID:   obj.ParentID.String(),
		Restricted: "1",
		Title:      obj.Title,
		Class:      obj.Class,
		Resources:  []Res{res},
	})
}

func (d *DIDLLite) count() int {
	return len(d.Containers) + len(d.Items)
}

// resourceURL builds the streaming URL advertised for an item. The
// title segment is advisory for renderer display, resolution is by id
// alone.
func (r *Router) resourceURL(obj *model.ContentObject) string {
	return fmt.Sprintf("%s/media/%d/%s", r.baseURL(), obj.ID, url.PathEscape(obj.Title))
}

// didlDuration renders a duration in the H:MM:SS.mmm form res@duration
// expects.
func didlDuration(d time.Duration) string {
	ms := d.Milliseconds()
	return fmt.Sprintf("%d:%02d:%02d.%03d", ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}

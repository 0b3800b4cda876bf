package dlna

import (
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("device description", func() {
	var rt *Router
	var router chi.Router

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		return w
	}

	BeforeEach(func() {
		rt = newTestRouter(GinkgoT().TempDir())
		router = rt.Routes()
	})

	Describe("description.xml", func() {
		It("serves the UPnP device document", func() {
			w := get("/description.xml")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(Equal("application/xml"))

			body := w.Body.String()
			Expect(body).To(HavePrefix(`<?xml version="1.0" encoding="UTF-8"?>`))
			Expect(body).To(ContainSubstring(
				`<root xmlns="urn:schemas-upnp-org:device-1-0" xmlns:dlna="urn:schemas-dlna-org:device-1-0">`))
			Expect(body).To(ContainSubstring("<specVersion>"))
			Expect(body).To(ContainSubstring("<major>1</major>"))
			Expect(body).To(ContainSubstring("<minor>0</minor>"))
			Expect(body).To(ContainSubstring("<device>"))
			Expect(body).To(ContainSubstring(
				"<deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>"))
			Expect(body).To(ContainSubstring("<friendlyName>Test Media</friendlyName>"))
			Expect(body).To(ContainSubstring("<UDN>" + rt.uuid + "</UDN>"))
			Expect(body).To(ContainSubstring("<dlna:X_DLNADOC>DMS-1.50</dlna:X_DLNADOC>"))
		})

		It("points renderers at both services", func() {
			body := get("/description.xml").Body.String()
			Expect(body).To(ContainSubstring("<serviceList>"))
			Expect(body).To(ContainSubstring(
				"<serviceType>urn:schemas-upnp-org:service:ContentDirectory:1</serviceType>"))
			Expect(body).To(ContainSubstring(
				"<serviceId>urn:upnp-org:serviceId:ContentDirectory</serviceId>"))
			Expect(body).To(ContainSubstring("<SCPDURL>/ContentDirectory.xml</SCPDURL>"))
			Expect(body).To(ContainSubstring("<controlURL>/ContentDirectory/control</controlURL>"))
			Expect(body).To(ContainSubstring(
				"<serviceType>urn:schemas-upnp-org:service:ConnectionManager:1</serviceType>"))
			Expect(body).To(ContainSubstring("<SCPDURL>/ConnectionManager.xml</SCPDURL>"))
			Expect(body).To(ContainSubstring("<controlURL>/ConnectionManager/control</controlURL>"))
			Expect(body).To(ContainSubstring("<eventSubURL>/events</eventSubURL>"))
		})

		It("advertises the browse page as presentation URL", func() {
			body := get("/description.xml").Body.String()
			Expect(body).To(ContainSubstring(
				"<presentationURL>http://127.0.0.1:8200/browse</presentationURL>"))
		})
	})

	Describe("service descriptions", func() {
		It("serves the ContentDirectory SCPD with all four actions", func() {
			w := get("/ContentDirectory.xml")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(Equal("application/xml"))

			body := w.Body.String()
			Expect(body).To(ContainSubstring(`<scpd xmlns="urn:schemas-upnp-org:service-1-0">`))
			Expect(body).To(ContainSubstring("<name>Browse</name>"))
			Expect(body).To(ContainSubstring("<name>GetSearchCapabilities</name>"))
			Expect(body).To(ContainSubstring("<name>GetSortCapabilities</name>"))
			Expect(body).To(ContainSubstring("<name>GetSystemUpdateID</name>"))
			Expect(body).To(ContainSubstring("<allowedValue>BrowseMetadata</allowedValue>"))
			Expect(body).To(ContainSubstring("<allowedValue>BrowseDirectChildren</allowedValue>"))
		})

		It("serves the ConnectionManager SCPD", func() {
			w := get("/ConnectionManager.xml")
			Expect(w.Code).To(Equal(http.StatusOK))

			body := w.Body.String()
			Expect(body).To(ContainSubstring("<name>GetProtocolInfo</name>"))
			Expect(body).To(ContainSubstring("<name>GetCurrentConnectionIDs</name>"))
			Expect(body).To(ContainSubstring("<name>GetCurrentConnectionInfo</name>"))
			Expect(body).To(ContainSubstring("<name>SourceProtocolInfo</name>"))
		})
	})
})

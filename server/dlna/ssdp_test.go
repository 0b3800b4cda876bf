package dlna

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func msearch(man, st, mx string) string {
	return "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: " + man + "\r\n" +
		"MX: " + mx + "\r\n" +
		"ST: " + st + "\r\n" +
		"\r\n"
}

var _ = Describe("SSDP", func() {
	var rt *Router

	BeforeEach(func() {
		rt = newTestRouter(GinkgoT().TempDir())
	})

	Describe("buildSearchResponse", func() {
		It("renders the discovery reply headers", func() {
			resp := rt.buildSearchResponse("upnp:rootdevice")
			Expect(resp).To(HavePrefix("HTTP/1.1 200 OK\r\n"))
			Expect(resp).To(HaveSuffix("\r\n\r\n"))
			Expect(resp).To(ContainSubstring("CACHE-CONTROL: max-age=1800\r\n"))
			Expect(resp).To(ContainSubstring("EXT:\r\n"))
			Expect(resp).To(ContainSubstring("LOCATION: http://127.0.0.1:8200/description.xml\r\n"))
			Expect(resp).To(ContainSubstring("ST: upnp:rootdevice\r\n"))
			Expect(resp).To(ContainSubstring("USN: " + rt.uuid + "::upnp:rootdevice\r\n"))
			Expect(extractHeader(resp, "SERVER")).To(ContainSubstring("UPnP/1.0 DLNA/1.50"))

			_, err := time.Parse(http.TimeFormat, extractHeader(resp, "DATE"))
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Describe("buildNotify", func() {
		It("renders the full advertisement for alive", func() {
			msg := rt.buildNotify(deviceType, "ssdp:alive")
			Expect(msg).To(HavePrefix("NOTIFY * HTTP/1.1\r\n"))
			Expect(msg).To(ContainSubstring("HOST: 239.255.255.250:1900\r\n"))
			Expect(msg).To(ContainSubstring("CACHE-CONTROL: max-age=1800\r\n"))
			Expect(msg).To(ContainSubstring("LOCATION: http://127.0.0.1:8200/description.xml\r\n"))
			Expect(msg).To(ContainSubstring("NT: " + deviceType + "\r\n"))
			Expect(msg).To(ContainSubstring("NTS: ssdp:alive\r\n"))
			Expect(msg).To(ContainSubstring("USN: " + rt.uuid + "::" + deviceType + "\r\n"))
		})

		It("keeps byebye minimal", func() {
			msg := rt.buildNotify("upnp:rootdevice", "ssdp:byebye")
			Expect(msg).To(HavePrefix("NOTIFY * HTTP/1.1\r\n"))
			Expect(msg).To(ContainSubstring("NTS: ssdp:byebye\r\n"))
			Expect(msg).ToNot(ContainSubstring("CACHE-CONTROL"))
			Expect(msg).ToNot(ContainSubstring("LOCATION"))
			Expect(msg).ToNot(ContainSubstring("SERVER"))
		})
	})

	Describe("advertised targets", func() {
		It("covers the root device, the UDN, the device and both services", func() {
			targets := rt.getAllServiceTypes()
			Expect(targets).To(HaveLen(5))
			Expect(targets[0]).To(Equal("upnp:rootdevice"))
			Expect(targets).To(ContainElement(rt.uuid))
			Expect(targets).To(ContainElement(deviceType))
			Expect(targets).To(ContainElement(contentDirectoryType))
			Expect(targets).To(ContainElement(connectionManagerType))
		})

		It("forms USNs from the device UUID", func() {
			Expect(rt.getUSN(rt.uuid)).To(Equal(rt.uuid))
			Expect(rt.getUSN("upnp:rootdevice")).To(Equal(rt.uuid + "::upnp:rootdevice"))
		})
	})

	Describe("replyWindow", func() {
		It("clamps MX to the reply bounds", func() {
			Expect(replyWindow("1")).To(Equal(1 * time.Second))
			Expect(replyWindow("2")).To(Equal(2 * time.Second))
			Expect(replyWindow("3")).To(Equal(3 * time.Second))
			Expect(replyWindow("5")).To(Equal(3 * time.Second))
			Expect(replyWindow("100")).To(Equal(3 * time.Second))
			Expect(replyWindow("0")).To(Equal(1 * time.Second))
			Expect(replyWindow("-2")).To(Equal(1 * time.Second))
			Expect(replyWindow("")).To(Equal(1 * time.Second))
			Expect(replyWindow("soon")).To(Equal(1 * time.Second))
		})
	})

	Describe("M-SEARCH handling", func() {
		var client *net.UDPConn
		var clientAddr *net.UDPAddr

		readReply := func(timeout time.Duration) (string, error) {
			buf := make([]byte, 2048)
			Expect(client.SetReadDeadline(time.Now().Add(timeout))).To(Succeed())
			n, _, err := client.ReadFromUDP(buf)
			if err != nil {
				return "", err
			}
			return string(buf[:n]), nil
		}

		BeforeEach(func() {
			var cancel context.CancelFunc
			rt.ctx, cancel = context.WithCancel(context.Background())
			rt.cancel = cancel
			DeferCleanup(cancel)

			var err error
			client, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
			Expect(err).ToNot(HaveOccurred())
			DeferCleanup(func() { client.Close() })
			clientAddr = client.LocalAddr().(*net.UDPAddr)
		})

		It("unicasts a reply for a matching search target", func() {
			rt.handleMSearch(msearch(`"ssdp:discover"`, deviceType, "1"), clientAddr)

			reply, err := readReply(3 * time.Second)
			Expect(err).ToNot(HaveOccurred())
			Expect(reply).To(HavePrefix("HTTP/1.1 200 OK\r\n"))
			Expect(extractHeader(reply, "ST")).To(Equal(deviceType))
			Expect(extractHeader(reply, "USN")).To(Equal(rt.uuid + "::" + deviceType))
		})

		It("answers ssdp:all with one reply per advertised target", func() {
			rt.handleMSearch(msearch(`"ssdp:discover"`, "ssdp:all", "1"), clientAddr)

			seen := map[string]bool{}
			for i := 0; i < 5; i++ {
				reply, err := readReply(3 * time.Second)
				Expect(err).ToNot(HaveOccurred())
				seen[extractHeader(reply, "ST")] = true
			}
			for _, target := range rt.getAllServiceTypes() {
				Expect(seen).To(HaveKey(target))
			}
		})

		It("stays silent without the discover MAN", func() {
			rt.handleMSearch(msearch("something-else", deviceType, "1"), clientAddr)

			_, err := readReply(300 * time.Millisecond)
			Expect(err).To(HaveOccurred())
			Expect(os.IsTimeout(err)).To(BeTrue())
		})

		It("stays silent for search targets it does not advertise", func() {
			rt.handleMSearch(msearch(`"ssdp:discover"`, "urn:schemas-upnp-org:service:AVTransport:1", "1"), clientAddr)

			_, err := readReply(300 * time.Millisecond)
			Expect(err).To(HaveOccurred())
			Expect(os.IsTimeout(err)).To(BeTrue())
		})

		It("still replies when MX is garbled", func() {
			rt.handleMSearch(msearch(`"ssdp:discover"`, "upnp:rootdevice", "whenever"), clientAddr)

			reply, err := readReply(3 * time.Second)
			Expect(err).ToNot(HaveOccurred())
			Expect(extractHeader(reply, "ST")).To(Equal("upnp:rootdevice"))
		})
	})
})

var _ = Describe("SSDP parsing", func() {
	It("extracts headers case-insensitively", func() {
		msg := "M-SEARCH * HTTP/1.1\r\nHost: 239.255.255.250:1900\r\nst:  upnp:rootdevice \r\n\r\n"
		Expect(extractHeader(msg, "HOST")).To(Equal("239.255.255.250:1900"))
		Expect(extractHeader(msg, "ST")).To(Equal("upnp:rootdevice"))
		Expect(extractHeader(msg, "MX")).To(Equal(""))
	})

	It("returns the request line", func() {
		Expect(firstLine("M-SEARCH * HTTP/1.1\r\nHOST: x\r\n")).To(Equal("M-SEARCH * HTTP/1.1"))
		Expect(firstLine("NOTIFY * HTTP/1.1\r\n")).To(Equal("NOTIFY * HTTP/1.1"))
		Expect(firstLine("bare")).To(Equal("bare"))
	})
})

package dlna

import (
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/net/ipv4"

	"github.com/rosschurchill/zeroconfdlna/consts"
	"github.com/rosschurchill/zeroconfdlna/core/metrics"
	"github.com/rosschurchill/zeroconfdlna/log"
)

const (
	// SSDP message types
	ssdpAlive  = "ssdp:alive"
	ssdpByeBye = "ssdp:byebye"
	ssdpAll    = "ssdp:all"

	// Cache control max-age in seconds; devices forget us after this.
	cacheMaxAge = 1800

	// Re-announce at half the advertised lifetime.
	announceInterval = cacheMaxAge / 2 * time.Second

	// Startup alive notifications are repeated to survive packet loss.
	aliveRepeats = 3
	aliveSpacing = 200 * time.Millisecond

	// TTL for outgoing multicast datagrams.
	multicastTTL = 2

	// M-SEARCH MX bounds. Replies are also never delayed more than 3s
	// regardless of MX.
	mxMin      = 1
	mxMax      = 5
	maxReplyMX = 3
)

// startSSDP opens the multicast socket, joins the group on every active
// interface and starts the receive and announce loops.
func (r *Router) startSSDP() error {
	addr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve SSDP address: %w", err)
	}

	// ListenMulticastUDP sets SO_REUSEADDR and joins the group on the
	// default interface.
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("failed to listen on multicast: %w", err)
	}

	if err := conn.SetReadBuffer(65535); err != nil {
		log.Warn(r.ctx, "Failed to set SSDP read buffer", err)
	}

	if err := r.joinInterfaces(conn, addr); err != nil {
		// Not fatal: the default-interface membership is in place.
		log.Warn(r.ctx, "Could not join multicast group on some interfaces", err)
	}

	r.ssdpConn = conn

	go r.listenSSDP()
	go r.periodicAnnounce()

	return nil
}

// joinInterfaces adds multicast group membership per active interface
// and sets the outgoing TTL. Per-interface failures are aggregated.
func (r *Router) joinInterfaces(conn *net.UDPConn, group *net.UDPAddr) error {
	p := ipv4.NewPacketConn(conn)
	if err := p.SetMulticastTTL(multicastTTL); err != nil {
		log.Debug(r.ctx, "Failed to set multicast TTL", err)
	}
	var result *multierror.Error
	for i := range r.interfaces {
		iface := r.interfaces[i]
		if err := p.JoinGroup(&iface, &net.UDPAddr{IP: group.IP}); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", iface.Name, err))
		}
	}
	return result.ErrorOrNil()
}

// listenSSDP handles incoming SSDP M-SEARCH requests.
func (r *Router) listenSSDP() {
	buf := make([]byte, 2048)

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		// Read deadline so the context is checked at least once a second.
		if err := r.ssdpConn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			continue
		}

		n, remoteAddr, err := r.ssdpConn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-r.ctx.Done():
				return
			default:
			}
			log.Debug(r.ctx, "Error reading SSDP packet", err)
			continue
		}

		msg := string(buf[:n])
		if firstLine(msg) == "M-SEARCH * HTTP/1.1" {
			r.handleMSearch(msg, remoteAddr)
		}
	}
}

// handleMSearch replies to SSDP discovery requests. Only datagrams with
// a proper MAN header are answered, and only for search targets we
// advertise; each reply is delayed by a uniform random amount within
// the window the client allowed.
func (r *Router) handleMSearch(msg string, remoteAddr *net.UDPAddr) {
	man := strings.Trim(extractHeader(msg, "MAN"), `"`)
	if man != "ssdp:discover" {
		return
	}
	st := extractHeader(msg, "ST")
	if st == "" {
		return
	}

	var respondTargets []string
	var matched string

	switch st {
	case ssdpAll:
		matched = "all"
		respondTargets = r.getAllServiceTypes()
	case "upnp:rootdevice":
		matched = "rootdevice"
		respondTargets = []string{"upnp:rootdevice"}
	case deviceType:
		matched = "device"
		respondTargets = []string{deviceType}
	case contentDirectoryType:
		matched = "contentdirectory"
		respondTargets = []string{contentDirectoryType}
	case connectionManagerType:
		matched = "connectionmanager"
		respondTargets = []string{connectionManagerType}
	case r.uuid:
		matched = "udn"
		respondTargets = []string{r.uuid}
	default:
		metrics.RecordSearch("ignored")
		return
	}
	metrics.RecordSearch(matched)

	window := replyWindow(extractHeader(msg, "MX"))
	log.Debug(r.ctx, "Responding to M-SEARCH", "st", st, "from", remoteAddr.String(), "window", window)

	for _, target := range respondTargets {
		delay := time.Duration(rand.Int63n(int64(window)))
		go func(target string) {
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(delay):
			}
			r.sendSearchResponse(target, remoteAddr)
		}(target)
	}
}

// replyWindow converts the MX header into the reply delay window. MX is
// clamped to [1,5]; garbled or missing values count as 1. The window
// never exceeds 3s so impatient clients still catch the reply.
func replyWindow(mx string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(mx))
	if err != nil || secs < mxMin {
		secs = mxMin
	}
	if secs > mxMax {
		secs = mxMax
	}
	if secs > maxReplyMX {
		secs = maxReplyMX
	}
	return time.Duration(secs) * time.Second
}

// buildSearchResponse renders one unicast M-SEARCH reply datagram.
func (r *Router) buildSearchResponse(st string) string {
	return fmt.Sprintf("HTTP/1.1 200 OK\r\n"+
		"CACHE-CONTROL: max-age=%d\r\n"+
		"DATE: %s\r\n"+
		"EXT:\r\n"+
		"LOCATION: %s\r\n"+
		"SERVER: %s\r\n"+
		"ST: %s\r\n"+
		"USN: %s\r\n"+
		"\r\n",
		cacheMaxAge,
		time.Now().UTC().Format(http.TimeFormat),
		r.getDeviceURL(),
		consts.ServerAgent(),
		st,
		r.getUSN(st),
	)
}

// sendSearchResponse sends one unicast M-SEARCH reply.
func (r *Router) sendSearchResponse(st string, remoteAddr *net.UDPAddr) {
	response := r.buildSearchResponse(st)

	conn, err := net.DialUDP("udp4", nil, remoteAddr)
	if err != nil {
		log.Debug(r.ctx, "Failed to dial for M-SEARCH response", err)
		return
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(response)); err != nil {
		log.Debug(r.ctx, "Failed to send M-SEARCH response", err)
	}
}

// announcePresence sends NOTIFY alive messages for all advertised
// targets.
func (r *Router) announcePresence() {
	for _, target := range r.getAllServiceTypes() {
		r.sendNotify(target, ssdpAlive)
	}
}

// sendByeBye sends NOTIFY byebye messages for all advertised targets.
func (r *Router) sendByeBye() {
	for _, target := range r.getAllServiceTypes() {
		r.sendNotify(target, ssdpByeBye)
	}
}

// periodicAnnounce re-announces at half the advertised max-age.
func (r *Router) periodicAnnounce() {
	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.announcePresence()
		}
	}
}

// buildNotify renders an SSDP NOTIFY datagram. Byebye messages stay
// minimal; alive messages carry the full advertisement.
func (r *Router) buildNotify(nt, nts string) string {
	if nts == ssdpByeBye {
		return fmt.Sprintf("NOTIFY * HTTP/1.1\r\n"+
			"HOST: %s\r\n"+
			"NT: %s\r\n"+
			"NTS: %s\r\n"+
			"USN: %s\r\n"+
			"\r\n",
			ssdpAddr,
			nt,
			nts,
			r.getUSN(nt),
		)
	}
	return fmt.Sprintf("NOTIFY * HTTP/1.1\r\n"+
		"HOST: %s\r\n"+
		"CACHE-CONTROL: max-age=%d\r\n"+
		"LOCATION: %s\r\n"+
		"NT: %s\r\n"+
		"NTS: %s\r\n"+
		"SERVER: %s\r\n"+
		"USN: %s\r\n"+
		"\r\n",
		ssdpAddr,
		cacheMaxAge,
		r.getDeviceURL(),
		nt,
		nts,
		consts.ServerAgent(),
		r.getUSN(nt),
	)
}

// sendNotify sends an SSDP NOTIFY message to the multicast group.
// Alive messages are repeated; byebye goes out once.
func (r *Router) sendNotify(nt, nts string) {
	msg := r.buildNotify(nt, nts)

	addr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		log.Debug(r.ctx, "Failed to resolve SSDP address for notify", err)
		return
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		log.Debug(r.ctx, "Failed to dial for NOTIFY", err)
		return
	}
	defer conn.Close()

	if err := ipv4.NewPacketConn(conn).SetMulticastTTL(multicastTTL); err != nil {
		log.Trace(r.ctx, "Failed to set NOTIFY multicast TTL", err)
	}

	repeats := aliveRepeats
	if nts == ssdpByeBye {
		repeats = 1
	}
	for i := 0; i < repeats; i++ {
		if i > 0 {
			time.Sleep(aliveSpacing)
		}
		if _, err := conn.Write([]byte(msg)); err != nil {
			log.Debug(r.ctx, "Failed to send NOTIFY", "nt", nt, "nts", nts, err)
		}
	}
}

// getAllServiceTypes returns every advertised notification target.
func (r *Router) getAllServiceTypes() []string {
	return []string{
		"upnp:rootdevice",
		r.uuid,
		deviceType,
		contentDirectoryType,
		connectionManagerType,
	}
}

// getUSN returns the Unique Service Name for a notification target.
func (r *Router) getUSN(st string) string {
	if st == r.uuid {
		return r.uuid
	}
	return fmt.Sprintf("%s::%s", r.uuid, st)
}

// getDeviceURL returns the advertised LOCATION of the description
// document.
func (r *Router) getDeviceURL() string {
	return r.baseURL() + "/description.xml"
}

// firstLine returns the request line of an SSDP datagram.
func firstLine(msg string) string {
	if i := strings.Index(msg, "\r\n"); i >= 0 {
		return msg[:i]
	}
	return strings.TrimRight(msg, "\r\n")
}

// extractHeader extracts a header value from an SSDP message,
// case-insensitive on the header name.
func extractHeader(msg, header string) string {
	headerPrefix := header + ":"
	for _, line := range strings.Split(msg, "\r\n") {
		if strings.HasPrefix(strings.ToUpper(line), strings.ToUpper(headerPrefix)) {
			return strings.TrimSpace(line[len(headerPrefix):])
		}
	}
	return ""
}

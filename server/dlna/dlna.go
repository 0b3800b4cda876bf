// Package dlna implements the DLNA/UPnP MediaServer protocol engine:
// SSDP discovery, device and service descriptions, ContentDirectory
// browsing over SOAP, and ranged media streaming.
package dlna

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rosschurchill/zeroconfdlna/conf"
	"github.com/rosschurchill/zeroconfdlna/core/index"
	"github.com/rosschurchill/zeroconfdlna/log"
)

const (
	// SSDP multicast address and port
	ssdpAddr = "239.255.255.250:1900"
	// UPnP device type for media server
	deviceType = "urn:schemas-upnp-org:device:MediaServer:1"
	// UPnP service types
	contentDirectoryType  = "urn:schemas-upnp-org:service:ContentDirectory:1"
	connectionManagerType = "urn:schemas-upnp-org:service:ConnectionManager:1"
)

// udnNamespace seeds the stable device UUID. Never change it, or every
// client will see a brand new server after an upgrade.
var udnNamespace = uuid.MustParse("3f8a6e2d-5c41-4b7e-9c6a-8d2f11bd4e0c")

func init() {
	chi.RegisterMethod("SUBSCRIBE")
	chi.RegisterMethod("UNSUBSCRIBE")
}

// Router handles all DLNA/UPnP requests for one served directory.
type Router struct {
	idx          *index.Index
	friendlyName string
	uuid         string
	bindIP       string
	httpPort     int
	interfaces   []net.Interface
	ssdpConn     *net.UDPConn
	mu           sync.RWMutex
	running      bool
	ctx          context.Context
	cancel       context.CancelFunc
}

// New creates a DLNA router serving the given index. Device identity is
// derived from the configuration and is stable across restarts.
func New(idx *index.Index) *Router {
	bindIP := conf.Server.Address
	if bindIP == "" {
		bindIP = getLocalIP()
	}
	return &Router{
		idx:          idx,
		friendlyName: conf.Server.FriendlyName,
		uuid:         generateUDN(idx.Root()),
		bindIP:       bindIP,
		httpPort:     conf.Server.Port,
	}
}

// Routes returns the chi router for all DLNA HTTP endpoints.
func (r *Router) Routes() chi.Router {
	router := chi.NewRouter()

	// Device description
	router.Get("/description.xml", r.handleDeviceDescription)

	// ContentDirectory service
	router.Get("/ContentDirectory.xml", r.handleContentDirectoryDescription)
	router.Post("/ContentDirectory/control", r.handleContentDirectoryControl)

	// ConnectionManager service
	router.Get("/ConnectionManager.xml", r.handleConnectionManagerDescription)
	router.Post("/ConnectionManager/control", r.handleConnectionManagerControl)

	// Media streaming. The title suffix after the id is advisory only.
	router.Get("/media/{id}", r.handleMedia)
	router.Head("/media/{id}", r.handleMedia)
	router.Get("/media/{id}/*", r.handleMedia)
	router.Head("/media/{id}/*", r.handleMedia)

	// Human-readable listing for debugging
	router.With(browsePageLimiter()).Get("/browse", r.handleBrowsePage)

	// GENA subscription stubs
	router.Method("SUBSCRIBE", "/events", http.HandlerFunc(r.handleSubscribe))
	router.Method("UNSUBSCRIBE", "/events", http.HandlerFunc(r.handleUnsubscribe))

	return router
}

// Start begins SSDP announcements and M-SEARCH handling.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	r.mu.Unlock()

	ifaces, err := getActiveInterfaces()
	if err != nil {
		return fmt.Errorf("failed to get network interfaces: %w", err)
	}
	r.interfaces = ifaces

	if err := r.startSSDP(); err != nil {
		return fmt.Errorf("failed to start SSDP: %w", err)
	}

	r.announcePresence()

	log.Info(r.ctx, "DLNA server started", "name", r.friendlyName, "uuid", r.uuid,
		"address", r.bindIP, "port", r.httpPort, "root", r.idx.Root())
	return nil
}

// Stop sends byebye notifications and closes the SSDP socket.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	r.sendByeBye()

	if r.cancel != nil {
		r.cancel()
	}
	if r.ssdpConn != nil {
		r.ssdpConn.Close()
	}

	r.running = false
	log.Info("DLNA server stopped")
}

// UDN returns the device's unique device name, "uuid:" prefix included.
func (r *Router) UDN() string { return r.uuid }

// generateUDN derives the device UUID from the hostname and the served
// path, so clients recognize the server across restarts without any
// state file.
func generateUDN(root string) string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	return "uuid:" + uuid.NewSHA1(udnNamespace, []byte(hostname+"\n"+root)).String()
}

// getActiveInterfaces returns network interfaces that are up, not
// loopback, and carry an IPv4 address.
func getActiveInterfaces() ([]net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var active []net.Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
					active = append(active, iface)
					break
				}
			}
		}
	}
	return active, nil
}

// getLocalIP returns the first non-loopback IPv4 address.
func getLocalIP() string {
	ifaces, err := getActiveInterfaces()
	if err != nil || len(ifaces) == 0 {
		return "127.0.0.1"
	}

	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
					return ipnet.IP.String()
				}
			}
		}
	}
	return "127.0.0.1"
}

// baseURL is the advertised address of this server. Resource URLs and
// the SSDP LOCATION header are built from the bind address, never from
// the request Host header, so every client sees the same URLs.
func (r *Router) baseURL() string {
	return fmt.Sprintf("http://%s:%d", r.bindIP, r.httpPort)
}

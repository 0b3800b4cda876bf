package consts

import (
	"fmt"
)

const (
	AppName = "zeroconfdlna"

	// ProductName is the user-visible product string, used in the device
	// description and in the SSDP/HTTP server identification headers.
	ProductName = "ZeroConfigDLNA"

	Manufacturer     = "Ross Churchill"
	ManufacturerURL  = "https://github.com/rosschurchill/zeroconfdlna"
	ModelName        = "ZeroConfigDLNA Media Server"
	ModelDescription = "Zero-configuration DLNA/UPnP home media server"

	DefaultPort = 8200
)

var (
	// Version can be overridden at build time:
	// go build -ldflags "-X github.com/rosschurchill/zeroconfdlna/consts.Version=v0.0.0"
	Version = "1.0.0"
)

// ServerAgent identifies this server in every HTTP response and SSDP
// datagram. The field order matters to some TVs.
func ServerAgent() string {
	return fmt.Sprintf("%s/%s UPnP/1.0 DLNA/1.50", ProductName, Version)
}

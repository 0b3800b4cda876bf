package dlna

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rosschurchill/zeroconfdlna/log"
)

// SOAP envelope structures

// SOAPEnvelope represents a SOAP envelope
type SOAPEnvelope struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Body    SOAPBody
}

// SOAPBody represents the SOAP body
type SOAPBody struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
	Content []byte   `xml:",innerxml"`
}

// UPnP error codes from the ContentDirectory and device architecture
// specifications.
const (
	upnpErrorInvalidAction     = 401
	upnpErrorInvalidArgs       = 402
	upnpErrorActionFailed      = 501
	upnpErrorNoSuchObject      = 701
	upnpErrorInvalidConnection = 706
	upnpErrorInvalidSort       = 709
	upnpErrorInvalidContainer  = 710
	upnpErrorCannotProcess     = 720
)

// upnpError carries a UPnP error code to the SOAP fault writer; client
// mistakes become faults with their mandated codes instead of 501s.
type upnpError struct {
	code int
	msg  string
}

func (e *upnpError) Error() string { return fmt.Sprintf("upnp error %d: %s", e.code, e.msg) }

func errInvalidArgs() error  { return &upnpError{code: upnpErrorInvalidArgs, msg: "Invalid Args"} }
func errNoSuchObject() error { return &upnpError{code: upnpErrorNoSuchObject, msg: "No such object"} }
func errNoSuchContainer() error {
	return &upnpError{code: upnpErrorInvalidContainer, msg: "No such container"}
}

// handleContentDirectoryControl dispatches SOAP requests for the
// ContentDirectory service. The action is selected by the SOAPACTION
// header.
func (r *Router) handleContentDirectoryControl(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		log.Info(ctx, "Failed to read SOAP request", err)
		r.writeSOAPFault(w, upnpErrorInvalidArgs, "Invalid Args")
		return
	}

	var envelope SOAPEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		log.Info(ctx, "Failed to parse SOAP envelope", err)
		r.writeSOAPFault(w, upnpErrorInvalidArgs, "Invalid Args")
		return
	}

	soapAction := strings.Trim(req.Header.Get("SOAPAction"), `"`)
	action := extractActionName(soapAction)

	log.Debug(ctx, "ContentDirectory request", "action", action)

	var response interface{}
	switch action {
	case "Browse":
		response, err = r.handleBrowse(ctx, envelope.Body.Content)
	case "GetSearchCapabilities":
		response, err = r.handleGetSearchCapabilities(ctx)
	case "GetSortCapabilities":
		response, err = r.handleGetSortCapabilities(ctx)
	case "GetSystemUpdateID":
		response, err = r.handleGetSystemUpdateID(ctx)
	default:
		log.Info(ctx, "Unknown ContentDirectory action", "action", action)
		r.writeSOAPFault(w, upnpErrorInvalidAction, "Invalid Action")
		return
	}

	if err != nil {
		r.writeSOAPError(ctx, w, action, err)
		return
	}
	r.writeSOAPResponse(w, response)
}

// handleConnectionManagerControl dispatches SOAP requests for the
// ConnectionManager service.
func (r *Router) handleConnectionManagerControl(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		log.Info(ctx, "Failed to read SOAP request", err)
		r.writeSOAPFault(w, upnpErrorInvalidArgs, "Invalid Args")
		return
	}

	var envelope SOAPEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		log.Info(ctx, "Failed to parse SOAP envelope", err)
		r.writeSOAPFault(w, upnpErrorInvalidArgs, "Invalid Args")
		return
	}

	soapAction := strings.Trim(req.Header.Get("SOAPAction"), `"`)
	action := extractActionName(soapAction)

	log.Debug(ctx, "ConnectionManager request", "action", action)

	var response interface{}
	switch action {
	case "GetProtocolInfo":
		response, err = r.handleGetProtocolInfo(ctx)
	case "GetCurrentConnectionIDs":
		response, err = r.handleGetCurrentConnectionIDs(ctx)
	case "GetCurrentConnectionInfo":
		response, err = r.handleGetCurrentConnectionInfo(ctx, envelope.Body.Content)
	default:
		log.Info(ctx, "Unknown ConnectionManager action", "action", action)
		r.writeSOAPFault(w, upnpErrorInvalidAction, "Invalid Action")
		return
	}

	if err != nil {
		r.writeSOAPError(ctx, w, action, err)
		return
	}
	r.writeSOAPResponse(w, response)
}

// writeSOAPError maps an action error to the right fault. Client
// mistakes are info noise; anything else is a real failure.
func (r *Router) writeSOAPError(ctx context.Context, w http.ResponseWriter, action string, err error) {
	var ue *upnpError
	if errors.As(err, &ue) {
		log.Info(ctx, "Request rejected", "action", action, "code", ue.code, "reason", ue.msg)
		r.writeSOAPFault(w, ue.code, ue.msg)
		return
	}
	log.Error(ctx, "Action failed", "action", action, err)
	r.writeSOAPFault(w, upnpErrorActionFailed, "Action Failed")
}

// writeSOAPResponse writes a successful SOAP response
func (r *Router) writeSOAPResponse(w http.ResponseWriter, result interface{}) {
	respBody, err := xml.Marshal(result)
	if err != nil {
		r.writeSOAPFault(w, upnpErrorActionFailed, "Failed to marshal response")
		return
	}

	envelope := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    %s
  </s:Body>
</s:Envelope>`, string(respBody))

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Header().Set("Ext", "")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(envelope))
}

// writeSOAPFault writes a SOAP fault carrying a UPnPError detail, at
// HTTP 500 as the UPnP architecture requires.
func (r *Router) writeSOAPFault(w http.ResponseWriter, code int, message string) {
	fault := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    <s:Fault>
      <faultcode>s:Client</faultcode>
      <faultstring>UPnPError</faultstring>
      <detail>
        <UPnPError xmlns="urn:schemas-upnp-org:control-1-0">
          <errorCode>%d</errorCode>
          <errorDescription>%s</errorDescription>
        </UPnPError>
      </detail>
    </s:Fault>
  </s:Body>
</s:Envelope>`, code, message)

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(fault))
}

// extractActionName extracts the action name from a SOAPAction header.
// The header format is "urn:schemas-upnp-org:service:ContentDirectory:1#Browse".
func extractActionName(soapAction string) string {
	if idx := strings.LastIndex(soapAction, "#"); idx >= 0 {
		return soapAction[idx+1:]
	}
	return soapAction
}

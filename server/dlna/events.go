package dlna

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/rosschurchill/zeroconfdlna/log"
)

// GENA subscription stubs. Some renderers, Samsung sets in particular,
// refuse to browse unless SUBSCRIBE succeeds. Subscriptions are
// acknowledged and forgotten, no event messages are ever delivered.

func (r *Router) handleSubscribe(w http.ResponseWriter, req *http.Request) {
	// A SID header marks a renewal, keep the id the client holds.
	sid := req.Header.Get("SID")
	if sid == "" {
		sid = "uuid:" + uuid.NewString()
	}
	log.Debug(req.Context(), "Event subscription", "sid", sid, "callback", req.Header.Get("CALLBACK"))
	w.Header().Set("SID", sid)
	w.Header().Set("TIMEOUT", "Second-1800")
	w.WriteHeader(http.StatusOK)
}

func (r *Router) handleUnsubscribe(w http.ResponseWriter, req *http.Request) {
	log.Debug(req.Context(), "Event unsubscription", "sid", req.Header.Get("SID"))
	w.WriteHeader(http.StatusOK)
}

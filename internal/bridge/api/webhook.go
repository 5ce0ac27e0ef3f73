package api

import (
	"log/slog"
	"net/http"
	"strings"

	types "github.com/sebas/voicebridge/api/types/v1"
	"github.com/sebas/voicebridge/internal/bridge/control"
	"github.com/sebas/voicebridge/internal/bridge/directory"
)

const humanAgentEnded = "your call with the human agent has ended"

// webhooks answers the control plane's HTTP application hooks for calls that
// were referred to a human queue: dial the queue, then close out politely.
type webhooks struct {
	directory  *directory.Directory
	dialAction string
}

func newWebhooks(dir *directory.Directory, callbackBase string) *webhooks {
	if dir == nil {
		dir = directory.Default()
	}
	action := PathWebhookDialAction
	if base := strings.TrimRight(callbackBase, "/"); base != "" {
		action = base + PathWebhookDialAction
	}
	return &webhooks{directory: dir, dialAction: action}
}

// handleCallHook dials the destination named by ?target_key, or the default
// human queue when no key is given.
func (h *webhooks) handleCallHook(w http.ResponseWriter, r *http.Request) {
	entry := directory.DefaultQueue()
	if key := r.URL.Query().Get("target_key"); key != "" {
		e, ok := h.directory.Resolve(key)
		if !ok {
			slog.Warn("[API] Call hook for unknown target", "target_key", key)
			writeJSON(w, http.StatusNotFound, types.ErrorResponse{Error: "Unknown target_key: " + key})
			return
		}
		entry = e
	}

	slog.Info("[API] Call hook dialing destination",
		"target_key", entry.Key,
		"destination", entry.Destination,
	)
	writeJSON(w, http.StatusOK, []control.Verb{
		control.Dial{
			ActionHook: h.dialAction,
			Target:     []control.Target{targetFor(entry)},
		},
	})
}

func (h *webhooks) handleDialAction(w http.ResponseWriter, r *http.Request) {
	slog.Debug("[API] Dial action received")
	writeJSON(w, http.StatusOK, []control.Verb{
		control.Say{Text: humanAgentEnded},
		control.Hangup{},
	})
}

func targetFor(e directory.Entry) control.Target {
	if e.Kind == directory.KindSIP {
		return control.Target{Type: "sip", SIPURI: e.Destination}
	}
	return control.Target{Type: "phone", Number: e.Destination}
}

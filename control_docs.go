package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// ControlDoc describes a single keyboard or mouse binding of the viewers.
type ControlDoc struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Shortcut    string `json:"shortcut,omitempty"`
	// Command names the host command the binding maps to, when it has one.
	Command string `json:"command,omitempty"`
}

// defaultControlDocs mirrors the bindings handled by tools/term_viewer and
// tools/window_viewer.
var defaultControlDocs = []ControlDoc{
	{
		ID:          "pause",
		Label:       "Pause",
		Description: "Freeze or resume the simulation. Particles keep their state while paused.",
		Shortcut:    "Keyboard P",
		Command:     "toggle",
	},
	{
		ID:          "mesh",
		Label:       "Show Mesh",
		Description: "Toggle drawing of the crater mesh behind the sparks.",
		Shortcut:    "Keyboard V",
	},
	{
		ID:          "reset-clock",
		Label:       "Reset Clock",
		Description: "Zero the simulated clock without touching particles.",
		Shortcut:    "Keyboard R",
		Command:     "reset",
	},
	{
		ID:          "quit",
		Label:       "Quit",
		Description: "Close the viewer.",
		Shortcut:    "Keyboard Q",
	},
	{
		ID:          "orbit",
		Label:       "Orbit Camera",
		Description: "Rotate the camera around the crater.",
		Shortcut:    "Left mouse drag, Arrow keys",
	},
	{
		ID:          "zoom",
		Label:       "Zoom",
		Description: "Move the camera closer to or further from the crater.",
		Shortcut:    "Mouse wheel, + / -",
	},
}

// registerControlDocEndpoints serves the binding documentation as JSON.
func registerControlDocEndpoints(mux *http.ServeMux) {
	mux.HandleFunc("/api/controls", func(w http.ResponseWriter, r *http.Request) {
		// Sort a copy; the package slice is shared across requests.
		docs := append([]ControlDoc(nil), defaultControlDocs...)
		sort.SliceStable(docs, func(i, j int) bool {
			if docs[i].Label == docs[j].Label {
				return strings.Compare(docs[i].ID, docs[j].ID) < 0
			}
			return strings.Compare(docs[i].Label, docs[j].Label) < 0
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(docs); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

package handlers

import "net/http"

// GetStream serves the newest matching events. Clients poll with offset=0 and merge
// by id, or page backwards with offset.
func (a *API) GetStream(w http.ResponseWriter, r *http.Request) {
	a.writeEvents(w, r, parseScope(r), "failed to load stream", DefaultLimit)
}

package mirror

import (
	"errors"
	"net/http"
	"strings"

	"notary/errs"

	log "github.com/sirupsen/logrus"
)

// ServeHTTP redirects "/<link>" to the canister of the link and "/" to the
// notary itself.
func (m *Mirror) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" {
		if m.cfg.NotaryURL == "" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, m.cfg.NotaryURL, http.StatusSeeOther)
		return
	}

	canisterID, err := m.Lookup(name)
	if errors.Is(err, errs.ErrNotFound) {
		log.Debugf("Mirror: no link %q", name)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Errorf("Mirror: lookup %q: %v", name, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, strings.ReplaceAll(m.cfg.RedirectTemplate, "{}", canisterID), http.StatusSeeOther)
}

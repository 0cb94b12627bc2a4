package identity

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// The fragment never reaches the server, so the page forwards it.
const callbackPage = `<!doctype html>
<html><head><meta charset="utf-8"><title>flashgen sign-in</title></head>
<body>
<p id="msg">Completing sign-in...</p>
<script>
(function () {
  var params = new URLSearchParams(window.location.search.substring(1));
  new URLSearchParams(window.location.hash.substring(1)).forEach(function (v, k) { params.set(k, v); });
  var msg = document.getElementById("msg");
  if (params.get("error")) {
    msg.textContent = "Sign-in failed: " + (params.get("error_description") || params.get("error"));
    return;
  }
  fetch("/auth/session", {method: "POST", body: params})
    .then(function (r) { return r.json().then(function (b) { return {ok: r.ok, body: b}; }); })
    .then(function (res) {
      msg.textContent = res.ok ? "Signed in. You can close this window." : "Sign-in failed: " + res.body.error;
    })
    .catch(function (e) { msg.textContent = "Sign-in failed: " + e; });
})();
</script>
</body></html>`

// Mount registers the callback routes on r.
func (p *Loopback) Mount(r chi.Router) {
	r.Get("/auth/callback", p.handleCallback)
	r.Post("/auth/session", p.handleSession)
}

func (p *Loopback) handleCallback(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(callbackPage))
}

func (p *Loopback) handleSession(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid form"})
		return
	}
	expiresIn, _ := strconv.Atoi(r.PostForm.Get("expires_in"))
	tokens := TokenSet{
		AccessToken:   r.PostForm.Get("access_token"),
		RefreshToken:  r.PostForm.Get("refresh_token"),
		ProviderToken: r.PostForm.Get("provider_token"),
		ExpiresIn:     expiresIn,
		State:         r.PostForm.Get("state"),
	}
	if !p.consumeState(tokens.State) {
		p.log.Warn("rejected sign-in callback", "err", ErrUnexpectedCallback)
		respondJSON(w, http.StatusForbidden, map[string]string{"error": ErrUnexpectedCallback.Error()})
		return
	}

	s, err := p.CompleteSignIn(r.Context(), tokens)
	if err != nil {
		p.log.Warn("complete sign-in", "err", err)
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "identity_id": s.IdentityID})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/flemzord/ingestd/internal/episode"
	"github.com/go-chi/chi/v5"
)

// handleWebhook turns a signed POST from an external source into an
// episode. JSON payloads become structured-data episodes, anything else
// text. The episode name comes from X-Episode-Name when present.
func (g *Gateway) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source := chi.URLParam(r, "source")
		cfg, ok := g.config.Webhooks[source]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown webhook source")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.config.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}

		if cfg.Secret != "" && !validateHMAC(body, r.Header.Get("X-Signature-256"), cfg.Secret) {
			g.logger.Warn("gateway: webhook signature rejected", "source", source, "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}

		res, err := g.svc.Submit(r.Context(), webhookJob(source, cfg, r, body))
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}

func webhookJob(source string, cfg WebhookSourceCfg, r *http.Request, body []byte) episode.Job {
	kind := episode.SourceText
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && strings.HasSuffix(mt, "json") {
		kind = episode.SourceStructured
	}
	name := strings.TrimSpace(r.Header.Get("X-Episode-Name"))
	if name == "" {
		name = fmt.Sprintf("%s webhook", source)
	}
	desc := cfg.Description
	if desc == "" {
		desc = "webhook:" + source
	}
	return episode.Job{
		Name:              name,
		Body:              episode.SingleBody(string(body)),
		Source:            kind,
		SourceDescription: desc,
		Group:             cfg.Group,
		Identity:          r.Header.Get("X-Episode-Id"),
	}
}

// validateHMAC checks an HMAC-SHA256 "sha256=<hex>" signature in constant time.
func validateHMAC(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

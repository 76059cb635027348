package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sonicgate/sonicgate/pkg/gateway/config"
	"github.com/sonicgate/sonicgate/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		Draining bool     `json:"draining"`
		ModelID  string   `json:"model_id"`
		Region   string   `json:"region"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if strings.TrimSpace(h.Config.Region) == "" {
		issues = append(issues, "region must not be empty")
	}
	if strings.TrimSpace(h.Config.ModelID) == "" {
		issues = append(issues, "model_id must not be empty")
	}
	if strings.TrimSpace(h.Config.SystemPrompt) == "" {
		issues = append(issues, "system prompt must not be empty")
	}
	if h.Config.LiveMaxJSONMessageBytes <= 0 {
		issues = append(issues, "live json message limit must be > 0")
	}
	if h.Config.LiveWSWriteTimeout <= 0 || h.Config.LiveWSPingInterval <= 0 {
		issues = append(issues, "live ws timeouts must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	draining := h.Lifecycle.IsDraining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:       ok,
		Draining: draining,
		ModelID:  h.Config.ModelID,
		Region:   h.Config.Region,
		Issues:   issues,
	})
}

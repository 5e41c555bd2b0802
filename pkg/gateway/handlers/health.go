package handlers

import (
	"net/http"

	"github.com/vango-go/vai-switchboard/pkg/agents"
	"github.com/vango-go/vai-switchboard/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config
	Roster *agents.Roster
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK          bool     `json:"ok"`
		Agents      []string `json:"agents"`
		SingleAgent bool     `json:"single_agent"`
		Issues      []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	var names []string
	singleAgent := false
	if h.Roster == nil || len(h.Roster.Agents()) == 0 {
		issues = append(issues, "no agents configured")
	} else {
		names = h.Roster.Names()
		singleAgent = h.Roster.SingleAgent
	}
	if h.Config.OpenAIAPIKey == "" {
		issues = append(issues, "missing upstream api key")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}
	if h.Config.LiveWSWriteTimeout <= 0 || h.Config.LiveWSPingInterval <= 0 {
		issues = append(issues, "live websocket timeouts must be > 0")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, readyResp{
		OK:          ok,
		Agents:      names,
		SingleAgent: singleAgent,
		Issues:      issues,
	})
}

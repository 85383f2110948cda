// Package api handlers for the configuration endpoints.
package api

import (
	"net/http"

	"github.com/finsageai/finsage/internal/config"
)

// ConfigResponse is the payload returned by GET /api/v1/config.
// Credentials are masked before leaving the process.
type ConfigResponse struct {
	Config config.Config `json:"config"`
}

// handleGetConfig returns the current (running) configuration with
// every API key and secret masked.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    ConfigResponse{Config: redactConfig(s.cfg)},
	})
}

// handleGetConfigKeys returns the status of all sensitive API keys.
func (s *Server) handleGetConfigKeys(w http.ResponseWriter, r *http.Request) {
	keys := config.CheckAPIKeys(s.cfg)
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    keys,
	})
}

// redactConfig copies the config with credentials masked.
func redactConfig(cfg *config.Config) config.Config {
	out := *cfg
	out.AI.OpenAIKey = mask(out.AI.OpenAIKey)
	out.AI.AnthropicKey = mask(out.AI.AnthropicKey)
	out.Broker.Alpaca.APIKey = mask(out.Broker.Alpaca.APIKey)
	out.Broker.Alpaca.APISecret = mask(out.Broker.Alpaca.APISecret)
	return out
}

func mask(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:3] + "..." + key[len(key)-3:]
}

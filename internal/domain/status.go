package domain

// ServiceState is the reachability of the inference service.
type ServiceState string

const (
	// ServiceRunning means /api/tags answered 200.
	ServiceRunning ServiceState = "running"
	// ServiceNotRunning means the probe failed or returned another status.
	ServiceNotRunning ServiceState = "not_running"
)

// ServiceStatus is the /status payload. It is recomputed on every query.
// Gateway is serialized as "flask_app", the key browser clients read.
type ServiceStatus struct {
	Gateway         string       `json:"flask_app"`
	Ollama          ServiceState `json:"ollama_service"`
	StatusInfo      any          `json:"status_info"`
	OllamaVersion   string       `json:"ollama_version"`
	AvailableModels []string     `json:"available_models"`
}

package types

import "time"

// DeviceStatus is the reported state of the edge device.
type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
	StatusBusy    DeviceStatus = "busy"
)

// Telemetry is one sample of device health.
type Telemetry struct {
	GPUUsage  float64      `json:"gpu_usage"`
	CPUUsage  float64      `json:"cpu_usage"`
	RAMUsage  float64      `json:"ram_usage"` // GB
	Temp      float64      `json:"temp"`      // °C
	FPS       float64      `json:"fps"`
	Status    DeviceStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
}

// TelemetryPoint is the reduced sample kept in the throughput history.
type TelemetryPoint struct {
	Time time.Time `json:"time"`
	GPU  float64   `json:"gpu"`
	FPS  float64   `json:"fps"`
}

// SceneInsight is the natural-language interpretation of a captured frame.
type SceneInsight struct {
	Summary         string    `json:"summary"`
	Anomalies       []string  `json:"anomalies"`
	Recommendations string    `json:"recommendations"`
	Degraded        bool      `json:"degraded"`
	RequestID       string    `json:"request_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

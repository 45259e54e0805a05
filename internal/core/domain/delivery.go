package domain

import "time"

type DeliveryRequest struct {
	SourcePath  string
	SidecarPath string
	Route       string
	Meta        RoutingMeta
	Checksum    string
}

type DeliveryResult struct {
	Applied     bool        `json:"applied"`
	Destination string      `json:"destination"`
	SidecarPath string      `json:"sidecar_path,omitempty"`
	MetaPath    string      `json:"meta_path"`
	Package     *PackageRef `json:"package,omitempty"`
	PackageErr  string      `json:"package_error,omitempty"`
}

// BatchEvent is published after a batch finishes.
type BatchEvent struct {
	BatchID     string      `json:"batch_id"`
	Mode        Mode        `json:"mode"`
	Counts      BatchCounts `json:"counts"`
	BatchLog    *string     `json:"batch_log"`
	Degraded    bool        `json:"degraded"`
	CompletedAt time.Time   `json:"completed_at"`
}

// ProcessRequest asks a worker to run one batch.
type ProcessRequest struct {
	Mode        Mode      `json:"mode"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// InboxFile is one candidate document found in the inbox.
type InboxFile struct {
	Path       string
	ModifiedAt time.Time
	Size       int64
}

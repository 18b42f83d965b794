package domain

// DownloadStatus is the state of a model download.
type DownloadStatus string

const (
	DownloadStarting    DownloadStatus = "starting"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadError       DownloadStatus = "error"
	DownloadCancelled   DownloadStatus = "cancelled"
)

// Terminal reports whether no further progress frames are expected.
func (s DownloadStatus) Terminal() bool {
	return s == DownloadCompleted || s == DownloadError || s == DownloadCancelled
}

// DownloadProgress tracks one in-flight model download, keyed by model name.
type DownloadProgress struct {
	Model           string         `json:"model"`
	Status          DownloadStatus `json:"status"`
	Percentage      *float64       `json:"percentage,omitempty"` // [0, 100]
	BytesDownloaded *int64         `json:"bytes_downloaded,omitempty"`
	TotalBytes      *int64         `json:"total_bytes,omitempty"`
	Phase           string         `json:"phase,omitempty"`
	Message         string         `json:"message,omitempty"`
}

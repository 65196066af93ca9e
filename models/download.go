package models

import "time"

// DownloadedFile descrive un file presente nella cartella dei download
type DownloadedFile struct {
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	IsVoice    bool      `json:"isVoice"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

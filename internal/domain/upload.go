package domain

import (
	"time"
)

// Upload is a parsed activity log held until the next analysis.
type Upload struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Events    []Event   `json:"events"`

	// Users lists every user id seen in the source, including users whose
	// rows were all dropped, so the analysis can report them as excluded.
	Users []string `json:"users"`

	// Columns are the normalised header names of the source.
	Columns []string `json:"columns"`

	RowCount             int `json:"rowCount"`
	DroppedRows          int `json:"droppedRows"`
	DefaultedTimestamps  int `json:"defaultedTimestamps"`
	DefaultedLoginStatus int `json:"defaultedLoginStatus"`
}

// UploadResponse is the API response after an upload is accepted.
type UploadResponse struct {
	UploadID             string   `json:"uploadId"`
	Filename             string   `json:"filename,omitempty"`
	Events               int      `json:"events"`
	Users                int      `json:"users"`
	DroppedRows          int      `json:"droppedRows"`
	DefaultedTimestamps  int      `json:"defaultedTimestamps"`
	DefaultedLoginStatus int      `json:"defaultedLoginStatus"`
	Columns              []string `json:"columns"`
}

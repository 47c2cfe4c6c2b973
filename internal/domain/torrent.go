package domain

type TorrentID string

type TorrentSource struct {
	Magnet  string `json:"magnet,omitempty"`
	Torrent string `json:"torrent,omitempty"`
}

// TorrentState summarises an open torrent and its files.
type TorrentState struct {
	ID         TorrentID   `json:"id"`
	Name       string      `json:"name"`
	Ready      bool        `json:"ready"`
	NumPieces  int         `json:"numPieces,omitempty"`
	TotalBytes int64       `json:"totalBytes"`
	DoneBytes  int64       `json:"doneBytes"`
	Files      []FileState `json:"files,omitempty"`

	DownloadSpeed int64 `json:"downloadSpeed"`
	UploadSpeed   int64 `json:"uploadSpeed"`
}

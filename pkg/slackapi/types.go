package slackapi

// Message is one chat message as exposed to the rest of the daemon.
// Transient: fetched on demand, never persisted.
type Message struct {
	Timestamp string     `json:"timestamp"`
	UserID    string     `json:"user_id"`
	UserName  string     `json:"user_name"`
	Text      string     `json:"text"`
	Channel   string     `json:"channel"`
	Reactions []Reaction `json:"reactions"`
	Files     []FileInfo `json:"files"`
}

// Reaction is one emoji with the set of users who applied it.
type Reaction struct {
	Name  string   `json:"name"`
	Users []string `json:"users"`
}

type FileInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Title    string `json:"title,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	Size     int    `json:"size,omitempty"`
	URL      string `json:"url,omitempty"`
	Created  int64  `json:"created,omitempty"`
	User     string `json:"user,omitempty"`
}

type ChannelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsPublic bool   `json:"is_public"`
}

type SendResult struct {
	Timestamp string `json:"timestamp"`
	Channel   string `json:"channel"`
}

type UploadResult struct {
	FileID string     `json:"file_id"`
	Files  []FileInfo `json:"files"`
}

type DownloadResult struct {
	Filename string `json:"filename"`
	Content  string `json:"content"` // base64
	Mimetype string `json:"mimetype"`
}

type Identity struct {
	UserID string `json:"user_id"`
	BotID  string `json:"bot_id"`
}

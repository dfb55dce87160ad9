package docstore

import (
	"fmt"
	"path"

	"github.com/roach88/postbox/internal/message"
)

// Layout maps logical documents to repository paths.
type Layout struct {
	DataDir   string
	StaticDir string
}

// DefaultLayout is data/ and static/ at the repository root.
var DefaultLayout = Layout{DataDir: "data", StaticDir: "static"}

// CollectionPath is where an active collection is stored.
func (l Layout) CollectionPath(c message.Collection) string {
	return path.Join(l.DataDir, fmt.Sprintf("%s-messages.json", c))
}

// BatchPath is where the named archive batch is stored.
func (l Layout) BatchPath(name string) string {
	return path.Join(l.DataDir, "archive", name+".json")
}

// ArchiveIndexPath lists every archived message by batch.
func (l Layout) ArchiveIndexPath() string {
	return path.Join(l.DataDir, "archive", "index.json")
}

// IntentsPath is the transition intent log.
func (l Layout) IntentsPath() string {
	return path.Join(l.DataDir, "intents.json")
}

// CursorPath holds the last consumed upstream update id.
func (l Layout) CursorPath() string {
	return path.Join(l.DataDir, "last-update-id.json")
}

// ImagePath is where image bytes for a message are stored.
func (l Layout) ImagePath(messageID, file string) string {
	return path.Join(l.StaticDir, "images", messageID, file)
}

// PublicImagePath is the site-relative URL of an image stored at
// ImagePath: the static prefix is served from the site root.
func (l Layout) PublicImagePath(messageID, file string) string {
	return path.Join("/images", messageID, file)
}

// Package artifact writes one text file per alerting notification.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/linnemanlabs/sentra/internal/disposition"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600
)

// Notifier writes alerts to dir as alert_<ip>.txt. A repeated IP overwrites
// its earlier file.
type Notifier struct {
	dir string
}

// New creates a Notifier rooted at dir. If dir is empty, Send is a no-op.
func New(dir string) *Notifier {
	return &Notifier{dir: dir}
}

// Path returns the file an alert for n would be written to.
func (n *Notifier) Path(a disposition.Alert) string {
	return filepath.Join(n.dir, "alert_"+a.Notification.FileKey()+".txt")
}

// Send writes the rendered notification. The directory is created on demand.
func (n *Notifier) Send(_ context.Context, a disposition.Alert) error {
	if n.dir == "" {
		return nil
	}
	if err := os.MkdirAll(n.dir, dirPerm); err != nil {
		return fmt.Errorf("artifact: create dir: %w", err)
	}
	path := n.Path(a)
	if err := os.WriteFile(path, []byte(a.Notification.Render()), filePerm); err != nil {
		return fmt.Errorf("artifact: write %s: %w", path, err)
	}
	return nil
}

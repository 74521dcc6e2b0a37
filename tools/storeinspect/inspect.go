// Package storeinspect renders a durable sequencer store's contents for
// operator diagnostics, opening the store read-side and walking its
// events, watermarks and members.
package storeinspect

import (
	"context"

	"github.com/ledgerfabric/sequencer/internal/model"
	"github.com/ledgerfabric/sequencer/internal/store/filestore"
)

// Bundle is the full readable contents of a store directory.
type Bundle struct {
	Events     []model.Event                   `json:"events"`
	Watermarks map[int]model.Watermark         `json:"watermarks"`
	Members    map[model.Member]model.MemberID `json:"members"`
}

// Load opens the store at dir, reads everything back, and closes it.
// It never mutates the store: it exists purely for inspection.
func Load(dir string) (Bundle, error) {
	fs, err := filestore.Open(dir)
	if err != nil {
		return Bundle{}, err
	}
	defer fs.Close()

	events, err := fs.ReadEvents(context.Background(), 0, 0)
	if err != nil {
		return Bundle{}, err
	}

	return Bundle{
		Events:     events,
		Watermarks: fs.Watermarks(),
		Members:    fs.Members(),
	}, nil
}

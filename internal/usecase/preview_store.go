package usecase

import (
	"bytes"
	"image/jpeg"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"shopchat/internal/domain/entity"
	"shopchat/pkg/logger"
)

const previewWidth = 320

// PreviewStore holds locally generated thumbnails for optimistic media
// messages, keyed by an opaque ref carried on the message. Entries live only
// as long as the optimistic entry that references them.
type PreviewStore struct {
	mu       sync.Mutex
	previews map[string][]byte
}

func NewPreviewStore() *PreviewStore {
	return &PreviewStore{previews: make(map[string][]byte)}
}

// Put generates and stores a thumbnail, returning its ref. Videos and images
// that fail to decode get no preview; the surface falls back to a placeholder.
func (ps *PreviewStore) Put(data []byte, mediaType string) string {
	if mediaType != entity.MediaTypeImage {
		return ""
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		logger.Debug("Preview decode failed: %v", err)
		return ""
	}

	thumb := imaging.Resize(img, previewWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 80}); err != nil {
		logger.Debug("Preview encode failed: %v", err)
		return ""
	}

	ref := uuid.New().String()
	ps.mu.Lock()
	ps.previews[ref] = buf.Bytes()
	ps.mu.Unlock()
	return ref
}

// Get returns the thumbnail bytes for a ref.
func (ps *PreviewStore) Get(ref string) ([]byte, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	data, ok := ps.previews[ref]
	return data, ok
}

// Release discards a thumbnail once its message resolved or rolled back.
func (ps *PreviewStore) Release(ref string) {
	if ref == "" {
		return
	}
	ps.mu.Lock()
	delete(ps.previews, ref)
	ps.mu.Unlock()
}

package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"shopchat/internal/domain/entity"
	"shopchat/internal/domain/service"
	"shopchat/pkg/errors"
)

// MediaFile is a file picked by the user for sending.
type MediaFile struct {
	Name string
	Data []byte
}

var allowedMediaTypes = map[string]string{
	"image/jpeg":      entity.MediaTypeImage,
	"image/png":       entity.MediaTypeImage,
	"image/gif":       entity.MediaTypeImage,
	"image/webp":      entity.MediaTypeImage,
	"video/mp4":       entity.MediaTypeVideo,
	"video/quicktime": entity.MediaTypeVideo,
	"video/webm":      entity.MediaTypeVideo,
}

// MediaTransferClient sends media messages over the persistent connection.
// Validation happens before any bytes move; the optimistic entry carries a
// local thumbnail while the two-phase upload-then-send runs.
type MediaTransferClient struct {
	reconciler    *MessageReconciler
	channel       service.ChatChannel
	previews      *PreviewStore
	maxUploadSize int64
	uploadTimeout time.Duration
}

func NewMediaTransferClient(reconciler *MessageReconciler, channel service.ChatChannel, previews *PreviewStore, maxUploadSize int64, uploadTimeout time.Duration) *MediaTransferClient {
	return &MediaTransferClient{
		reconciler:    reconciler,
		channel:       channel,
		previews:      previews,
		maxUploadSize: maxUploadSize,
		uploadTimeout: uploadTimeout,
	}
}

// SendMedia validates, uploads, and sends a media message. The optimistic
// entry appears before the upload starts and is resolved or removed
// atomically with the outcome: a failure at any stage leaves no partial
// message behind.
func (uc *MediaTransferClient) SendMedia(ctx context.Context, conversationID string, file MediaFile, caption string) (*entity.Message, error) {
	if int64(len(file.Data)) > uc.maxUploadSize {
		return nil, errors.FileTooLarge(fmt.Sprintf("file exceeds the %d MB limit", uc.maxUploadSize/(1<<20)))
	}

	detected := mimetype.Detect(file.Data)
	mediaType, ok := allowedMediaTypes[normalizeMime(detected.String())]
	if !ok {
		return nil, errors.UnsupportedMedia(fmt.Sprintf("media type %s is not supported", detected.String()))
	}

	previewRef := uc.previews.Put(file.Data, mediaType)
	optimistic := uc.reconciler.insertOptimistic(conversationID, caption, &entity.Media{
		MediaType:    mediaType,
		Size:         int64(len(file.Data)),
		OriginalName: file.Name,
		PreviewRef:   previewRef,
	})

	sendCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, uc.uploadTimeout)
		defer cancel()
	}

	descriptor, err := uc.channel.UploadMedia(sendCtx, file.Data, file.Name, detected.String(), conversationID)
	if err != nil {
		uc.reconciler.rollback(conversationID, optimistic.Nonce)
		uc.previews.Release(previewRef)
		return nil, errors.UploadFailed("media upload failed", err)
	}

	confirmed, err := uc.channel.SendMessage(sendCtx, conversationID, caption, descriptor, optimistic.Nonce)
	if err != nil {
		uc.reconciler.rollback(conversationID, optimistic.Nonce)
		uc.previews.Release(previewRef)
		return nil, errors.SendFailed("media message was not delivered", err)
	}

	uc.reconciler.confirm(conversationID, optimistic.Nonce, *confirmed)
	uc.previews.Release(previewRef)
	return confirmed, nil
}

// normalizeMime strips parameters like charset from a detected mime string.
func normalizeMime(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.TrimSpace(strings.ToLower(mime))
}

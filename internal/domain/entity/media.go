package entity

const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
)

type Media struct {
	MediaType    string `json:"media_type"` // "image", "video"
	Size         int64  `json:"size"`
	OriginalName string `json:"original_name"`
	URL          string `json:"url,omitempty"` // Populated only after a successful upload

	// PreviewRef is a transient local reference shown while the upload is in
	// flight. It must be released once the optimistic entry resolves.
	PreviewRef string `json:"preview_ref,omitempty"`
}

// MediaDescriptor is the server-side handle for an uploaded file. A message
// never references media until its descriptor exists.
type MediaDescriptor struct {
	URL       string `json:"url"`
	Size      int64  `json:"size"`
	MediaType string `json:"media_type"`
	MimeType  string `json:"mime_type,omitempty"`
}

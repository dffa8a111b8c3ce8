package models

// ItemStatus is the upload queue state of one item.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemUploading ItemStatus = "uploading"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
)

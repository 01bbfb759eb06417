package domain

// The ordinals below are persisted as small integers and referenced by the
// recovery SQL and by external reporting. Never renumber them.

// EnqueueStatus tracks a Claim's progress towards the backend queue.
type EnqueueStatus int

const (
	EnqueueNotSent  EnqueueStatus = 0
	EnqueueInFlight EnqueueStatus = 1
	EnqueueEnqueued EnqueueStatus = 2
	EnqueueFailed   EnqueueStatus = 3
)

// String returns a human-readable representation of the status.
func (s EnqueueStatus) String() string {
	switch s {
	case EnqueueNotSent:
		return "NotSent"
	case EnqueueInFlight:
		return "InFlight"
	case EnqueueEnqueued:
		return "Enqueued"
	case EnqueueFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is a defined EnqueueStatus.
func (s EnqueueStatus) Valid() bool {
	return s >= EnqueueNotSent && s <= EnqueueFailed
}

// CompletionStatus tracks whether the backend finished processing a Claim.
type CompletionStatus int

const (
	CompletionUnknown   CompletionStatus = 0
	CompletionCompleted CompletionStatus = 1
)

// String returns a human-readable representation of the status.
func (s CompletionStatus) String() string {
	switch s {
	case CompletionUnknown:
		return "Unknown"
	case CompletionCompleted:
		return "Completed"
	default:
		return "Invalid"
	}
}

// Valid reports whether s is a defined CompletionStatus.
func (s CompletionStatus) Valid() bool {
	return s == CompletionUnknown || s == CompletionCompleted
}

// BatchStatus is the lifecycle of one extraction window.
type BatchStatus int

const (
	BatchDraft     BatchStatus = 0
	BatchReady     BatchStatus = 1
	BatchSending   BatchStatus = 2
	BatchEnqueued  BatchStatus = 3
	BatchHasResume BatchStatus = 4
	BatchCompleted BatchStatus = 5
	BatchFailed    BatchStatus = 6
)

// String returns a human-readable representation of the status.
func (s BatchStatus) String() string {
	switch s {
	case BatchDraft:
		return "Draft"
	case BatchReady:
		return "Ready"
	case BatchSending:
		return "Sending"
	case BatchEnqueued:
		return "Enqueued"
	case BatchHasResume:
		return "HasResume"
	case BatchCompleted:
		return "Completed"
	case BatchFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is a defined BatchStatus.
func (s BatchStatus) Valid() bool {
	return s >= BatchDraft && s <= BatchFailed
}

// Terminal reports whether no further status change is allowed.
// Terminal batches still accept progress and error annotations.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// MappingStatus is the lifecycle of a provider code-value translation.
type MappingStatus int

const (
	MappingMissing    MappingStatus = 0
	MappingPosted     MappingStatus = 1
	MappingApproved   MappingStatus = 2
	MappingPostFailed MappingStatus = 3
)

// String returns a human-readable representation of the status.
func (s MappingStatus) String() string {
	switch s {
	case MappingMissing:
		return "Missing"
	case MappingPosted:
		return "Posted"
	case MappingApproved:
		return "Approved"
	case MappingPostFailed:
		return "PostFailed"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is a defined MappingStatus.
func (s MappingStatus) Valid() bool {
	return s >= MappingMissing && s <= MappingPostFailed
}

// DispatchType says why a Dispatch was created.
type DispatchType int

const (
	DispatchNormalSend        DispatchType = 0
	DispatchRetrySend         DispatchType = 1
	DispatchRequeueIncomplete DispatchType = 2
)

// String returns a human-readable representation of the type.
func (t DispatchType) String() string {
	switch t {
	case DispatchNormalSend:
		return "NormalSend"
	case DispatchRetrySend:
		return "RetrySend"
	case DispatchRequeueIncomplete:
		return "RequeueIncomplete"
	default:
		return "Unknown"
	}
}

// Valid reports whether t is a defined DispatchType.
func (t DispatchType) Valid() bool {
	return t >= DispatchNormalSend && t <= DispatchRequeueIncomplete
}

// DispatchStatus is the lifecycle of one outbound send attempt.
type DispatchStatus int

const (
	DispatchReady              DispatchStatus = 0
	DispatchInFlight           DispatchStatus = 1
	DispatchSucceeded          DispatchStatus = 2
	DispatchFailed             DispatchStatus = 3
	DispatchPartiallySucceeded DispatchStatus = 4
)

// String returns a human-readable representation of the status.
func (s DispatchStatus) String() string {
	switch s {
	case DispatchReady:
		return "Ready"
	case DispatchInFlight:
		return "InFlight"
	case DispatchSucceeded:
		return "Succeeded"
	case DispatchFailed:
		return "Failed"
	case DispatchPartiallySucceeded:
		return "PartiallySucceeded"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is a defined DispatchStatus.
func (s DispatchStatus) Valid() bool {
	return s >= DispatchReady && s <= DispatchPartiallySucceeded
}

// ItemResult is one Claim's outcome within a Dispatch.
type ItemResult int

const (
	ItemUnknown ItemResult = 0
	ItemSuccess ItemResult = 1
	ItemFail    ItemResult = 2
)

// String returns a human-readable representation of the result.
func (r ItemResult) String() string {
	switch r {
	case ItemUnknown:
		return "Unknown"
	case ItemSuccess:
		return "Success"
	case ItemFail:
		return "Fail"
	default:
		return "Invalid"
	}
}

// Valid reports whether r is a defined ItemResult.
func (r ItemResult) Valid() bool {
	return r >= ItemUnknown && r <= ItemFail
}

// UploadStatus is the lifecycle of an Attachment upload.
type UploadStatus int

const (
	UploadNotStaged UploadStatus = 0
	UploadStaged    UploadStatus = 1
	UploadUploading UploadStatus = 2
	UploadUploaded  UploadStatus = 3
	UploadFailed    UploadStatus = 4
)

// String returns a human-readable representation of the status.
func (s UploadStatus) String() string {
	switch s {
	case UploadNotStaged:
		return "NotStaged"
	case UploadStaged:
		return "Staged"
	case UploadUploading:
		return "Uploading"
	case UploadUploaded:
		return "Uploaded"
	case UploadFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is a defined UploadStatus.
func (s UploadStatus) Valid() bool {
	return s >= UploadNotStaged && s <= UploadFailed
}

// AttachmentSourceType says where an Attachment's content lives.
type AttachmentSourceType int

const (
	SourceFilePath           AttachmentSourceType = 0
	SourceRawBytesInLocation AttachmentSourceType = 1
	SourceBase64InAttachBit  AttachmentSourceType = 2
)

// String returns a human-readable representation of the source type.
func (t AttachmentSourceType) String() string {
	switch t {
	case SourceFilePath:
		return "FilePath"
	case SourceRawBytesInLocation:
		return "RawBytesInLocation"
	case SourceBase64InAttachBit:
		return "Base64InAttachBit"
	default:
		return "Unknown"
	}
}

// Valid reports whether t is a defined AttachmentSourceType.
func (t AttachmentSourceType) Valid() bool {
	return t >= SourceFilePath && t <= SourceBase64InAttachBit
}

// DiscoverySource says how a missing domain mapping was observed.
type DiscoverySource int

const (
	DiscoveredByAPI     DiscoverySource = 0
	DiscoveredByScanner DiscoverySource = 1
)

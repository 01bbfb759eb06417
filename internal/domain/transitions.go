package domain

// Legal successor tables. Components that perform a transition consult these;
// the vocabulary itself carries no behavior beyond them.

var enqueueSuccessors = map[EnqueueStatus][]EnqueueStatus{
	EnqueueNotSent:  {EnqueueInFlight},
	EnqueueInFlight: {EnqueueNotSent, EnqueueEnqueued, EnqueueFailed},
	EnqueueEnqueued: {EnqueueInFlight},
	EnqueueFailed:   {EnqueueInFlight, EnqueueFailed},
}

var batchSuccessors = map[BatchStatus][]BatchStatus{
	BatchDraft:     {BatchReady, BatchFailed},
	BatchReady:     {BatchSending, BatchFailed},
	BatchSending:   {BatchEnqueued, BatchFailed},
	BatchEnqueued:  {BatchHasResume, BatchCompleted, BatchFailed},
	BatchHasResume: {BatchSending, BatchEnqueued, BatchCompleted, BatchFailed},
}

var dispatchSuccessors = map[DispatchStatus][]DispatchStatus{
	DispatchReady:    {DispatchInFlight, DispatchFailed},
	DispatchInFlight: {DispatchSucceeded, DispatchFailed, DispatchPartiallySucceeded},
}

var uploadSuccessors = map[UploadStatus][]UploadStatus{
	UploadNotStaged: {UploadStaged},
	UploadStaged:    {UploadUploading, UploadFailed},
	UploadUploading: {UploadUploaded, UploadFailed},
	UploadFailed:    {UploadUploading, UploadStaged, UploadFailed},
}

var mappingSuccessors = map[MappingStatus][]MappingStatus{
	MappingMissing:    {MappingPosted, MappingPostFailed, MappingApproved},
	MappingPosted:     {MappingApproved, MappingPostFailed},
	MappingPostFailed: {MappingPosted, MappingPostFailed, MappingApproved},
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s EnqueueStatus) CanTransitionTo(next EnqueueStatus) bool {
	return contains(enqueueSuccessors[s], next)
}

// Predecessors returns every status from which s may be reached.
func (s EnqueueStatus) Predecessors() []EnqueueStatus {
	var out []EnqueueStatus
	for from := EnqueueNotSent; from <= EnqueueFailed; from++ {
		if from.CanTransitionTo(s) {
			out = append(out, from)
		}
	}
	return out
}

// CanTransitionTo reports whether next is a legal successor of s.
// A same-status update is allowed and treated as an annotation.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	if s == next {
		return true
	}
	return contains(batchSuccessors[s], next)
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s DispatchStatus) CanTransitionTo(next DispatchStatus) bool {
	return contains(dispatchSuccessors[s], next)
}

// Terminal reports whether the dispatch outcome is final.
func (s DispatchStatus) Terminal() bool {
	return s == DispatchSucceeded || s == DispatchFailed || s == DispatchPartiallySucceeded
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s UploadStatus) CanTransitionTo(next UploadStatus) bool {
	return contains(uploadSuccessors[s], next)
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s MappingStatus) CanTransitionTo(next MappingStatus) bool {
	return contains(mappingSuccessors[s], next)
}

// CanTransitionTo reports whether an item result may be set. Results are set once.
func (r ItemResult) CanTransitionTo(next ItemResult) bool {
	return r == ItemUnknown && (next == ItemSuccess || next == ItemFail)
}

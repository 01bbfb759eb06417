package domain

import "testing"

func TestLeaseHolder_RestoreStatus(t *testing.T) {
	tests := []struct {
		holder LeaseHolder
		name   string
		want   EnqueueStatus
	}{
		{HolderSender, "Sender", EnqueueNotSent},
		{HolderRetry, "Retry", EnqueueFailed},
		{HolderRequeue, "Requeue", EnqueueEnqueued},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.holder.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
			if got := tt.holder.RestoreStatus(); got != tt.want {
				t.Errorf("RestoreStatus() = %s, want %s", got, tt.want)
			}
			parsed, ok := ParseLeaseHolder(tt.name)
			if !ok || parsed != tt.holder {
				t.Errorf("ParseLeaseHolder(%q) = %v, %v", tt.name, parsed, ok)
			}
		})
	}
}

func TestRestoreStatusFor_UnknownHolder(t *testing.T) {
	tests := []struct {
		name     string
		lockedBy string
		attempts int
		want     EnqueueStatus
	}{
		{"never attempted", "Scanner", 0, EnqueueNotSent},
		{"attempted before", "Scanner", 2, EnqueueFailed},
		{"empty holder", "", 0, EnqueueNotSent},
		{"case matters", "sender", 1, EnqueueFailed},
		{"known holder ignores attempts", "Sender", 5, EnqueueNotSent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RestoreStatusFor(tt.lockedBy, tt.attempts); got != tt.want {
				t.Errorf("RestoreStatusFor(%q, %d) = %s, want %s", tt.lockedBy, tt.attempts, got, tt.want)
			}
		})
	}
}

func TestLeaseHolder_Valid(t *testing.T) {
	if LeaseHolder(0).Valid() {
		t.Error("zero holder should be invalid")
	}
	if LeaseHolder(0).String() != "" {
		t.Error("zero holder should have no name")
	}
	for _, h := range LeaseHolders() {
		if !h.Valid() {
			t.Errorf("%s should be valid", h)
		}
	}
}

func TestAttachment_ValidateSource(t *testing.T) {
	tests := []struct {
		name    string
		a       Attachment
		wantErr bool
	}{
		{"path", Attachment{SourceType: SourceFilePath, LocationPath: "/x.pdf"}, false},
		{"bytes", Attachment{SourceType: SourceRawBytesInLocation, LocationBytes: []byte{1}}, false},
		{"base64", Attachment{SourceType: SourceBase64InAttachBit, AttachBitBase64: []byte("QQ==")}, false},
		{"none", Attachment{SourceType: SourceFilePath}, true},
		{"two sources", Attachment{SourceType: SourceFilePath, LocationPath: "/x", LocationBytes: []byte{1}}, true},
		{"type mismatch", Attachment{SourceType: SourceBase64InAttachBit, LocationPath: "/x"}, true},
		{"unknown type", Attachment{SourceType: AttachmentSourceType(7), LocationPath: "/x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.a.ValidateSource()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSource() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

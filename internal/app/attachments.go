package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/metrics"
	"github.com/bft-labs/claimship/internal/ports"
)

// UploadOnce uploads the attachments that are due. Each upload is tracked
// through Uploading so a concurrent pass never picks the same row.
func (p *Pipeline) UploadOnce(ctx context.Context) (bool, error) {
	due, err := p.store.ListDueAttachments(ctx, p.now(), p.config().Take)
	if err != nil {
		return false, fmt.Errorf("list due attachments: %w", err)
	}
	if len(due) == 0 {
		return false, nil
	}

	uploaded, failed := 0, 0
	for _, a := range due {
		if ctx.Err() != nil {
			break
		}
		ok, err := p.uploadAttachment(ctx, a)
		if err != nil {
			return true, err
		}
		if ok {
			uploaded++
		} else {
			failed++
		}
	}

	p.report(domain.ProgressReport{
		WorkerID:  WorkerAttachments,
		Message:   fmt.Sprintf("uploaded %d attachments, %d failed", uploaded, failed),
		IsError:   failed > 0 && uploaded == 0,
		Processed: intPtr(uploaded),
		Total:     intPtr(len(due)),
	})
	// A pass where everything failed backs off like an idle pass.
	return uploaded > 0, nil
}

// uploadAttachment returns false when the upload failed and was scheduled
// for retry. Only storage errors are returned.
func (p *Pipeline) uploadAttachment(ctx context.Context, a domain.Attachment) (bool, error) {
	if err := p.store.UpdateUploadStatus(ctx, a.ID, domain.UploadUploading, "", "", p.now(), nil); err != nil {
		return false, fmt.Errorf("mark uploading %s: %w", a.ID, err)
	}

	var url string
	content, err := attachmentContent(a)
	if err == nil {
		url, err = p.uploader.UploadAttachment(ctx, a, content)
	}

	wctx := context.WithoutCancel(ctx)
	now := p.now()
	if err != nil {
		delay := p.policy.NextDelay(a.AttemptCount + 1)
		if serr := p.store.UpdateUploadStatus(wctx, a.ID, domain.UploadFailed, "", err.Error(), now, delay); serr != nil {
			return false, fmt.Errorf("mark upload failed %s: %w", a.ID, serr)
		}
		metrics.AttachmentUploads.WithLabelValues("failed").Inc()
		p.logger.Warn("attachment upload failed",
			ports.String("attachment_id", a.ID),
			ports.Claim(a.Key),
			ports.Bool("retry_scheduled", delay != nil),
			ports.Err(err),
		)
		return false, nil
	}

	if err := p.store.UpdateUploadStatus(wctx, a.ID, domain.UploadUploaded, url, "", now, nil); err != nil {
		return false, fmt.Errorf("mark uploaded %s: %w", a.ID, err)
	}
	metrics.AttachmentUploads.WithLabelValues("uploaded").Inc()
	return true, nil
}

// attachmentContent resolves the single content source of a.
func attachmentContent(a domain.Attachment) ([]byte, error) {
	if err := a.ValidateSource(); err != nil {
		return nil, err
	}
	switch a.SourceType {
	case domain.SourceFilePath:
		b, err := os.ReadFile(a.LocationPath)
		if err != nil {
			return nil, fmt.Errorf("read attachment file: %w", err)
		}
		return b, nil
	case domain.SourceRawBytesInLocation:
		return a.LocationBytes, nil
	default:
		b, err := base64.StdEncoding.DecodeString(string(a.AttachBitBase64))
		if err != nil {
			return nil, fmt.Errorf("decode attachment: %w", err)
		}
		return b, nil
	}
}

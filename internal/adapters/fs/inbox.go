// Package fs provides file system adapters.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/ports"
)

const (
	bundleExt    = ".json"
	processedDir = "processed"
	rejectedDir  = "rejected"
)

// bundleFile is the on-disk shape of one extracted claim bundle.
type bundleFile struct {
	ProviderDhsCode string        `json:"provider_dhs_code"`
	CompanyCode     string        `json:"company_code"`
	MonthKey        string        `json:"month_key"`
	PayerCode       string        `json:"payer_code"`
	Claims          []claimFile   `json:"claims"`
	MissingMappings []mappingFile `json:"missing_mappings"`
}

type claimFile struct {
	ProIdClaim  int64            `json:"pro_id_claim"`
	Payload     json.RawMessage  `json:"payload"`
	Attachments []attachmentFile `json:"attachments"`
}

type attachmentFile struct {
	FileName        string `json:"file_name"`
	ContentType     string `json:"content_type"`
	LocationPath    string `json:"location_path,omitempty"`
	LocationBytes   []byte `json:"location_bytes,omitempty"`
	AttachBitBase64 string `json:"attach_bit_base64,omitempty"`
}

type mappingFile struct {
	CompanyCode   string `json:"company_code"`
	DomainTableID int    `json:"domain_table_id"`
	DomainName    string `json:"domain_name"`
	SourceValue   string `json:"source_value"`
}

// Inbox implements ports.ExtractionSource over a directory of JSON bundle
// files dropped by the provider extraction job. Files are handed out in
// name order. Ack moves a file to processed/; a file that cannot be parsed
// is moved to rejected/ and skipped.
type Inbox struct {
	dir    string
	logger ports.Logger
}

// NewInbox creates an inbox over dir.
func NewInbox(dir string, logger ports.Logger) *Inbox {
	return &Inbox{dir: dir, logger: logger}
}

// Dir returns the watched directory.
func (in *Inbox) Dir() string {
	return in.dir
}

// Next returns the oldest pending bundle or ports.ErrNoBundle.
func (in *Inbox) Next(ctx context.Context) (ports.ClaimBundle, error) {
	names, err := in.pending()
	if err != nil {
		return ports.ClaimBundle{}, err
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return ports.ClaimBundle{}, err
		}
		bundle, err := in.load(name)
		if err == nil {
			return bundle, nil
		}
		in.logger.Warn("rejecting unreadable bundle file",
			ports.String("file", name),
			ports.Err(err),
		)
		if err := in.move(name, rejectedDir); err != nil {
			return ports.ClaimBundle{}, err
		}
	}
	return ports.ClaimBundle{}, ports.ErrNoBundle
}

// Ack moves the bundle file out of the inbox.
func (in *Inbox) Ack(ctx context.Context, bundle ports.ClaimBundle) error {
	if err := in.move(bundle.ID, processedDir); err != nil {
		return err
	}
	in.logger.Debug("bundle acknowledged", ports.String("file", bundle.ID))
	return nil
}

func (in *Inbox) pending() ([]string, error) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), bundleExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (in *Inbox) load(name string) (ports.ClaimBundle, error) {
	data, err := os.ReadFile(filepath.Join(in.dir, name))
	if err != nil {
		return ports.ClaimBundle{}, err
	}
	var f bundleFile
	if err := json.Unmarshal(data, &f); err != nil {
		return ports.ClaimBundle{}, err
	}
	if f.ProviderDhsCode == "" || f.CompanyCode == "" || f.MonthKey == "" {
		return ports.ClaimBundle{}, errors.New("bundle needs provider_dhs_code, company_code and month_key")
	}

	bundle := ports.ClaimBundle{
		ID: name,
		Batch: domain.BatchKey{
			ProviderDhsCode: f.ProviderDhsCode,
			CompanyCode:     f.CompanyCode,
			MonthKey:        f.MonthKey,
		},
		PayerCode: f.PayerCode,
		Claims:    make([]ports.BundleClaim, 0, len(f.Claims)),
	}
	for _, c := range f.Claims {
		bc := ports.BundleClaim{ProIdClaim: c.ProIdClaim, Payload: []byte(c.Payload)}
		for _, a := range c.Attachments {
			bc.Attachments = append(bc.Attachments, a.toDomain())
		}
		bundle.Claims = append(bundle.Claims, bc)
	}
	for _, m := range f.MissingMappings {
		bundle.MissingMappings = append(bundle.MissingMappings, domain.MissingMapping{
			Key: domain.MappingKey{
				ProviderDhsCode: f.ProviderDhsCode,
				CompanyCode:     m.CompanyCode,
				DomainTableID:   m.DomainTableID,
				SourceValue:     m.SourceValue,
			},
			DomainName:      m.DomainName,
			DiscoverySource: domain.DiscoveredByScanner,
		})
	}
	return bundle, nil
}

// toDomain infers the source type from whichever field is set. A file with
// several sources set is passed through and rejected by the store.
func (a attachmentFile) toDomain() domain.Attachment {
	out := domain.Attachment{
		FileName:      a.FileName,
		ContentType:   a.ContentType,
		LocationPath:  a.LocationPath,
		LocationBytes: a.LocationBytes,
	}
	if a.AttachBitBase64 != "" {
		out.AttachBitBase64 = []byte(a.AttachBitBase64)
	}
	switch {
	case a.LocationPath != "":
		out.SourceType = domain.SourceFilePath
	case len(a.LocationBytes) > 0:
		out.SourceType = domain.SourceRawBytesInLocation
	default:
		out.SourceType = domain.SourceBase64InAttachBit
	}
	return out
}

// move renames name into sub atomically. Moving a file that is already
// gone is not an error, so a repeated Ack is harmless.
func (in *Inbox) move(name, sub string) error {
	dst := filepath.Join(in.dir, sub)
	if err := os.MkdirAll(dst, 0o700); err != nil {
		return fmt.Errorf("create %s dir: %w", sub, err)
	}
	err := os.Rename(filepath.Join(in.dir, name), filepath.Join(dst, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("move %s to %s: %w", name, sub, err)
	}
	return nil
}

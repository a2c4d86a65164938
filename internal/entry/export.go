package entry

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"idcollect/internal/audit"
	"idcollect/internal/secrets"
	"idcollect/internal/verifier"
)

// exportColumns are appended after the original uploaded columns.
var exportColumns = []string{
	"status",
	"verification_type",
	"identity_number",
	"verified_at",
	"failure_reason",
	"resend_count",
}

// ExportCSV streams the list as CSV: the original columns in upload order,
// then the verification outcome columns. Identity numbers are decrypted only
// for verified entries; everything else shows the redaction marker or
// nothing. Returns the suggested download filename.
func (s *Service) ExportCSV(ctx context.Context, listID string, w io.Writer, actorID string) (string, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return "", err
	}
	entries, err := s.store.GetEntries(ctx, listID, nil)
	if err != nil {
		return "", err
	}

	cw := csv.NewWriter(w)
	header := append(append([]string{}, list.Columns...), exportColumns...)
	if err := cw.Write(header); err != nil {
		return "", fmt.Errorf("write export header: %w", err)
	}

	for _, e := range entries {
		row := make([]string, 0, len(header))
		for _, col := range list.Columns {
			row = append(row, stringValue(e.Data[col]))
		}
		row = append(row,
			string(e.Status),
			string(e.VerificationType),
			s.exportIdentityNumber(e),
			formatTime(e.VerifiedAt),
			failureReason(e),
			fmt.Sprintf("%d", e.ResendCount),
		)
		if err := cw.Write(row); err != nil {
			return "", fmt.Errorf("write export row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("flush export: %w", err)
	}

	s.auditor.Record(ctx, audit.Event{
		ListID:    listID,
		Action:    audit.ActionExportGenerated,
		ActorType: audit.ActorAdmin,
		ActorID:   actorID,
		Details:   map[string]any{"entries": len(entries)},
	})
	return exportFileName(list, s.now()), nil
}

// exportIdentityNumber decrypts the stored number for verified entries.
// Anything short of verified stays redacted; a decryption failure is
// reported in the cell rather than aborting the whole export.
func (s *Service) exportIdentityNumber(e *Entry) string {
	var stored *secrets.EncryptedValue
	if e.VerificationType == verifier.TypeCAC {
		stored = e.CAC
	} else {
		stored = e.NIN
	}
	if stored == nil {
		return ""
	}
	if e.Status != StatusVerified {
		return secrets.RedactedMarker
	}
	number, err := s.gateway.Decrypt(*stored)
	if err != nil {
		s.logger.Error("failed to decrypt identity number for export",
			"entry_id", e.ID,
			"error", err,
		)
		return "DECRYPTION_ERROR"
	}
	return number
}

func exportFileName(list *List, now time.Time) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, list.Name)
	return fmt.Sprintf("%s-export-%s.csv", name, now.Format("2006-01-02"))
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func failureReason(e *Entry) string {
	if e.Details != nil && e.Details.FailureReason != "" {
		return e.Details.FailureReason
	}
	return e.LastAttemptError
}

// Package filesec validates uploaded files before any processing: size
// ceiling, magic-byte check against the declared type, zip-bomb heuristics
// for archive-backed formats, and an optional host malware scanner.
package filesec

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	apperrors "github.com/deckward/deckward/internal/errors"
)

const (
	// MaxFileSize is the hard upload ceiling.
	MaxFileSize = 10 * 1024 * 1024

	// MaxArchiveUncompressed caps the summed declared entry sizes of an
	// archive. Entries are never extracted during validation.
	MaxArchiveUncompressed = 50 * 1024 * 1024

	// MaxCompressionRatio is the zip-bomb heuristic: legitimate documents
	// rarely compress better than 10:1.
	MaxCompressionRatio = 10

	// RatioCheckFloor exempts archives whose declared uncompressed total is
	// small from the ratio heuristic. Tiny repetitive documents legitimately
	// compress far better than 10:1 and cannot amplify into anything
	// dangerous below this floor.
	RatioCheckFloor = 1 << 20
)

// magicSignatures maps declared types to accepted leading byte sequences.
// Plain-text types carry no signature and always pass.
var magicSignatures = map[string][][]byte{
	"pdf":  {[]byte("%PDF")},
	"docx": {{0x50, 0x4B, 0x03, 0x04}},
	"zip":  {{0x50, 0x4B, 0x03, 0x04}, {0x50, 0x4B, 0x05, 0x06}, {0x50, 0x4B, 0x07, 0x08}},
}

// archiveBacked lists declared types that are zip containers underneath.
var archiveBacked = map[string]bool{
	"docx": true,
	"zip":  true,
}

// Validator composes the individual file checks.
type Validator struct {
	// Scan is the optional malware hook. Nil means no scanner is present
	// on the host, which is a reduced-assurance pass, not an error.
	Scan func(ctx context.Context, data []byte) error
}

// NewValidator returns a validator wired to clamscan when the host has it.
func NewValidator() *Validator {
	v := &Validator{}
	if path, err := exec.LookPath("clamscan"); err == nil {
		v.Scan = clamscanHook(path)
	}
	return v
}

// Validate runs every applicable check for the declared type.
func (v *Validator) Validate(ctx context.Context, data []byte, declaredType string) error {
	if err := ValidateSize(int64(len(data)), MaxFileSize); err != nil {
		return err
	}
	if err := ValidateMagicBytes(data, declaredType); err != nil {
		return err
	}
	if archiveBacked[normalizeType(declaredType)] {
		if err := ValidateArchiveSafety(data); err != nil {
			return err
		}
	}
	if v != nil && v.Scan != nil {
		return v.Scan(ctx, data)
	}
	return nil
}

// ValidateSize rejects content over the limit.
func ValidateSize(size, limit int64) error {
	if size > limit {
		return apperrors.NewOversizedInput(size, limit)
	}
	return nil
}

// ValidateMagicBytes compares the leading bytes against the known signatures
// for the declared type. Types without a signature always pass.
func ValidateMagicBytes(data []byte, declaredType string) error {
	signatures, known := magicSignatures[normalizeType(declaredType)]
	if !known {
		return nil
	}
	for _, signature := range signatures {
		if bytes.HasPrefix(data, signature) {
			return nil
		}
	}
	return apperrors.NewFileSignatureMismatch(declaredType)
}

// ValidateArchiveSafety sums the declared uncompressed entry sizes of a zip
// archive without extracting anything, rejecting oversized or suspiciously
// well-compressed archives.
func ValidateArchiveSafety(data []byte) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return apperrors.NewArchiveUnsafe("content is not a readable archive")
	}

	var uncompressed, compressed uint64
	for _, entry := range reader.File {
		uncompressed += entry.UncompressedSize64
		compressed += entry.CompressedSize64

		if uncompressed > MaxArchiveUncompressed {
			return apperrors.NewArchiveUnsafe(
				fmt.Sprintf("declared uncompressed size exceeds %d bytes", MaxArchiveUncompressed))
		}
	}

	if uncompressed > RatioCheckFloor && compressed > 0 && uncompressed/compressed > MaxCompressionRatio {
		return apperrors.NewArchiveUnsafe(
			fmt.Sprintf("compression ratio exceeds %d:1", MaxCompressionRatio))
	}
	return nil
}

// clamscanHook writes the content to a temp file and runs clamscan on it.
// Exit code 1 means a detection; scanner errors are reported as-is.
func clamscanHook(scannerPath string) func(ctx context.Context, data []byte) error {
	return func(ctx context.Context, data []byte) error {
		tmp, err := os.CreateTemp("", "deckward-scan-*")
		if err != nil {
			return fmt.Errorf("create scan temp file: %w", err)
		}
		defer os.Remove(tmp.Name()) // nolint:errcheck // best-effort cleanup

		if _, err := tmp.Write(data); err != nil {
			tmp.Close() // nolint:errcheck // best-effort cleanup
			return fmt.Errorf("write scan temp file: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("close scan temp file: %w", err)
		}

		cmd := exec.CommandContext(ctx, scannerPath, "--no-summary", tmp.Name())
		if err := cmd.Run(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
				return apperrors.NewUnsafeContent("malware_detected")
			}
			return fmt.Errorf("run malware scan: %w", err)
		}
		return nil
	}
}

func normalizeType(declaredType string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(declaredType), "."))
}

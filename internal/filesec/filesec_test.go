package filesec

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	envelope, ok := err.(*gferrors.ErrorEnvelope)
	require.True(t, ok)
	require.Equal(t, code, envelope.Code)
}

// buildZip writes one stored entry per (name, content) pair.
func buildZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// buildZipWithDeclaredSizes writes raw entries so the declared uncompressed
// size can exceed the bytes actually stored.
func buildZipWithDeclaredSizes(t *testing.T, compressed, declaredUncompressed uint64) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	header := &zip.FileHeader{
		Name:               "payload.bin",
		Method:             zip.Store,
		CompressedSize64:   compressed,
		UncompressedSize64: declaredUncompressed,
	}
	entry, err := w.CreateRaw(header)
	require.NoError(t, err)
	_, err = entry.Write(make([]byte, compressed))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestValidateSize(t *testing.T) {
	require.NoError(t, ValidateSize(MaxFileSize, MaxFileSize))
	requireCode(t, ValidateSize(MaxFileSize+1, MaxFileSize), "OVERSIZED_INPUT")
}

func TestValidateMagicBytes(t *testing.T) {
	require.NoError(t, ValidateMagicBytes([]byte("%PDF-1.7\n..."), "pdf"))
	require.NoError(t, ValidateMagicBytes([]byte{0x50, 0x4B, 0x03, 0x04, 0x00}, "docx"))
	require.NoError(t, ValidateMagicBytes([]byte{0x50, 0x4B, 0x05, 0x06}, "zip"))

	// Plain-text and unknown types have no signature and always pass.
	require.NoError(t, ValidateMagicBytes([]byte("just some notes"), "txt"))
	require.NoError(t, ValidateMagicBytes([]byte("# heading"), "md"))

	requireCode(t, ValidateMagicBytes([]byte("just some notes"), "pdf"), "FILE_SIGNATURE_MISMATCH")
	requireCode(t, ValidateMagicBytes([]byte("%PDF-1.7"), ".docx"), "FILE_SIGNATURE_MISMATCH")
}

func TestValidateArchiveSafety(t *testing.T) {
	// Small repetitive documents compress far better than 10:1 but sit
	// below the ratio floor, so they pass.
	safe := buildZip(t, map[string][]byte{
		"word/document.xml": bytes.Repeat([]byte("content "), 1024),
	})
	require.NoError(t, ValidateArchiveSafety(safe))

	requireCode(t, ValidateArchiveSafety([]byte("not an archive")), "ARCHIVE_UNSAFE")
}

func TestValidateArchiveSafetyRatioFloorStopsApplying(t *testing.T) {
	// The same repetitive content past the floor trips the ratio check.
	big := buildZip(t, map[string][]byte{
		"word/document.xml": bytes.Repeat([]byte("content "), (RatioCheckFloor/8)+1),
	})
	requireCode(t, ValidateArchiveSafety(big), "ARCHIVE_UNSAFE")
}

func TestValidateArchiveSafetyRejectsOversizedDeclaration(t *testing.T) {
	// 64 bytes stored, 60 MB declared. Rejected without extraction.
	bomb := buildZipWithDeclaredSizes(t, 64, 60*1024*1024)
	requireCode(t, ValidateArchiveSafety(bomb), "ARCHIVE_UNSAFE")
}

func TestValidateArchiveSafetyRejectsCompressionRatio(t *testing.T) {
	// 1 MB stored claiming 15 MB uncompressed: ratio 15:1.
	bomb := buildZipWithDeclaredSizes(t, 1024*1024, 15*1024*1024)
	requireCode(t, ValidateArchiveSafety(bomb), "ARCHIVE_UNSAFE")
}

func TestValidateComposition(t *testing.T) {
	ctx := context.Background()
	v := &Validator{}

	docx := buildZip(t, map[string][]byte{"word/document.xml": []byte("<w:document/>")})
	require.NoError(t, v.Validate(ctx, docx, "docx"))

	// Declared docx with pdf bytes fails the signature check before the
	// archive check runs.
	requireCode(t, v.Validate(ctx, []byte("%PDF-1.7"), "docx"), "FILE_SIGNATURE_MISMATCH")

	requireCode(t, v.Validate(ctx, make([]byte, MaxFileSize+1), "txt"), "OVERSIZED_INPUT")
}

func TestValidateInvokesScanHook(t *testing.T) {
	ctx := context.Background()
	scanned := false
	v := &Validator{
		Scan: func(_ context.Context, data []byte) error {
			scanned = true
			require.Equal(t, []byte("plain notes"), data)
			return nil
		},
	}

	require.NoError(t, v.Validate(ctx, []byte("plain notes"), "txt"))
	require.True(t, scanned)
}

package limits

import (
	"errors"
	"testing"
)

// TestEncryptedFrameArithmetic verifies the frame bound is derived from its parts.
func TestEncryptedFrameArithmetic(t *testing.T) {
	if EncryptedHeaderSize != 18 {
		t.Errorf("EncryptedHeaderSize = %d, want 18", EncryptedHeaderSize)
	}
	if MaxEncryptedFrame != 18+65535+16 {
		t.Errorf("MaxEncryptedFrame = %d, want %d", MaxEncryptedFrame, 18+65535+16)
	}
}

func TestValidateMessageSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{"empty", 0, ErrMessageEmpty},
		{"type only", 2, nil},
		{"at limit", MaxMessageSize, nil},
		{"over limit", MaxMessageSize + 1, ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageSize(make([]byte, tt.size))
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRecordSize(t *testing.T) {
	if err := ValidateRecordSize(MaxRecordSize); err != nil {
		t.Errorf("record at limit rejected: %v", err)
	}
	if err := ValidateRecordSize(MaxRecordSize + 1); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("oversized record: got %v", err)
	}
}

package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_KindAndUnwrap(t *testing.T) {
	err := NewError(KindStartFailed, "audio.Start", "", ErrDeviceBusy)
	wrapped := fmt.Errorf("failed to toggle mic: %w", err)

	if !IsKind(wrapped, KindStartFailed) {
		t.Errorf("Expected kind %s, got %s", KindStartFailed, KindOf(wrapped))
	}
	if !errors.Is(wrapped, ErrDeviceBusy) {
		t.Error("Expected wrapped error to match ErrDeviceBusy")
	}
	if !errors.Is(wrapped, &Error{Kind: KindStartFailed}) {
		t.Error("Expected errors.Is to match a bare kind template")
	}
	if errors.Is(wrapped, &Error{Kind: KindStopFailed}) {
		t.Error("Expected errors.Is not to match a different kind")
	}
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "message wins over cause",
			err:  NewError(KindNotSupported, "", "Screen sharing is not supported in this browser", ErrNotSupported),
			want: "NOT_SUPPORTED: Screen sharing is not supported in this browser",
		},
		{
			name: "cause used when no message",
			err:  NewError(KindSendFailed, "coordinator.SendAudio", "", errors.New("broken pipe")),
			want: "coordinator.SendAudio: SEND_FAILED: broken pipe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if KindOf(errors.New("boom")) != KindUnknown {
		t.Error("Expected KindUnknown for plain errors")
	}
	if IsKind(nil, KindUnknown) {
		t.Error("Expected nil error to carry no kind")
	}
}

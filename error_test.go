package ecuflash

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestUnrecoverable(t *testing.T) {
	base := errors.New("port not found")
	err := fmt.Errorf("open: %w", Unrecoverable(base))
	if IsRecoverable(err) {
		t.Error("wrapped unrecoverable error reported as recoverable")
	}
	if !errors.Is(err, base) {
		t.Error("Unrecoverable hides the wrapped error")
	}
	if !IsRecoverable(base) {
		t.Error("plain error reported as unrecoverable")
	}
	if Unrecoverable(nil).Error() != "unrecoverable error" {
		t.Error("nil unrecoverable message")
	}
}

func TestTimeoutError(t *testing.T) {
	err := fmt.Errorf("StartSession: %w", &TimeoutError{Timeout: 1500 * time.Millisecond, Service: 0x10, Type: "response"})
	if !IsTimeout(err) {
		t.Fatal("IsTimeout() = false")
	}
	want := "StartSession: response timeout (1500ms) waiting for response to service 0x10"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if IsTimeout(ErrNoResponse) {
		t.Error("ErrNoResponse reported as timeout")
	}
}

package delivery

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOfClassifiedErrors(t *testing.T) {
	cause := errors.New("boom")

	if k := KindOf(Unreachable(cause)); k != KindUnreachable {
		t.Fatalf("KindOf(Unreachable) = %v", k)
	}
	if k := KindOf(RateLimited(time.Second, cause)); k != KindRateLimited {
		t.Fatalf("KindOf(RateLimited) = %v", k)
	}
	if k := KindOf(AlreadyHandled(cause)); k != KindAlreadyHandled {
		t.Fatalf("KindOf(AlreadyHandled) = %v", k)
	}
	if k := KindOf(cause); k != KindOther {
		t.Fatalf("KindOf(plain error) = %v", k)
	}
	if k := KindOf(nil); k != KindOther {
		t.Fatalf("KindOf(nil) = %v", k)
	}
}

func TestKindOfSeesThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("send to 42: %w", Unreachable(errors.New("blocked")))
	if k := KindOf(wrapped); k != KindUnreachable {
		t.Fatalf("KindOf(wrapped) = %v", k)
	}
}

func TestRetryAfterOf(t *testing.T) {
	if d := RetryAfterOf(RateLimited(3*time.Second, errors.New("429"))); d != 3*time.Second {
		t.Fatalf("RetryAfterOf = %v", d)
	}
	if d := RetryAfterOf(Unreachable(errors.New("blocked"))); d != 0 {
		t.Fatalf("RetryAfterOf(unreachable) = %v", d)
	}
	if d := RetryAfterOf(errors.New("x")); d != 0 {
		t.Fatalf("RetryAfterOf(plain) = %v", d)
	}
}

func TestErrorUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("blocked")
	if !errors.Is(Unreachable(cause), cause) {
		t.Fatal("cause lost through classification")
	}
}

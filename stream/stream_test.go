package stream

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestIsBusyGroup(t *testing.T) {
	if !isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")) {
		t.Fatal("BUSYGROUP reply must be tolerated")
	}
	if isBusyGroup(errors.New("ERR no such key")) {
		t.Fatal("other errors must not be swallowed")
	}
	if isBusyGroup(nil) {
		t.Fatal("nil is not busygroup")
	}
}

func TestConsumerNamesAreUnique(t *testing.T) {
	a := NewGroupConsumer(nil, IngressStream, IngressGroup, nil, zerolog.Nop())
	b := NewGroupConsumer(nil, IngressStream, IngressGroup, nil, zerolog.Nop())
	if a.consumer == b.consumer {
		t.Fatalf("consumer names collide: %q", a.consumer)
	}
	if !strings.HasPrefix(a.consumer, IngressGroup+"-") {
		t.Fatalf("consumer name %q should carry the group prefix", a.consumer)
	}
}

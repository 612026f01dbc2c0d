package logging

import (
	"testing"

	"github.com/sirupsen/logrus"

	"ouroboros/internal/protocol"
)

func TestNewParsesLevel(t *testing.T) {
	if New("debug").Level != logrus.DebugLevel {
		t.Fatal("expected debug level")
	}
	if New("bogus").Level != logrus.InfoLevel {
		t.Fatal("expected unknown level to fall back to info")
	}
}

func TestForProtocolTagsFields(t *testing.T) {
	l := New("info")
	entry := ForBearer(l, nil)
	entry = ForProtocol(entry, protocol.NumChainSync, protocol.RoleInitiator)
	if entry.Data["protocol"] != protocol.NumChainSync {
		t.Fatalf("missing protocol field: %+v", entry.Data)
	}
	if entry.Data["role"] != protocol.RoleInitiator {
		t.Fatalf("missing role field: %+v", entry.Data)
	}
}

package dirstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corvuslabs/magpie"
)

func testMessage(id string) *magpie.Message {
	return &magpie.Message{
		ID: id,
		Envelope: magpie.Envelope{
			From: magpie.Path{Mailbox: magpie.MailboxAddress{LocalPart: "sender", Domain: "example.com"}},
			To: []magpie.Path{
				{Mailbox: magpie.MailboxAddress{LocalPart: "one", Domain: "example.com"}},
				{Mailbox: magpie.MailboxAddress{LocalPart: "two", Domain: "example.com"}},
			},
			BodyType:     magpie.BodyType8BitMIME,
			DeclaredSize: 42,
			UTF8:         true,
			AuthIdentity: "alice",
		},
		Data:           []byte("Subject: test\r\n\r\nbody \xc3\xa9\r\n"),
		ReceivedAt:     time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		ClientHostname: "client.example.com",
		RemoteAddr:     "192.0.2.1:4242",
		TLS:            true,
	}
}

func TestSaveAndLoad(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := testMessage("01HTEST0000000000000000001")
	if err := store.Save(context.Background(), want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(want.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.ID != want.ID {
		t.Errorf("ID = %q, want %q", got.ID, want.ID)
	}
	if got.Envelope.From.String() != want.Envelope.From.String() {
		t.Errorf("From = %s, want %s", got.Envelope.From, want.Envelope.From)
	}
	if len(got.Envelope.To) != 2 ||
		got.Envelope.To[0].String() != "<one@example.com>" ||
		got.Envelope.To[1].String() != "<two@example.com>" {
		t.Errorf("recipients = %v", got.Envelope.To)
	}
	if got.Envelope.BodyType != want.Envelope.BodyType ||
		got.Envelope.DeclaredSize != want.Envelope.DeclaredSize ||
		got.Envelope.UTF8 != want.Envelope.UTF8 ||
		got.Envelope.AuthIdentity != want.Envelope.AuthIdentity {
		t.Errorf("envelope metadata = %+v, want %+v", got.Envelope, want.Envelope)
	}
	if string(got.Data) != string(want.Data) {
		t.Errorf("data = %q, want %q", got.Data, want.Data)
	}
	if !got.ReceivedAt.Equal(want.ReceivedAt) {
		t.Errorf("ReceivedAt = %v, want %v", got.ReceivedAt, want.ReceivedAt)
	}
	if got.ClientHostname != want.ClientHostname || got.RemoteAddr != want.RemoteAddr || !got.TLS {
		t.Errorf("transfer metadata = %+v", got)
	}
}

func TestNullSenderRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	msg := testMessage("01HTEST0000000000000000002")
	msg.Envelope.From = magpie.Path{}
	if err := store.Save(context.Background(), msg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(msg.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Envelope.From.IsNull() {
		t.Errorf("From = %s, want null path", got.Envelope.From)
	}
}

func TestIDs(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	for _, id := range []string{"01B", "01A", "01C"} {
		msg := testMessage(id)
		if err := store.Save(ctx, msg); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}

	ids, err := store.IDs()
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	if len(ids) != 3 || ids[0] != "01A" || ids[1] != "01B" || ids[2] != "01C" {
		t.Errorf("IDs = %v, want sorted [01A 01B 01C]", ids)
	}
}

func TestLoadMissing(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Load("nope"); err == nil {
		t.Error("Load of a missing message should fail")
	}
}

func TestSaveFailureIsTemporary(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir + "/sub")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Point the store at a path that no longer exists.
	store.dir = dir + "/gone"

	err = store.Save(context.Background(), testMessage("01X"))
	var derr *magpie.DeliveryError
	if !errors.As(err, &derr) || !derr.Temporary {
		t.Errorf("Save error = %v, want a temporary DeliveryError", err)
	}
}

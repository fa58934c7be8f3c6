package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/corvuslabs/magpie"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "mail.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testMessage(id string, rcpts ...string) *magpie.Message {
	msg := &magpie.Message{
		ID: id,
		Envelope: magpie.Envelope{
			From: magpie.Path{Mailbox: magpie.MailboxAddress{LocalPart: "sender", Domain: "example.com"}},
		},
		Data:       []byte("body\r\n"),
		ReceivedAt: time.Now(),
	}
	for _, rcpt := range rcpts {
		addr, _ := magpie.ParseAddress(rcpt)
		msg.Envelope.To = append(msg.Envelope.To, magpie.Path{Mailbox: addr})
	}
	return msg
}

func TestSaveAndCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testMessage("01A", "a@example.com")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, testMessage("01B", "b@example.com")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestRecipientOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	msg := testMessage("01C", "third@example.com", "first@example.com", "first@example.com")
	if err := store.Save(ctx, msg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rcpts, err := store.Recipients(ctx, "01C")
	if err != nil {
		t.Fatalf("Recipients: %v", err)
	}
	want := []string{"<third@example.com>", "<first@example.com>", "<first@example.com>"}
	if len(rcpts) != len(want) {
		t.Fatalf("recipients = %v, want %v", rcpts, want)
	}
	for i := range want {
		if rcpts[i] != want[i] {
			t.Errorf("recipients[%d] = %q, want %q", i, rcpts[i], want[i])
		}
	}
}

func TestConcurrentSaves(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('A'+i%26)) + string(rune('0'+i%10))
			errs <- store.Save(ctx, testMessage("01"+id+string(rune('a'+i)), "x@example.com"))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Save: %v", err)
		}
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 20 {
		t.Errorf("Count = %d, want 20", n)
	}
}

func TestDuplicateIDIsTemporaryFailure(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testMessage("01D", "a@example.com")); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	err := store.Save(ctx, testMessage("01D", "a@example.com"))
	if err == nil {
		t.Fatal("duplicate ID accepted")
	}
	var derr *magpie.DeliveryError
	if !errors.As(err, &derr) || !derr.Temporary {
		t.Errorf("Save error = %v, want a temporary DeliveryError", err)
	}
}

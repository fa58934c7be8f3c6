// Package dirstore writes one MessagePack-encoded file per accepted
// message into a directory, named "<ulid>.msg". Files appear atomically:
// each is written to a temp name and renamed into place.
package dirstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tinylib/msgp/msgp"

	"github.com/corvuslabs/magpie"
)

// Store persists messages as files under a directory.
type Store struct {
	dir string
}

// New creates the directory if needed and returns a Store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("dirstore: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Save encodes msg and renames it into place under its message ID.
// Failures come back as transient delivery errors so clients retry.
func (s *Store) Save(_ context.Context, msg *magpie.Message) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return magpie.TemporaryFailure("spool unavailable", err)
	}
	defer os.Remove(tmp.Name())

	writer := msgp.NewWriter(tmp)
	if err := encodeMessage(writer, msg); err != nil {
		tmp.Close()
		return magpie.TemporaryFailure("spool write failed", err)
	}
	if err := writer.Flush(); err != nil {
		tmp.Close()
		return magpie.TemporaryFailure("spool write failed", err)
	}
	if err := tmp.Close(); err != nil {
		return magpie.TemporaryFailure("spool write failed", err)
	}

	if err := os.Rename(tmp.Name(), s.path(msg.ID)); err != nil {
		return magpie.TemporaryFailure("spool write failed", err)
	}
	return nil
}

// Load reads back a stored message by ID.
func (s *Store) Load(id string) (*magpie.Message, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("dirstore: open %s: %w", id, err)
	}
	defer f.Close()

	msg, err := decodeMessage(msgp.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("dirstore: decode %s: %w", id, err)
	}
	return msg, nil
}

// IDs lists the stored message IDs in lexicographic (and therefore
// chronological, ULIDs being sortable) order.
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("dirstore: read %s: %w", s.dir, err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if filepath.Ext(name) == ".msg" {
			ids = append(ids, name[:len(name)-len(".msg")])
		}
	}
	return ids, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".msg")
}

// Fields are written as a fixed-length array in a fixed order; bump this
// when the layout changes.
const encodingVersion = 1

func encodeMessage(w *msgp.Writer, msg *magpie.Message) error {
	if err := w.WriteArrayHeader(13); err != nil {
		return err
	}
	if err := w.WriteInt(encodingVersion); err != nil {
		return err
	}
	if err := w.WriteString(msg.ID); err != nil {
		return err
	}
	if err := w.WriteString(msg.Envelope.From.String()); err != nil {
		return err
	}
	if err := w.WriteArrayHeader(uint32(len(msg.Envelope.To))); err != nil {
		return err
	}
	for _, rcpt := range msg.Envelope.To {
		if err := w.WriteString(rcpt.String()); err != nil {
			return err
		}
	}
	if err := w.WriteString(string(msg.Envelope.BodyType)); err != nil {
		return err
	}
	if err := w.WriteInt64(msg.Envelope.DeclaredSize); err != nil {
		return err
	}
	if err := w.WriteBool(msg.Envelope.UTF8); err != nil {
		return err
	}
	if err := w.WriteString(msg.Envelope.AuthIdentity); err != nil {
		return err
	}
	if err := w.WriteInt64(msg.ReceivedAt.UnixNano()); err != nil {
		return err
	}
	if err := w.WriteString(msg.ClientHostname); err != nil {
		return err
	}
	if err := w.WriteString(msg.RemoteAddr); err != nil {
		return err
	}
	if err := w.WriteBool(msg.TLS); err != nil {
		return err
	}
	return w.WriteBytes(msg.Data)
}

func decodeMessage(r *msgp.Reader) (*magpie.Message, error) {
	if _, err := r.ReadArrayHeader(); err != nil {
		return nil, err
	}
	version, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	if version != encodingVersion {
		return nil, fmt.Errorf("unsupported encoding version %d", version)
	}

	msg := &magpie.Message{}
	if msg.ID, err = r.ReadString(); err != nil {
		return nil, err
	}

	from, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	if msg.Envelope.From, err = parsePath(from); err != nil {
		return nil, err
	}

	nrcpts, err := r.ReadArrayHeader()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nrcpts; i++ {
		raw, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		rcpt, err := parsePath(raw)
		if err != nil {
			return nil, err
		}
		msg.Envelope.To = append(msg.Envelope.To, rcpt)
	}

	bodyType, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	msg.Envelope.BodyType = magpie.BodyType(bodyType)

	if msg.Envelope.DeclaredSize, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if msg.Envelope.UTF8, err = r.ReadBool(); err != nil {
		return nil, err
	}
	if msg.Envelope.AuthIdentity, err = r.ReadString(); err != nil {
		return nil, err
	}

	nanos, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	msg.ReceivedAt = time.Unix(0, nanos).UTC()

	if msg.ClientHostname, err = r.ReadString(); err != nil {
		return nil, err
	}
	if msg.RemoteAddr, err = r.ReadString(); err != nil {
		return nil, err
	}
	if msg.TLS, err = r.ReadBool(); err != nil {
		return nil, err
	}
	if msg.Data, err = r.ReadBytes(nil); err != nil {
		return nil, err
	}
	return msg, nil
}

// parsePath reverses Path.String: "<>" is the null path, otherwise the
// address sits inside angle brackets.
func parsePath(raw string) (magpie.Path, error) {
	if raw == "<>" {
		return magpie.Path{}, nil
	}
	if len(raw) < 2 || raw[0] != '<' || raw[len(raw)-1] != '>' {
		return magpie.Path{}, fmt.Errorf("malformed path %q", raw)
	}
	mailbox, err := magpie.ParseAddress(raw[1 : len(raw)-1])
	if err != nil {
		return magpie.Path{}, fmt.Errorf("malformed path %q: %w", raw, err)
	}
	return magpie.Path{Mailbox: mailbox}, nil
}

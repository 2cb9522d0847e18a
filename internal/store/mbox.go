package store

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// ExportMbox writes every stored message of mailbox to out as an mbox
// stream, in ascending sequence order. It returns the number of messages
// written.
func ExportMbox(b Backend, mailbox string, out io.Writer) (int, error) {
	names, err := b.List(mailbox)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", mailbox, err)
	}
	type entry struct {
		seq  uint32
		name string
	}
	var entries []entry
	for _, n := range names {
		if seq, ok := ParseSeq(n); ok {
			entries = append(entries, entry{seq, n})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	mw := mbox.NewWriter(out)
	for i, e := range entries {
		data, err := b.Get(mailbox, e.name)
		if err != nil {
			return i, fmt.Errorf("read %s: %w", e.name, err)
		}
		from, date := envelopeOf(data)
		w, err := mw.CreateMessage(from, date)
		if err != nil {
			return i, err
		}
		if _, err := w.Write(data); err != nil {
			return i, err
		}
	}
	if err := mw.Close(); err != nil {
		return len(entries), err
	}
	return len(entries), nil
}

// envelopeOf picks the mbox "From " line sender and date out of the header.
func envelopeOf(data []byte) (string, time.Time) {
	from, date := "MAILER-DAEMON", time.Unix(0, 0).UTC()
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(data)))
	if err != nil {
		return from, date
	}
	mh := mail.Header{Header: message.Header{Header: h}}
	if addrs, err := mh.AddressList("From"); err == nil && len(addrs) > 0 && addrs[0].Address != "" {
		from = addrs[0].Address
	}
	if t, err := mh.Date(); err == nil && !t.IsZero() {
		date = t
	}
	return from, date
}

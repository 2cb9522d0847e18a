// Package fetcher issues one fetch per batch and turns the reply into one
// parsed message per requested sequence number. A batch either decodes
// completely or fails as a unit.
package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"fmt"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/pepperpark/imaparchive/internal/mailerr"
	"github.com/pepperpark/imaparchive/internal/session"
)

// RawFetcher is the part of a session the fetcher needs.
type RawFetcher interface {
	FetchRaw(ctx context.Context, seqs []uint32) (*session.RawBatch, error)
}

// ParsedMessage is a raw message plus the two header values used for
// naming. Subject and From are nil when the header is absent.
type ParsedMessage struct {
	Raw     []byte
	Subject *string
	From    *string
}

// Item pairs a message with the sequence number it was requested under.
type Item struct {
	SeqNum uint32
	Msg    *ParsedMessage
}

type Fetcher struct {
	src RawFetcher
}

func New(src RawFetcher) *Fetcher {
	return &Fetcher{src: src}
}

// Fetch retrieves batch and returns its messages in request order.
func (f *Fetcher) Fetch(ctx context.Context, batch []uint32) ([]Item, error) {
	raw, err := f.src.FetchRaw(ctx, batch)
	if err != nil {
		return nil, err
	}
	return Decode(batch, raw)
}

// Decode drops empty artifacts from raw and pairs the remaining payloads
// 1:1 with batch.
func Decode(batch []uint32, raw *session.RawBatch) ([]Item, error) {
	fail := func(reason string, err error) error {
		return &mailerr.DecodeError{Seqs: batch, Reason: reason, Err: err}
	}
	if raw == nil {
		return nil, fail("empty response", nil)
	}
	want := make(map[uint32]bool, len(batch))
	for _, seq := range batch {
		want[seq] = true
	}
	bySeq := make(map[uint32][]byte, len(batch))
	n := 0
	for _, c := range raw.Chunks {
		if len(c.Body) == 0 {
			continue
		}
		n++
		if !want[c.SeqNum] {
			return nil, fail(fmt.Sprintf("unexpected message %d in response", c.SeqNum), nil)
		}
		if _, dup := bySeq[c.SeqNum]; dup {
			return nil, fail(fmt.Sprintf("message %d returned twice", c.SeqNum), nil)
		}
		bySeq[c.SeqNum] = c.Body
	}
	if n != len(batch) {
		return nil, fail(fmt.Sprintf("got %d payloads for %d requested", n, len(batch)), nil)
	}

	items := make([]Item, 0, len(batch))
	for _, seq := range batch {
		msg, err := Parse(bySeq[seq])
		if err != nil {
			return nil, fail(fmt.Sprintf("message %d malformed", seq), err)
		}
		items = append(items, Item{SeqNum: seq, Msg: msg})
	}
	return items, nil
}

// Parse reads the header block of raw and extracts Subject and From,
// decoding RFC 2047 encoded words. A value that fails to decode is kept as
// it appeared on the wire.
func Parse(raw []byte) (*ParsedMessage, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, err
	}
	mh := mail.Header{Header: message.Header{Header: h}}
	return &ParsedMessage{
		Raw:     raw,
		Subject: headerText(mh, "Subject"),
		From:    headerText(mh, "From"),
	}, nil
}

func headerText(h mail.Header, key string) *string {
	if !h.Has(key) {
		return nil
	}
	v, err := h.Text(key)
	if err != nil {
		v = h.Get(key)
	}
	return &v
}
